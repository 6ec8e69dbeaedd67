package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fake Phoenix server ----------------------------------------------------

type serverConn struct {
	ws  *websocket.Conn
	wmu sync.Mutex
}

func (sc *serverConn) send(t *testing.T, topic, event string, payload any) {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	sc.wmu.Lock()
	defer sc.wmu.Unlock()
	_ = sc.ws.WriteJSON(message{Topic: topic, Event: event, Payload: body})
}

func (sc *serverConn) reply(m message, status string, response any) {
	body, _ := json.Marshal(map[string]any{"status": status, "response": response})
	sc.wmu.Lock()
	defer sc.wmu.Unlock()
	_ = sc.ws.WriteJSON(message{Topic: m.Topic, Event: phxReply, Payload: body, Ref: m.Ref})
}

type fakePhoenix struct {
	srv    *httptest.Server
	reject map[string]bool
	conns  chan *serverConn
	joins  chan joinPayload
	leaves chan string
}

func newFakePhoenix(t *testing.T, reject ...string) *fakePhoenix {
	t.Helper()
	f := &fakePhoenix{
		reject: map[string]bool{},
		conns:  make(chan *serverConn, 8),
		joins:  make(chan joinPayload, 8),
		leaves: make(chan string, 8),
	}
	for _, r := range reject {
		f.reject[r] = true
	}
	up := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sc := &serverConn{ws: ws}
		f.conns <- sc
		for {
			var m message
			if err := ws.ReadJSON(&m); err != nil {
				return
			}
			switch m.Event {
			case phxJoin:
				var p joinPayload
				_ = json.Unmarshal(m.Payload, &p)
				f.joins <- p
				rejected := false
				for _, pc := range p.Config.PostgresChanges {
					if f.reject[pc.Table] {
						rejected = true
					}
				}
				if rejected {
					sc.reply(m, "error", map[string]string{"reason": "Unauthorized"})
				} else {
					sc.reply(m, "ok", map[string]any{})
				}
			case phxHeartbeat, phxLeave:
				if m.Event == phxLeave {
					f.leaves <- m.Topic
				}
				sc.reply(m, "ok", map[string]any{})
			}
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakePhoenix) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/realtime/v1/websocket?apikey=anon&vsn=1.0.0"
}

func (f *fakePhoenix) nextConn(t *testing.T) *serverConn {
	t.Helper()
	select {
	case sc := <-f.conns:
		return sc
	case <-time.After(2 * time.Second):
		t.Fatal("no connection")
		return nil
	}
}

func startConn(t *testing.T, f *fakePhoenix, rc Reconnect) (*Conn, context.CancelFunc) {
	t.Helper()
	c := NewConn(ConnOptions{
		URL:       f.url(),
		Token:     func() string { return "service-token" },
		Heartbeat: time.Second,
		Reconnect: rc,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c, cancel
}

var fastReconnect = Reconnect{Enabled: true, Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond, Multiplier: 2}

func recv(t *testing.T, ch Channel) Change {
	t.Helper()
	select {
	case c := <-ch.Events():
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no change received")
		return Change{}
	}
}

// --- Conn -------------------------------------------------------------------

func TestConn_JoinAndReceiveChange(t *testing.T) {
	f := newFakePhoenix(t)
	c, _ := startConn(t, f, fastReconnect)
	ctx := context.Background()

	ch, err := c.Join(ctx, "admin", []string{"trips", "public.jet_bookings"})
	require.NoError(t, err)
	assert.True(t, c.Connected())

	join := <-f.joins
	assert.Equal(t, "service-token", join.AccessToken)
	require.Len(t, join.Config.PostgresChanges, 2)
	assert.Equal(t, changeFilter{Event: "*", Schema: "public", Table: "trips"}, join.Config.PostgresChanges[0])
	assert.Equal(t, "jet_bookings", join.Config.PostgresChanges[1].Table)

	sc := f.nextConn(t)
	sc.send(t, "realtime:admin", phxChanges, map[string]any{
		"data": map[string]any{
			"schema":           "public",
			"table":            "trips",
			"commit_timestamp": "2025-03-01T10:00:00Z",
			"type":             "insert",
			"record":           map[string]any{"id": "t1"},
		},
	})

	got := recv(t, ch)
	assert.Equal(t, "trips", got.Topic)
	assert.Equal(t, Insert, got.Type)
	assert.Equal(t, "t1", got.Record["id"])
	assert.Equal(t, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC), got.At.UTC())
}

func TestConn_JoinRejected(t *testing.T) {
	f := newFakePhoenix(t, "payouts")
	c, _ := startConn(t, f, fastReconnect)

	_, err := c.Join(context.Background(), "admin", []string{"payouts"})
	var jerr *JoinError
	require.ErrorAs(t, err, &jerr)
	assert.Equal(t, "realtime:admin", jerr.Topic)
	assert.Equal(t, "Unauthorized", jerr.Reason)

	// the name is free again after a rejected join
	_, err = c.Join(context.Background(), "admin", []string{"trips"})
	assert.NoError(t, err)
}

func TestConn_DuplicateChannel(t *testing.T) {
	f := newFakePhoenix(t)
	c, _ := startConn(t, f, fastReconnect)

	_, err := c.Join(context.Background(), "admin", []string{"trips"})
	require.NoError(t, err)
	_, err = c.Join(context.Background(), "admin", []string{"cars"})
	assert.ErrorIs(t, err, ErrDuplicateChannel)
}

func TestConn_ReconnectRejoinsAndResyncs(t *testing.T) {
	f := newFakePhoenix(t)
	c, _ := startConn(t, f, fastReconnect)

	ch, err := c.Join(context.Background(), "admin", []string{"trips"})
	require.NoError(t, err)
	<-f.joins

	first := f.nextConn(t)
	first.ws.Close()

	f.nextConn(t)
	select {
	case p := <-f.joins:
		assert.Equal(t, "trips", p.Config.PostgresChanges[0].Table)
	case <-time.After(2 * time.Second):
		t.Fatal("channel was not rejoined")
	}

	got := recv(t, ch)
	assert.Equal(t, Resync, got.Type)
	assert.Empty(t, got.Topic)
	assert.Equal(t, int64(1), c.Reconnects())
}

func TestConn_LeaveSendsPhxLeave(t *testing.T) {
	f := newFakePhoenix(t)
	c, _ := startConn(t, f, fastReconnect)

	ch, err := c.Join(context.Background(), "admin", []string{"trips"})
	require.NoError(t, err)

	require.NoError(t, ch.Leave(context.Background()))
	select {
	case topic := <-f.leaves:
		assert.Equal(t, "realtime:admin", topic)
	case <-time.After(2 * time.Second):
		t.Fatal("phx_leave not sent")
	}
	select {
	case <-ch.Done():
	default:
		t.Error("Done not closed after Leave")
	}
	assert.NoError(t, ch.Leave(context.Background()), "second Leave")
}

func TestConn_NoReconnectEndsChannels(t *testing.T) {
	f := newFakePhoenix(t)
	c, _ := startConn(t, f, Reconnect{Enabled: false})

	ch, err := c.Join(context.Background(), "admin", []string{"trips"})
	require.NoError(t, err)

	f.nextConn(t).ws.Close()

	select {
	case <-ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("channel not ended after connection loss")
	}
	_, err = c.Join(context.Background(), "again", []string{"trips"})
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, c.Connected())
}

func TestConn_JoinHonoursContext(t *testing.T) {
	c := NewConn(ConnOptions{URL: "ws://127.0.0.1:1/none"})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Join(ctx, "admin", []string{"trips"})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "wss://x/realtime/v1/websocket", redactURL("wss://x/realtime/v1/websocket?apikey=secret"))
}

// --- backoff ----------------------------------------------------------------

func TestBackoff_Resets(t *testing.T) {
	b := NewBackoff(DefaultReconnect)
	first := b.Next()
	if first > 2*time.Second {
		t.Errorf("first backoff too large: %v", first)
	}
	for i := 0; i < 5; i++ {
		b.Next()
	}
	b.Reset()
	if after := b.Next(); after > 2*time.Second {
		t.Errorf("backoff after reset too large: %v", after)
	}
}

func TestBackoff_NeverExceedsMax(t *testing.T) {
	b := NewBackoff(DefaultReconnect)
	for i := 0; i < 20; i++ {
		// jitter allows up to 1.25x max
		if d := b.Next(); d > DefaultReconnect.Max*5/4 {
			t.Errorf("backoff[%d] = %v, exceeds 1.25x max", i, d)
		}
	}
}

func TestBackoff_SanitisesPolicy(t *testing.T) {
	b := NewBackoff(Reconnect{})
	if b.policy.Initial != DefaultReconnect.Initial {
		t.Errorf("initial: got %v, want %v", b.policy.Initial, DefaultReconnect.Initial)
	}
	if b.policy.Multiplier != DefaultReconnect.Multiplier {
		t.Errorf("multiplier: got %v", b.policy.Multiplier)
	}
}
