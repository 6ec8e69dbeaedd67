package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skyway/adminboard/server/internal/cache"
	wsHub "github.com/skyway/adminboard/server/internal/ws"
)

const testInterval = 20 * time.Millisecond

// --- helpers ----------------------------------------------------------------

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// startHub starts a test HTTP server with the hub as its handler.
// up controls what the hub reports as the transport status.
func startHub(t *testing.T, up *atomic.Bool) (wsURL string, hub *wsHub.Hub, cancel func()) {
	t.Helper()

	hub = wsHub.New(up.Load, testInterval)
	ctx, cancelFn := context.WithCancel(context.Background())

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	go hub.Run(ctx)

	t.Cleanup(func() {
		cancelFn()
		srv.Close()
	})

	wsURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	return wsURL, hub, cancelFn
}

// dial connects a WebSocket client to wsURL and returns the connection.
func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readMessage reads one envelope from conn with a short deadline.
func readMessage(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var e envelope
	if err := json.Unmarshal(msg, &e); err != nil {
		t.Fatalf("unmarshal %s: %v", msg, err)
	}
	return e
}

func readStatus(t *testing.T, e envelope) wsHub.Status {
	t.Helper()
	var s wsHub.Status
	if err := json.Unmarshal(e.Data, &s); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	return s
}

func waitCount(t *testing.T, hub *wsHub.Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.Count() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Count: got %d, want %d", hub.Count(), want)
}

// --- tests ------------------------------------------------------------------

func TestHub_Connect_ReceivesHello(t *testing.T) {
	var up atomic.Bool
	up.Store(true)
	wsURL, _, _ := startHub(t, &up)

	m := readMessage(t, dial(t, wsURL))
	if m.Event != wsHub.EventHello {
		t.Errorf("event: got %q, want hello", m.Event)
	}
	if s := readStatus(t, m); !s.Connected {
		t.Error("connected: got false, want true")
	}
}

func TestHub_Notify_BroadcastsKeys(t *testing.T) {
	var up atomic.Bool
	wsURL, hub, _ := startHub(t, &up)

	conn := dial(t, wsURL)
	readMessage(t, conn) // hello
	waitCount(t, hub, 1)

	hub.Notify([]cache.Key{{"drivers"}, {"jets", "basic"}})

	m := readMessage(t, conn)
	if m.Event != wsHub.EventInvalidate {
		t.Fatalf("event: got %q, want invalidate", m.Event)
	}
	var inv wsHub.Invalidation
	if err := json.Unmarshal(m.Data, &inv); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(inv.Keys) != 2 {
		t.Fatalf("keys: got %d, want 2", len(inv.Keys))
	}
	if got := inv.Keys[1].String(); got != `["jets","basic"]` {
		t.Errorf("keys[1]: got %s, want [\"jets\",\"basic\"]", got)
	}
}

func TestHub_Notify_EmptyBatchDropped(t *testing.T) {
	var up atomic.Bool
	_, hub, _ := startHub(t, &up)

	hub.Notify(nil)
	if n := hub.Broadcasts(); n != 0 {
		t.Errorf("Broadcasts: got %d, want 0", n)
	}
}

func TestHub_CacheListenerWiring(t *testing.T) {
	var up atomic.Bool
	wsURL, hub, _ := startHub(t, &up)

	c := cache.NewClient(cache.NewMemoryStore(0))
	c.OnInvalidate(hub.Notify)
	ctx := context.Background()
	if _, err := cache.Fetch(ctx, c, cache.Key{"trips"}, func(context.Context) (int, error) { return 1, nil }); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	conn := dial(t, wsURL)
	readMessage(t, conn)
	waitCount(t, hub, 1)

	c.Invalidate(ctx, cache.Key{"trips"}, cache.Key{"absent"})

	m := readMessage(t, conn)
	var inv wsHub.Invalidation
	json.Unmarshal(m.Data, &inv) //nolint:errcheck
	if len(inv.Keys) != 1 || inv.Keys[0].String() != `["trips"]` {
		t.Errorf("keys: got %v, want [[trips]]", inv.Keys)
	}
}

func TestHub_StatusChangeBroadcast(t *testing.T) {
	var up atomic.Bool
	wsURL, hub, _ := startHub(t, &up)

	conn := dial(t, wsURL)
	if s := readStatus(t, readMessage(t, conn)); s.Connected {
		t.Error("hello connected: got true, want false")
	}
	waitCount(t, hub, 1)

	up.Store(true)

	m := readMessage(t, conn)
	if m.Event != wsHub.EventStatus {
		t.Fatalf("event: got %q, want status", m.Event)
	}
	if s := readStatus(t, m); !s.Connected {
		t.Error("status connected: got false, want true")
	}
}

func TestHub_AllClientsReceiveBroadcast(t *testing.T) {
	var up atomic.Bool
	wsURL, hub, _ := startHub(t, &up)

	conns := make([]*websocket.Conn, 3)
	for i := range conns {
		conns[i] = dial(t, wsURL)
		readMessage(t, conns[i])
	}
	waitCount(t, hub, 3)

	hub.Notify([]cache.Key{{"payouts"}})

	for i, conn := range conns {
		if m := readMessage(t, conn); m.Event != wsHub.EventInvalidate {
			t.Errorf("client %d: event: got %q, want invalidate", i, m.Event)
		}
	}
}

func TestHub_CountClients_DecreasesOnDisconnect(t *testing.T) {
	var up atomic.Bool
	wsURL, hub, _ := startHub(t, &up)

	conn := dial(t, wsURL)
	readMessage(t, conn)
	waitCount(t, hub, 1)

	conn.Close()
	waitCount(t, hub, 0)
}

func TestHub_CancelContextClosesConnections(t *testing.T) {
	var up atomic.Bool
	wsURL, hub, cancel := startHub(t, &up)

	conn := dial(t, wsURL)
	readMessage(t, conn)
	waitCount(t, hub, 1)

	cancel()
	waitCount(t, hub, 0)
}

func TestHub_NilConnectedReportsDown(t *testing.T) {
	hub := wsHub.New(nil, testInterval)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http"))
	if s := readStatus(t, readMessage(t, conn)); s.Connected {
		t.Error("connected: got true, want false")
	}
}

func TestHub_NonWebSocketRequest_Returns400(t *testing.T) {
	hub := wsHub.New(nil, testInterval)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
}
