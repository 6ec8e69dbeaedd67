package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	phxJoin      = "phx_join"
	phxLeave     = "phx_leave"
	phxReply     = "phx_reply"
	phxError     = "phx_error"
	phxClose     = "phx_close"
	phxHeartbeat = "heartbeat"
	phxChanges   = "postgres_changes"
	phxTopic     = "phoenix"

	topicPrefix = "realtime:"

	joinTimeout   = 10 * time.Second
	writeWait     = 10 * time.Second
	eventBuffer   = 64
	defaultSchema = "public"
	defaultBeat   = 25 * time.Second
)

// ErrNotConnected is returned when a message is sent while the socket is down.
var ErrNotConnected = errors.New("realtime: not connected")

// JoinError is the remote's rejection of a channel join.
type JoinError struct {
	Topic  string
	Reason string
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("realtime: join %s rejected: %s", e.Topic, e.Reason)
}

// message is one Phoenix frame (serializer 1.0.0).
type message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
}

type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type changePayload struct {
	Data struct {
		Schema          string         `json:"schema"`
		Table           string         `json:"table"`
		CommitTimestamp time.Time      `json:"commit_timestamp"`
		Type            string         `json:"type"`
		Record          map[string]any `json:"record"`
		OldRecord       map[string]any `json:"old_record"`
	} `json:"data"`
}

type changeFilter struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
}

type joinPayload struct {
	Config struct {
		Broadcast struct {
			Self bool `json:"self"`
		} `json:"broadcast"`
		Presence struct {
			Key string `json:"key"`
		} `json:"presence"`
		PostgresChanges []changeFilter `json:"postgres_changes"`
	} `json:"config"`
	AccessToken string `json:"access_token,omitempty"`
}

// dialFunc opens the websocket. Abstracted so tests can point it anywhere.
type dialFunc func(ctx context.Context, url string) (*websocket.Conn, error)

func defaultDial(ctx context.Context, url string) (*websocket.Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	return ws, err
}

// ConnOptions configures a Conn.
type ConnOptions struct {
	// URL is the realtime websocket endpoint including apikey and vsn.
	URL string

	// Token returns the access token sent with each join. Nil sends none.
	Token func() string

	// Heartbeat is the interval between heartbeats. A missed reply by the
	// next beat drops the connection.
	Heartbeat time.Duration

	Reconnect Reconnect
}

// Conn is a Source over one Phoenix websocket. Run must be called in a
// goroutine; Join waits for the socket to come up.
type Conn struct {
	opts   ConnOptions
	dialFn dialFunc

	ref atomic.Uint64

	mu       sync.Mutex
	ws       *websocket.Conn
	up       chan struct{} // closed while connected
	channels map[string]*channel
	pending  map[string]chan replyPayload

	wmu sync.Mutex

	dead     chan struct{} // closed when Run returns
	deadOnce sync.Once

	connected  atomic.Bool
	reconnects atomic.Int64
}

var _ Source = (*Conn)(nil)

// NewConn creates a Conn. It does not dial until Run is called.
func NewConn(opts ConnOptions) *Conn {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = defaultBeat
	}
	return &Conn{
		opts:     opts,
		dialFn:   defaultDial,
		up:       make(chan struct{}),
		channels: make(map[string]*channel),
		pending:  make(map[string]chan replyPayload),
		dead:     make(chan struct{}),
	}
}

// Connected reports whether the socket is currently up.
func (c *Conn) Connected() bool { return c.connected.Load() }

// Reconnects returns how many times the socket has been re-established.
func (c *Conn) Reconnects() int64 { return c.reconnects.Load() }

// Run dials the socket and keeps it up until ctx is cancelled. With
// reconnection disabled Run returns after the first failure.
func (c *Conn) Run(ctx context.Context) {
	defer c.shutdown()
	bo := NewBackoff(c.opts.Reconnect)
	first := true

	for {
		if ctx.Err() != nil {
			return
		}

		ws, err := c.dialFn(ctx, c.opts.URL)
		if err == nil {
			slog.Info("realtime: connected", "url", redactURL(c.opts.URL))
			bo.Reset()
			if !first {
				c.reconnects.Add(1)
			}
			err = c.serve(ctx, ws, !first)
			first = false
			if ctx.Err() != nil {
				return
			}
		}

		if !c.opts.Reconnect.Enabled {
			slog.Error("realtime: connection ended, reconnect disabled", "err", err)
			return
		}
		wait := bo.Next()
		slog.Warn("realtime: connection lost, will reconnect", "err", err, "retry_in", wait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// serve runs one connected session until the socket fails or ctx ends.
func (c *Conn) serve(ctx context.Context, ws *websocket.Conn, rejoin bool) error {
	c.mu.Lock()
	c.ws = ws
	var toRejoin []*channel
	for _, ch := range c.channels {
		if ch.joined {
			toRejoin = append(toRejoin, ch)
		}
	}
	close(c.up)
	c.mu.Unlock()
	c.connected.Store(true)

	readErr := make(chan error, 1)
	go func() { readErr <- c.readLoop(ws) }()

	defer func() {
		c.connected.Store(false)
		ws.Close()
		c.mu.Lock()
		c.ws = nil
		c.up = make(chan struct{})
		for ref, p := range c.pending {
			close(p)
			delete(c.pending, ref)
		}
		c.mu.Unlock()
	}()

	if rejoin {
		for _, ch := range toRejoin {
			go func(ch *channel) {
				err := c.join(ctx, ch)
				var jerr *JoinError
				switch {
				case err == nil:
				case errors.Is(err, ErrNotConnected):
					return
				case errors.As(err, &jerr):
					slog.Error("realtime: rejoin rejected, dropping channel", "topic", ch.topic, "reason", jerr.Reason)
					c.forget(ch)
					return
				default:
					slog.Warn("realtime: rejoin failed", "topic", ch.topic, "err", err)
					c.closeSocket(ws)
					return
				}
				slog.Info("realtime: rejoined", "topic", ch.topic)
				ch.deliver(Change{Type: Resync, At: time.Now().UTC()})
			}(ch)
		}
	}

	t := time.NewTicker(c.opts.Heartbeat)
	defer t.Stop()
	var beat chan replyPayload

	for {
		select {
		case <-ctx.Done():
			ws.Close()
			<-readErr
			return nil
		case err := <-readErr:
			return err
		case <-t.C:
			if beat != nil {
				select {
				case <-beat:
				default:
					ws.Close()
					<-readErr
					return errors.New("realtime: heartbeat timeout")
				}
			}
			var err error
			beat, err = c.push(phxTopic, phxHeartbeat, struct{}{})
			if err != nil {
				ws.Close()
				<-readErr
				return err
			}
		}
	}
}

// closeSocket closes ws if it is still the live socket.
func (c *Conn) closeSocket(ws *websocket.Conn) {
	c.mu.Lock()
	live := c.ws == ws
	c.mu.Unlock()
	if live {
		ws.Close()
	}
}

func (c *Conn) shutdown() {
	c.deadOnce.Do(func() {
		close(c.dead)
		c.mu.Lock()
		chs := make([]*channel, 0, len(c.channels))
		for _, ch := range c.channels {
			chs = append(chs, ch)
		}
		c.channels = make(map[string]*channel)
		c.mu.Unlock()
		for _, ch := range chs {
			ch.end()
		}
	})
}

func (c *Conn) readLoop(ws *websocket.Conn) error {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		var m message
		if err := json.Unmarshal(data, &m); err != nil {
			slog.Warn("realtime: undecodable frame", "err", err)
			continue
		}
		if err := c.route(m); err != nil {
			return err
		}
	}
}

func (c *Conn) route(m message) error {
	switch m.Event {
	case phxReply:
		if m.Ref == nil {
			return nil
		}
		var r replyPayload
		_ = json.Unmarshal(m.Payload, &r)
		c.mu.Lock()
		p, ok := c.pending[*m.Ref]
		delete(c.pending, *m.Ref)
		c.mu.Unlock()
		if ok {
			p <- r
		}

	case phxChanges:
		var p changePayload
		if err := json.Unmarshal(m.Payload, &p); err != nil {
			slog.Warn("realtime: bad change payload", "topic", m.Topic, "err", err)
			return nil
		}
		c.mu.Lock()
		ch := c.channels[m.Topic]
		c.mu.Unlock()
		if ch == nil {
			return nil
		}
		at := p.Data.CommitTimestamp
		if at.IsZero() {
			at = time.Now().UTC()
		}
		ch.deliver(Change{
			Topic:     p.Data.Table,
			Type:      ChangeType(strings.ToUpper(p.Data.Type)),
			Record:    p.Data.Record,
			OldRecord: p.Data.OldRecord,
			At:        at,
		})

	case phxError:
		c.mu.Lock()
		_, ours := c.channels[m.Topic]
		c.mu.Unlock()
		if ours {
			return fmt.Errorf("realtime: channel %s errored", m.Topic)
		}

	case phxClose:
		slog.Debug("realtime: channel closed", "topic", m.Topic)
	}
	return nil
}

// push sends one frame and returns the channel its reply arrives on. The
// reply channel is closed without a value if the socket drops first.
func (c *Conn) push(topic, event string, payload any) (chan replyPayload, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	ref := strconv.FormatUint(c.ref.Add(1), 10)
	reply := make(chan replyPayload, 1)

	c.mu.Lock()
	ws := c.ws
	if ws == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.pending[ref] = reply
	c.mu.Unlock()

	c.wmu.Lock()
	defer c.wmu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteJSON(message{Topic: topic, Event: event, Payload: body, Ref: &ref}); err != nil {
		c.mu.Lock()
		delete(c.pending, ref)
		c.mu.Unlock()
		return nil, fmt.Errorf("realtime: write %s: %w", event, err)
	}
	return reply, nil
}

// request pushes a frame and waits for an ok reply.
func (c *Conn) request(ctx context.Context, topic, event string, payload any) error {
	reply, err := c.push(topic, event, payload)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, joinTimeout)
	defer cancel()
	select {
	case <-ctx.Done():
		return fmt.Errorf("realtime: %s %s: %w", event, topic, ctx.Err())
	case r, ok := <-reply:
		if !ok {
			return ErrNotConnected
		}
		if r.Status != "ok" {
			reason := strings.Trim(string(r.Response), `"`)
			var body struct {
				Reason string `json:"reason"`
			}
			if json.Unmarshal(r.Response, &body) == nil && body.Reason != "" {
				reason = body.Reason
			}
			return &JoinError{Topic: topic, Reason: reason}
		}
		return nil
	}
}

func (c *Conn) join(ctx context.Context, ch *channel) error {
	var p joinPayload
	for _, t := range ch.tables {
		schema, table := defaultSchema, t
		if i := strings.IndexByte(t, '.'); i > 0 {
			schema, table = t[:i], t[i+1:]
		}
		p.Config.PostgresChanges = append(p.Config.PostgresChanges,
			changeFilter{Event: "*", Schema: schema, Table: table})
	}
	if c.opts.Token != nil {
		p.AccessToken = c.opts.Token()
	}
	if err := c.request(ctx, ch.topic, phxJoin, p); err != nil {
		return err
	}
	c.mu.Lock()
	ch.joined = true
	c.mu.Unlock()
	return nil
}

// Join opens a channel for topics, waiting for the socket if it is down.
func (c *Conn) Join(ctx context.Context, name string, topics []string) (Channel, error) {
	ch := &channel{
		conn:   c,
		topic:  topicPrefix + name,
		tables: append([]string(nil), topics...),
		events: make(chan Change, eventBuffer),
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	if _, dup := c.channels[ch.topic]; dup {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateChannel, name)
	}
	select {
	case <-c.dead:
		c.mu.Unlock()
		return nil, ErrClosed
	default:
	}
	c.channels[ch.topic] = ch
	c.mu.Unlock()

	for {
		c.mu.Lock()
		up := c.up
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			c.forget(ch)
			return nil, ctx.Err()
		case <-c.dead:
			c.forget(ch)
			return nil, ErrClosed
		case <-up:
		}

		err := c.join(ctx, ch)
		if errors.Is(err, ErrNotConnected) {
			continue
		}
		if err != nil {
			c.forget(ch)
			return nil, err
		}
		slog.Info("realtime: joined", "topic", ch.topic, "tables", ch.tables)
		return ch, nil
	}
}

func (c *Conn) forget(ch *channel) {
	c.mu.Lock()
	if c.channels[ch.topic] == ch {
		delete(c.channels, ch.topic)
	}
	c.mu.Unlock()
	ch.end()
}

// channel is one joined Phoenix topic.
type channel struct {
	conn   *Conn
	topic  string
	tables []string
	joined bool // guarded by conn.mu

	events  chan Change
	done    chan struct{}
	endOnce sync.Once
}

func (ch *channel) Events() <-chan Change { return ch.events }
func (ch *channel) Done() <-chan struct{} { return ch.done }

func (ch *channel) end() {
	ch.endOnce.Do(func() { close(ch.done) })
}

// deliver blocks until the consumer takes ev or the channel ends.
func (ch *channel) deliver(ev Change) {
	select {
	case ch.events <- ev:
	case <-ch.done:
	}
}

// Leave ends the channel and tells the server when the socket is up.
func (ch *channel) Leave(ctx context.Context) error {
	c := ch.conn
	c.mu.Lock()
	owned := c.channels[ch.topic] == ch
	joined := ch.joined
	connected := c.ws != nil
	if owned {
		delete(c.channels, ch.topic)
	}
	c.mu.Unlock()
	ch.end()

	if !owned || !joined || !connected {
		return nil
	}
	err := c.request(ctx, ch.topic, phxLeave, struct{}{})
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

// redactURL drops the query string, which carries the api key.
func redactURL(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}
