package receiver

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/skyway/adminboard/server/internal/realtime"
)

const maxBody = 1 << 20

// Payload is the body the backend posts for each row change.
type Payload struct {
	Type      string         `json:"type"`
	Table     string         `json:"table"`
	Schema    string         `json:"schema"`
	Record    map[string]any `json:"record"`
	OldRecord map[string]any `json:"old_record"`
}

// Receiver is a realtime.Source fed by HTTP webhook calls.
type Receiver struct {
	header string
	secret string
	now    func() time.Time

	mu       sync.RWMutex
	channels map[string]*channel
}

var _ realtime.Source = (*Receiver)(nil)

// New creates a Receiver. Requests must carry secret in header; an empty
// secret disables the check.
func New(header, secret string) *Receiver {
	return &Receiver{
		header:   header,
		secret:   secret,
		now:      time.Now,
		channels: make(map[string]*channel),
	}
}

// Join registers a channel for topics. It never waits: the receiver has no
// remote to confirm with.
func (r *Receiver) Join(_ context.Context, name string, topics []string) (realtime.Channel, error) {
	ch := &channel{
		r:      r,
		name:   name,
		topics: make(map[string]bool, len(topics)),
		events: make(chan realtime.Change, 64),
		done:   make(chan struct{}),
	}
	for _, t := range topics {
		ch.topics[t] = true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.channels[name]; dup {
		return nil, fmt.Errorf("%w: %s", realtime.ErrDuplicateChannel, name)
	}
	r.channels[name] = ch
	slog.Info("receiver: channel joined", "name", name, "topics", topics)
	return ch, nil
}

// ServeHTTP handles POST /hooks/db.
func (r *Receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.secret != "" {
		got := req.Header.Get(r.header)
		if subtle.ConstantTimeCompare([]byte(got), []byte(r.secret)) != 1 {
			slog.Warn("receiver: rejected webhook", "remote", req.RemoteAddr)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	var p Payload
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBody)).Decode(&p); err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if p.Table == "" {
		http.Error(w, "table is required", http.StatusBadRequest)
		return
	}
	typ := realtime.ChangeType(strings.ToUpper(p.Type))
	switch typ {
	case realtime.Insert, realtime.Update, realtime.Delete:
	default:
		http.Error(w, fmt.Sprintf("unknown change type %q", p.Type), http.StatusBadRequest)
		return
	}

	n := r.dispatch(req.Context(), realtime.Change{
		Topic:     p.Table,
		Type:      typ,
		Record:    p.Record,
		OldRecord: p.OldRecord,
		At:        r.now().UTC(),
	})
	slog.Debug("receiver: change accepted", "table", p.Table, "type", typ, "channels", n)
	w.WriteHeader(http.StatusAccepted)
}

// dispatch hands c to every channel covering its topic and returns how many took it.
func (r *Receiver) dispatch(ctx context.Context, c realtime.Change) int {
	r.mu.RLock()
	var targets []*channel
	for _, ch := range r.channels {
		if ch.topics[c.Topic] {
			targets = append(targets, ch)
		}
	}
	r.mu.RUnlock()

	n := 0
	for _, ch := range targets {
		select {
		case ch.events <- c:
			n++
		case <-ch.done:
		case <-ctx.Done():
			return n
		}
	}
	return n
}

type channel struct {
	r      *Receiver
	name   string
	topics map[string]bool
	events chan realtime.Change
	done   chan struct{}
	once   sync.Once
}

func (ch *channel) Events() <-chan realtime.Change { return ch.events }
func (ch *channel) Done() <-chan struct{}          { return ch.done }

func (ch *channel) Leave(context.Context) error {
	ch.once.Do(func() {
		ch.r.mu.Lock()
		if ch.r.channels[ch.name] == ch {
			delete(ch.r.channels, ch.name)
		}
		ch.r.mu.Unlock()
		close(ch.done)
	})
	return nil
}
