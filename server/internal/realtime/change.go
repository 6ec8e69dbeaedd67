package realtime

import (
	"context"
	"errors"
	"time"
)

// ChangeType is the kind of row change reported on a topic.
type ChangeType string

const (
	Insert ChangeType = "INSERT"
	Update ChangeType = "UPDATE"
	Delete ChangeType = "DELETE"

	// Resync is emitted after a channel rejoins following a dropped
	// connection. Changes during the gap were not observed.
	Resync ChangeType = "RESYNC"
)

// Change is one notification delivered on a channel. Topic is the table name.
// Resync changes carry no topic.
type Change struct {
	Topic     string         `json:"topic"`
	Type      ChangeType     `json:"type"`
	Record    map[string]any `json:"record,omitempty"`
	OldRecord map[string]any `json:"old_record,omitempty"`
	At        time.Time      `json:"at"`
}

var (
	// ErrClosed is returned by Join once the Source has shut down for good.
	ErrClosed = errors.New("realtime: source closed")

	// ErrDuplicateChannel is returned when a channel name is already joined.
	ErrDuplicateChannel = errors.New("realtime: channel already joined")
)

// Source opens channels that report changes on a set of topics.
type Source interface {
	// Join opens a channel named name covering topics. It returns the
	// remote's rejection as an error, for example when the caller is not
	// authorized to read one of the tables.
	Join(ctx context.Context, name string, topics []string) (Channel, error)
}

// Channel is one joined subscription.
type Channel interface {
	// Events delivers changes in transport order. It is never closed.
	Events() <-chan Change

	// Done is closed when the channel has ended, either by Leave or because
	// the source shut down.
	Done() <-chan struct{}

	// Leave ends the channel. Calling it more than once is safe.
	Leave(ctx context.Context) error
}
