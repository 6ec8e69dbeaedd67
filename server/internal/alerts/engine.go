package alerts

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/skyway/adminboard/server/internal/config"
	"github.com/skyway/adminboard/server/internal/realtime"
)

const (
	defaultCooldown = time.Minute
	maxHistoryLen   = 200
)

// Notification is one fired rule.
type Notification struct {
	ID       string    `json:"id"`
	RuleName string    `json:"rule_name"`
	Table    string    `json:"table"`
	Event    string    `json:"event"`
	RecordID string    `json:"record_id,omitempty"`
	Severity string    `json:"severity"`
	Message  string    `json:"message"`
	FiredAt  time.Time `json:"fired_at"`
}

// Engine evaluates rules against realtime changes. It is safe for concurrent use.
type Engine struct {
	rules    []config.AlertRule
	webhooks []config.WebhookConfig
	client   *http.Client
	now      func() time.Time

	mu       sync.Mutex
	lastFire map[string]time.Time // key: "rule:table"
	history  []Notification       // oldest first
	fired    int64

	wg sync.WaitGroup
}

// New creates an Engine from the alerts config. With no rules Handle is a no-op.
func New(cfg config.AlertsConfig) *Engine {
	return &Engine{
		rules:    cfg.Rules,
		webhooks: cfg.Webhooks,
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
		lastFire: make(map[string]time.Time),
	}
}

// Handle evaluates every rule against c. Matching rules outside their cooldown
// are recorded and delivered in the background.
func (e *Engine) Handle(c realtime.Change) {
	if len(e.rules) == 0 {
		return
	}
	now := e.now()
	for _, rule := range e.rules {
		if !matches(rule, c) {
			continue
		}
		key := rule.Name + ":" + c.Topic
		cooldown := rule.Cooldown
		if cooldown <= 0 {
			cooldown = defaultCooldown
		}

		e.mu.Lock()
		if last, ok := e.lastFire[key]; ok && now.Sub(last) < cooldown {
			e.mu.Unlock()
			continue
		}
		sev := rule.Severity
		if sev == "" {
			sev = "info"
		}
		n := Notification{
			ID:       ulid.Make().String(),
			RuleName: rule.Name,
			Table:    c.Topic,
			Event:    string(c.Type),
			RecordID: recordID(c),
			Severity: sev,
			Message:  rule.Name + ": " + describe(c),
			FiredAt:  now,
		}
		e.lastFire[key] = now
		e.history = append(e.history, n)
		if len(e.history) > maxHistoryLen {
			e.history = e.history[len(e.history)-maxHistoryLen:]
		}
		e.fired++
		e.mu.Unlock()

		slog.Info("alerts: rule fired", "rule", rule.Name, "table", c.Topic, "event", c.Type, "severity", sev)
		if len(e.webhooks) > 0 {
			e.wg.Add(1)
			go func() {
				defer e.wg.Done()
				e.deliver(context.Background(), n)
			}()
		}
	}
}

// Recent returns up to limit notifications, newest first. limit <= 0 returns all.
func (e *Engine) Recent(limit int) []Notification {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Notification, 0, n)
	for i := len(e.history) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, e.history[i])
	}
	return out
}

// Fired returns how many notifications have fired since start.
func (e *Engine) Fired() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fired
}

// Wait blocks until in-flight webhook deliveries finish.
func (e *Engine) Wait() { e.wg.Wait() }
