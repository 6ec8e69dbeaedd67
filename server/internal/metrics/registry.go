package metrics

import (
	"log/slog"
	"net/http"
	"sort"
	"sync"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/skyway/adminboard/server/internal/cache"
	"github.com/skyway/adminboard/server/internal/realtime"
)

const namespace = "adminboard_"

// Sources supplies the values read at scrape time. Nil fields are skipped.
type Sources struct {
	Cache        func() cache.Stats
	CacheEntries func() int
	Connected    func() bool
	Reconnects   func() int64
	AlertsFired  func() int64
	WSClients    func() int
	WSBroadcasts func() uint64
}

type changeKey struct {
	table string
	typ   realtime.ChangeType
}

// Registry gathers metric families on every scrape.
type Registry struct {
	src Sources

	mu      sync.Mutex
	changes map[changeKey]float64
}

// New creates a Registry reading from src.
func New(src Sources) *Registry {
	return &Registry{src: src, changes: make(map[changeKey]float64)}
}

// ObserveChange counts one realtime change. Its signature matches
// realtime.Listener.
func (r *Registry) ObserveChange(c realtime.Change) {
	r.mu.Lock()
	r.changes[changeKey{c.Topic, c.Type}]++
	r.mu.Unlock()
}

// Gather returns the current metric families sorted by name.
func (r *Registry) Gather() []*dto.MetricFamily {
	var out []*dto.MetricFamily
	add := func(mf *dto.MetricFamily) { out = append(out, mf) }

	if f := r.src.Cache; f != nil {
		st := f()
		add(counter("cache_hits_total", "Reads served from a fresh cache entry.", float64(st.Hits)))
		add(counter("cache_misses_total", "Reads that found no fresh entry.", float64(st.Misses)))
		add(counter("cache_fetches_total", "Remote fetches run on behalf of cache misses.", float64(st.Fetches)))
		add(counter("cache_fetch_errors_total", "Remote fetches that failed.", float64(st.FetchErrors)))
		add(counter("cache_invalidations_total", "Cache entries flipped from fresh to stale.", float64(st.Invalidations)))
	}
	if f := r.src.CacheEntries; f != nil {
		add(gauge("cache_entries", "Entries held by the cache store.", float64(f())))
	}
	if f := r.src.Connected; f != nil {
		v := 0.0
		if f() {
			v = 1
		}
		add(gauge("realtime_connected", "1 when the realtime socket is up.", v))
	}
	if f := r.src.Reconnects; f != nil {
		add(counter("realtime_reconnects_total", "Realtime reconnect attempts.", float64(f())))
	}
	if mf := r.changeFamily(); mf != nil {
		add(mf)
	}
	if f := r.src.AlertsFired; f != nil {
		add(counter("alerts_fired_total", "Notifications fired by alert rules.", float64(f())))
	}
	if f := r.src.WSClients; f != nil {
		add(gauge("ws_clients", "Connected browser push clients.", float64(f())))
	}
	if f := r.src.WSBroadcasts; f != nil {
		add(counter("ws_broadcasts_total", "Messages fanned out to browser push clients.", float64(f())))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].GetName() < out[j].GetName() })
	return out
}

func (r *Registry) changeFamily() *dto.MetricFamily {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.changes) == 0 {
		return nil
	}
	keys := make([]changeKey, 0, len(r.changes))
	for k := range r.changes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].table != keys[j].table {
			return keys[i].table < keys[j].table
		}
		return keys[i].typ < keys[j].typ
	})

	mf := &dto.MetricFamily{
		Name: proto.String(namespace + "realtime_changes_total"),
		Help: proto.String("Realtime changes received, by table and type."),
		Type: dto.MetricType_COUNTER.Enum(),
	}
	for _, k := range keys {
		mf.Metric = append(mf.Metric, &dto.Metric{
			Label: []*dto.LabelPair{
				{Name: proto.String("table"), Value: proto.String(k.table)},
				{Name: proto.String("type"), Value: proto.String(string(k.typ))},
			},
			Counter: &dto.Counter{Value: proto.Float64(r.changes[k])},
		})
	}
	return mf
}

// ServeHTTP writes the families in the text exposition format.
func (r *Registry) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	w.Header().Set("Content-Type", string(format))
	enc := expfmt.NewEncoder(w, format)
	for _, mf := range r.Gather() {
		if err := enc.Encode(mf); err != nil {
			slog.Warn("metrics: encode failed", "family", mf.GetName(), "err", err)
			return
		}
	}
}

// --- internal ---------------------------------------------------------------

func counter(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(namespace + name),
		Help:   proto.String(help),
		Type:   dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{{Counter: &dto.Counter{Value: proto.Float64(v)}}},
	}
}

func gauge(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(namespace + name),
		Help:   proto.String(help),
		Type:   dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{{Gauge: &dto.Gauge{Value: proto.Float64(v)}}},
	}
}
