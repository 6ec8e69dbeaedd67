package api

import (
	"fmt"
	"net/http"
	"sort"
	"time"
)

// DiagnosticHint is one human-readable insight about the dashboard's plumbing.
// The settings view lists these so an operator can tell why data looks old.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical"
	Level string `json:"level"`
	// Title is a short label.
	Title string `json:"title"`
	// Detail is the full explanation.
	Detail string `json:"detail"`
	// Value is an optional number behind the hint, e.g. an error ratio.
	Value *float64 `json:"value,omitempty"`
}

var levelRank = map[string]int{"critical": 0, "warning": 1, "info": 2, "ok": 3}

// fetchErrorWarnRatio is the share of failed backend fetches that earns a warning.
const fetchErrorWarnRatio = 0.05

// status returns GET /api/v1/status.
func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	var st SystemStatus
	if h.deps.Status != nil {
		st = h.deps.Status()
	}
	jsonResp(w, http.StatusOK, StatusResponse{
		SystemStatus: st,
		HitRatio:     hitRatio(st),
		Diagnostics:  computeDiagnostics(st),
		GeneratedAt:  h.now().UTC().Format(time.RFC3339),
	})
}

func hitRatio(st SystemStatus) float64 {
	total := st.Cache.Hits + st.Cache.Misses
	if total == 0 {
		return 0
	}
	return float64(st.Cache.Hits) / float64(total)
}

// computeDiagnostics derives hints from st, critical first.
func computeDiagnostics(st SystemStatus) []DiagnosticHint {
	var hints []DiagnosticHint

	switch {
	case !st.RealtimeEnabled:
		hints = append(hints, DiagnosticHint{
			Key:   "live_updates_off",
			Level: "info",
			Title: "Live updates off",
			Detail: "Realtime change notifications are disabled in the configuration. " +
				"Lists refresh only when you reload them or change data from this dashboard.",
		})
	case !st.Connected:
		v := float64(st.Reconnects)
		hints = append(hints, DiagnosticHint{
			Key:   "live_updates_paused",
			Level: "critical",
			Title: "Live updates paused",
			Detail: fmt.Sprintf(
				"The realtime connection is down (%d reconnect attempts so far). "+
					"New bookings and trips will not appear on their own until it comes back. "+
					"Once it does, every watched list is refreshed in one go.",
				st.Reconnects),
			Value: &v,
		})
	case st.Reconnects > 0:
		v := float64(st.Reconnects)
		hints = append(hints, DiagnosticHint{
			Key:   "reconnected",
			Level: "info",
			Title: "Reconnected",
			Detail: fmt.Sprintf(
				"The realtime connection dropped and recovered %d times since start. "+
					"Lists were refreshed after each recovery.", st.Reconnects),
			Value: &v,
		})
	}

	if st.Cache.Fetches > 0 {
		ratio := float64(st.Cache.FetchErrors) / float64(st.Cache.Fetches)
		if ratio >= fetchErrorWarnRatio {
			v := ratio * 100
			hints = append(hints, DiagnosticHint{
				Key:   "backend_errors",
				Level: "warning",
				Title: fmt.Sprintf("%.0f%% of loads failing", v),
				Detail: fmt.Sprintf(
					"%d of %d data loads from the backend failed. "+
						"Check the backend status and that your admin role is still granted.",
					st.Cache.FetchErrors, st.Cache.Fetches),
				Value: &v,
			})
		}
	}

	if len(hints) == 0 {
		hints = append(hints, DiagnosticHint{
			Key:    "all_good",
			Level:  "ok",
			Title:  "All systems normal",
			Detail: "Live updates are flowing and backend loads are succeeding.",
		})
	}

	sort.SliceStable(hints, func(i, j int) bool {
		return levelRank[hints[i].Level] < levelRank[hints[j].Level]
	})
	return hints
}
