package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/skyway/adminboard/server/internal/alerts"
	"github.com/skyway/adminboard/server/internal/auth"
	"github.com/skyway/adminboard/server/internal/dashboard"
	"github.com/skyway/adminboard/server/internal/supabase"
)

const (
	// maxUploadBytes bounds multipart bodies.
	maxUploadBytes = 10 << 20

	// maxJSONBytes bounds JSON request bodies.
	maxJSONBytes = 64 << 10

	defaultAlertsLimit = 50
)

// LoginBackend is the auth API the login routes call. *supabase.Client
// implements it.
type LoginBackend interface {
	SendOTP(ctx context.Context, email string) error
	VerifyOTP(ctx context.Context, email, code string) (*supabase.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*supabase.Session, error)
	SignOut(ctx context.Context, token string) error
}

var _ LoginBackend = (*supabase.Client)(nil)

// Deps are the collaborators a Handler serves from. Status may be nil.
type Deps struct {
	Dashboard *dashboard.Service
	Alerts    *alerts.Engine
	Auth      *auth.Authenticator
	Login     LoginBackend
	Cookies   auth.Cookies
	Status    func() SystemStatus
}

// Handler is the HTTP handler for /api/v1/* and /healthz.
type Handler struct {
	deps Deps
	mux  *http.ServeMux
	now  func() time.Time
}

// New creates a Handler and registers all routes.
func New(deps Deps) *Handler {
	h := &Handler{deps: deps, mux: http.NewServeMux(), now: time.Now}

	h.mux.HandleFunc("/api/v1/summary", h.summary)
	h.mux.HandleFunc("/api/v1/drivers", h.drivers)
	h.mux.HandleFunc("/api/v1/drivers/{id}/verify", h.verifyDriver)
	h.mux.HandleFunc("/api/v1/cars", h.cars)
	h.mux.HandleFunc("/api/v1/jets", h.jets)
	h.mux.HandleFunc("/api/v1/jets/basic", h.jetsBasic)
	h.mux.HandleFunc("/api/v1/jet-bookings", h.jetBookings)
	h.mux.HandleFunc("/api/v1/trips", h.trips)
	h.mux.HandleFunc("/api/v1/payouts", h.payouts)
	h.mux.HandleFunc("/api/v1/tickets", h.tickets)
	h.mux.HandleFunc("/api/v1/users", h.users)
	h.mux.HandleFunc("/api/v1/events", h.events)
	h.mux.HandleFunc("/api/v1/counts/{table}", h.count)
	h.mux.HandleFunc("/api/v1/series/{table}", h.series)
	h.mux.HandleFunc("/api/v1/jet-images", h.jetImages)
	h.mux.HandleFunc("/api/v1/jet-images/{name}", h.deleteJetImage)
	h.mux.HandleFunc("/api/v1/jet-images/{name}/move", h.moveJetImage)
	h.mux.HandleFunc("/api/v1/jet-images/{name}/assign", h.assignJetImage)
	h.mux.HandleFunc("/api/v1/settings", h.settings)
	h.mux.HandleFunc("/api/v1/alerts", h.alerts)
	h.mux.HandleFunc("/api/v1/status", h.status)

	h.mux.HandleFunc("/api/v1/auth/otp", h.sendOTP)
	h.mux.HandleFunc("/api/v1/auth/verify", h.verifyOTP)
	h.mux.HandleFunc("/api/v1/auth/refresh", h.refresh)
	h.mux.HandleFunc("/api/v1/auth/logout", h.logout)
	h.mux.HandleFunc("/api/v1/auth/session", h.session)

	h.mux.HandleFunc("/healthz", h.healthz)
	h.mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		jsonErr(w, http.StatusNotFound, "not found")
	})

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// alerts returns GET /api/v1/alerts: the newest fired notifications.
func (h *Handler) alerts(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	limit := defaultAlertsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			jsonErr(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	resp := AlertsResponse{Notifications: []alerts.Notification{}}
	if h.deps.Alerts != nil {
		resp.Fired = h.deps.Alerts.Fired()
		resp.Notifications = h.deps.Alerts.Recent(limit)
	}
	jsonResp(w, http.StatusOK, resp)
}

// healthz returns GET /healthz: process liveness, never gated.
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	resp := map[string]any{"status": "ok"}
	if h.deps.Status != nil {
		resp["realtime_connected"] = h.deps.Status().Connected
	}
	jsonResp(w, http.StatusOK, resp)
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

// allow writes 405 and returns false unless r uses one of methods.
func allow(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

// writeError maps err to a status: invalid input 400, backend 4xx kept,
// everything else 502.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusBadGateway
	switch s := supabase.StatusOf(err); {
	case errors.Is(err, dashboard.ErrInvalid):
		code = http.StatusBadRequest
	case s >= 400 && s < 500:
		code = s
	}
	if code >= 500 {
		slog.Error("api: request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	} else {
		slog.Warn("api: request rejected", "method", r.Method, "path", r.URL.Path, "status", code, "err", err)
	}
	jsonErr(w, code, err.Error())
}

// decodeJSON reads a bounded JSON body into v, writing 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// backendCtx returns a context whose backend calls run as the signed-in admin.
func backendCtx(r *http.Request) context.Context {
	if s := auth.SessionFrom(r.Context()); s != nil && s.Token != "" {
		return supabase.WithToken(r.Context(), s.Token)
	}
	return r.Context()
}

// serveList runs a read and writes its result.
func serveList[T any](w http.ResponseWriter, r *http.Request, read func(context.Context) (T, error)) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	v, err := read(backendCtx(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, v)
}
