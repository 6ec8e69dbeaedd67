package api

import (
	"github.com/skyway/adminboard/pkg/types"
	"github.com/skyway/adminboard/server/internal/alerts"
	"github.com/skyway/adminboard/server/internal/auth"
	"github.com/skyway/adminboard/server/internal/cache"
)

// CountResponse is the payload for GET /api/v1/counts/{table}.
type CountResponse struct {
	Table string `json:"table"`
	Count int64  `json:"count"`
}

// SeriesResponse is the payload for GET /api/v1/series/{table}.
type SeriesResponse struct {
	Table  string              `json:"table"`
	Points []types.SeriesPoint `json:"points"`
}

// AlertsResponse is the payload for GET /api/v1/alerts.
type AlertsResponse struct {
	Fired         int64                 `json:"fired"`
	Notifications []alerts.Notification `json:"notifications"`
}

// SystemStatus is the raw state GET /api/v1/status reports on.
type SystemStatus struct {
	RealtimeEnabled bool        `json:"realtime_enabled"`
	Connected       bool        `json:"connected"`
	Reconnects      int64       `json:"reconnects"`
	Cache           cache.Stats `json:"cache"`
	CacheEntries    int         `json:"cache_entries"`
	PushClients     int         `json:"push_clients"`
	AlertsFired     int64       `json:"alerts_fired"`
}

// StatusResponse is the payload for GET /api/v1/status.
type StatusResponse struct {
	SystemStatus
	HitRatio    float64          `json:"hit_ratio"`
	Diagnostics []DiagnosticHint `json:"diagnostics"`
	GeneratedAt string           `json:"generated_at"` // RFC3339
}

// verifyRequest is the body of POST /api/v1/drivers/{id}/verify.
type verifyRequest struct {
	Verified *bool `json:"verified"`
}

// moveRequest is the body of POST /api/v1/jet-images/{name}/move.
type moveRequest struct {
	To string `json:"to"`
}

// assignRequest is the body of POST /api/v1/jet-images/{name}/assign.
type assignRequest struct {
	JetID string `json:"jet_id"`
}

// otpRequest is the body of POST /api/v1/auth/otp and /auth/verify.
type otpRequest struct {
	Email string `json:"email"`
	Code  string `json:"code,omitempty"`
}

// SessionResponse describes the signed-in admin.
type SessionResponse struct {
	*auth.Session
	ExpiresIn int `json:"expires_in,omitempty"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
