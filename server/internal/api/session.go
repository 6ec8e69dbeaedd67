package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/skyway/adminboard/server/internal/auth"
	"github.com/skyway/adminboard/server/internal/supabase"
)

// defaultSessionTTL applies when the backend omits expires_in.
const defaultSessionTTL = time.Hour

// sendOTP handles POST /api/v1/auth/otp.
func (h *Handler) sendOTP(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req otpRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email := strings.TrimSpace(req.Email)
	if !strings.Contains(email, "@") {
		jsonErr(w, http.StatusBadRequest, "a valid email is required")
		return
	}
	if err := h.deps.Login.SendOTP(r.Context(), email); err != nil {
		writeError(w, r, err)
		return
	}
	jsonResp(w, http.StatusAccepted, map[string]bool{"sent": true})
}

// verifyOTP handles POST /api/v1/auth/verify. Only admins get a cookie.
func (h *Handler) verifyOTP(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req otpRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.Code) == "" {
		jsonErr(w, http.StatusBadRequest, "email and code are required")
		return
	}
	sess, err := h.deps.Login.VerifyOTP(r.Context(), req.Email, req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.establish(w, r, sess)
}

// refresh handles POST /api/v1/auth/refresh.
func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	rt := h.deps.Cookies.RefreshToken(r)
	if rt == "" {
		jsonErr(w, http.StatusUnauthorized, "no refresh token")
		return
	}
	sess, err := h.deps.Login.Refresh(r.Context(), rt)
	if err != nil {
		if supabase.IsUnauthorized(err) || supabase.StatusOf(err) == http.StatusBadRequest {
			h.deps.Cookies.Clear(w)
			jsonErr(w, http.StatusUnauthorized, "session expired")
			return
		}
		writeError(w, r, err)
		return
	}
	h.establish(w, r, sess)
}

// establish confirms admin access for a freshly issued session and sets the
// cookies. Non-admin sessions are revoked.
func (h *Handler) establish(w http.ResponseWriter, r *http.Request, sess *supabase.Session) {
	s, err := h.deps.Auth.Authenticate(r.Context(), sess.AccessToken)
	if err != nil {
		if errors.Is(err, auth.ErrNotAdmin) {
			if err := h.deps.Login.SignOut(r.Context(), sess.AccessToken); err != nil {
				slog.Warn("api: revoke non-admin session failed", "err", err)
			}
		}
		h.deps.Cookies.Clear(w)
		writeAuthError(w, r, err)
		return
	}

	ttl := time.Duration(sess.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	h.deps.Cookies.Set(w, sess.AccessToken, ttl)
	if sess.RefreshToken != "" {
		h.deps.Cookies.SetRefresh(w, sess.RefreshToken)
	}
	slog.Info("api: admin signed in", "user_id", s.UserID)
	jsonResp(w, http.StatusOK, SessionResponse{Session: s, ExpiresIn: int(ttl / time.Second)})
}

// logout handles POST /api/v1/auth/logout. It always clears the cookies.
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	if tok := h.deps.Cookies.Token(r); tok != "" {
		h.deps.Auth.Forget(tok)
		if err := h.deps.Login.SignOut(r.Context(), tok); err != nil {
			slog.Warn("api: remote sign out failed", "err", err)
		}
	}
	h.deps.Cookies.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

// session returns GET /api/v1/auth/session: the caller's admin session.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	s, err := h.deps.Auth.Authenticate(r.Context(), h.deps.Cookies.Token(r))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidSession) {
			h.deps.Cookies.Clear(w)
		}
		writeAuthError(w, r, err)
		return
	}
	jsonResp(w, http.StatusOK, SessionResponse{Session: s})
}

func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrNotAdmin):
		jsonErr(w, http.StatusForbidden, "admin access required")
	case errors.Is(err, auth.ErrNoSession), errors.Is(err, auth.ErrInvalidSession):
		jsonErr(w, http.StatusUnauthorized, "sign in required")
	default:
		slog.Error("api: authentication failed", "path", r.URL.Path, "err", err)
		jsonErr(w, http.StatusBadGateway, "authentication unavailable")
	}
}
