package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// LoginPath is where unauthenticated page requests are redirected.
const LoginPath = "/login"

// exemptPaths and exemptPrefixes bypass RequireAdmin.
var (
	exemptPaths = map[string]bool{
		LoginPath:  true,
		"/healthz": true,
		"/metrics": true,
		"/hooks/db": true,
	}
	exemptPrefixes = []string{
		"/api/v1/auth/",
		"/assets/",
		"/favicon.",
	}
)

// Cookies sets and clears the session cookie.
type Cookies struct {
	Name   string
	Secure bool
}

// Set writes token as the session cookie, expiring after ttl.
func (c Cookies) Set(w http.ResponseWriter, token string, ttl time.Duration) {
	c.write(w, c.Name, token, int(ttl/time.Second))
}

// refreshTTL bounds the refresh cookie; the backend enforces its own expiry.
const refreshTTL = 30 * 24 * time.Hour

func (c Cookies) refreshName() string { return c.Name + "_refresh" }

func (c Cookies) write(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// SetRefresh writes the refresh token cookie.
func (c Cookies) SetRefresh(w http.ResponseWriter, token string) {
	c.write(w, c.refreshName(), token, int(refreshTTL/time.Second))
}

// RefreshToken returns the refresh cookie value, or "".
func (c Cookies) RefreshToken(r *http.Request) string {
	if ck, err := r.Cookie(c.refreshName()); err == nil {
		return strings.TrimSpace(ck.Value)
	}
	return ""
}

// Clear expires the session and refresh cookies.
func (c Cookies) Clear(w http.ResponseWriter) {
	c.write(w, c.Name, "", -1)
	c.write(w, c.refreshName(), "", -1)
}

// Token returns the bearer token, or the session cookie when there is none.
func (c Cookies) Token(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	if ck, err := r.Cookie(c.Name); err == nil {
		return strings.TrimSpace(ck.Value)
	}
	return ""
}

func isExempt(path string) bool {
	if exemptPaths[path] {
		return true
	}
	for _, p := range exemptPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func isAPI(path string) bool {
	return strings.HasPrefix(path, "/api/") || path == "/ws/stream"
}

// RequireAdmin rejects requests without an admin session. Authenticated
// requests carry the Session in their context (SessionFrom).
func RequireAdmin(a *Authenticator, cookies Cookies, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isExempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		s, err := a.Authenticate(r.Context(), cookies.Token(r))
		if err != nil {
			deny(w, r, cookies, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), s)))
	})
}

func deny(w http.ResponseWriter, r *http.Request, cookies Cookies, err error) {
	status := http.StatusUnauthorized
	switch {
	case errors.Is(err, ErrNotAdmin):
		status = http.StatusForbidden
	case errors.Is(err, ErrNoSession), errors.Is(err, ErrInvalidSession):
	default:
		slog.Error("auth: authentication failed", "path", r.URL.Path, "err", err)
		status = http.StatusBadGateway
	}
	if errors.Is(err, ErrInvalidSession) {
		cookies.Clear(w)
	}

	if !isAPI(r.URL.Path) {
		http.Redirect(w, r, LoginPath, http.StatusFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": http.StatusText(status)})
}
