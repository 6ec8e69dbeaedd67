package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/skyway/adminboard/server/internal/supabase"
)

const testSecret = "super-secret-jwt-token-with-at-least-32-characters"

func signToken(t *testing.T, secret string, method jwt.SigningMethod, sub string, exp time.Time) string {
	t.Helper()
	c := Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: sub, ExpiresAt: jwt.NewNumericDate(exp)},
		Email:            "ops@example.com",
		Role:             "authenticated",
	}
	tok, err := jwt.NewWithClaims(method, c).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

type fakeRemote struct {
	admin   bool
	err     error
	calls   atomic.Int32
	userErr error
}

func (f *fakeRemote) IsAdmin(context.Context, string) (bool, error) {
	f.calls.Add(1)
	return f.admin, f.err
}

func (f *fakeRemote) GetUser(_ context.Context, token string) (*supabase.User, error) {
	if f.userErr != nil {
		return nil, f.userErr
	}
	return &supabase.User{ID: "remote-" + token, Email: "r@example.com"}, nil
}

func TestVerifier(t *testing.T) {
	v := NewVerifier(testSecret)
	future := time.Now().Add(time.Hour)

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"valid", signToken(t, testSecret, jwt.SigningMethodHS256, "u1", future), nil},
		{"empty", "", ErrNoSession},
		{"expired", signToken(t, testSecret, jwt.SigningMethodHS256, "u1", time.Now().Add(-time.Minute)), ErrInvalidSession},
		{"wrong secret", signToken(t, "another-secret-another-secret-another", jwt.SigningMethodHS256, "u1", future), ErrInvalidSession},
		{"wrong alg", signToken(t, testSecret, jwt.SigningMethodHS512, "u1", future), ErrInvalidSession},
		{"no subject", signToken(t, testSecret, jwt.SigningMethodHS256, "", future), ErrInvalidSession},
		{"garbage", "a.b.c", ErrInvalidSession},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := v.Verify(tt.token)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if c.Subject != "u1" || c.Email != "ops@example.com" {
					t.Errorf("claims: got %+v", c)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err: got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAuthenticator_CachesPositiveDecision(t *testing.T) {
	r := &fakeRemote{admin: true}
	a := NewAuthenticator(testSecret, r)
	tok := signToken(t, testSecret, jwt.SigningMethodHS256, "u1", time.Now().Add(time.Hour))

	for i := 0; i < 3; i++ {
		s, err := a.Authenticate(context.Background(), tok)
		if err != nil {
			t.Fatalf("Authenticate: %v", err)
		}
		if s.UserID != "u1" {
			t.Errorf("UserID: got %q, want u1", s.UserID)
		}
	}
	if n := r.calls.Load(); n != 1 {
		t.Errorf("is_admin calls: got %d, want 1", n)
	}

	a.Forget(tok)
	if _, err := a.Authenticate(context.Background(), tok); err != nil {
		t.Fatalf("Authenticate after Forget: %v", err)
	}
	if n := r.calls.Load(); n != 2 {
		t.Errorf("is_admin calls after Forget: got %d, want 2", n)
	}
}

func TestAuthenticator_DecisionExpires(t *testing.T) {
	r := &fakeRemote{admin: true}
	a := NewAuthenticator(testSecret, r)
	now := time.Now()
	a.now = func() time.Time { return now }
	tok := signToken(t, testSecret, jwt.SigningMethodHS256, "u1", now.Add(time.Hour))

	a.Authenticate(context.Background(), tok)
	now = now.Add(2 * decisionTTL)
	if n := a.Prune(); n != 1 {
		t.Errorf("Prune: got %d, want 1", n)
	}
}

func TestAuthenticator_NotAdmin(t *testing.T) {
	a := NewAuthenticator(testSecret, &fakeRemote{admin: false})
	tok := signToken(t, testSecret, jwt.SigningMethodHS256, "u1", time.Now().Add(time.Hour))
	if _, err := a.Authenticate(context.Background(), tok); !errors.Is(err, ErrNotAdmin) {
		t.Errorf("got %v, want ErrNotAdmin", err)
	}
}

func TestAuthenticator_RemoteUnauthorized(t *testing.T) {
	a := NewAuthenticator(testSecret, &fakeRemote{err: &supabase.APIError{Status: 401, Message: "JWT expired"}})
	tok := signToken(t, testSecret, jwt.SigningMethodHS256, "u1", time.Now().Add(time.Hour))
	if _, err := a.Authenticate(context.Background(), tok); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("got %v, want ErrInvalidSession", err)
	}
}

func TestAuthenticator_NoSecretUsesRemoteUser(t *testing.T) {
	a := NewAuthenticator("", &fakeRemote{admin: true})
	s, err := a.Authenticate(context.Background(), "opaque")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if s.UserID != "remote-opaque" {
		t.Errorf("UserID: got %q", s.UserID)
	}

	a = NewAuthenticator("", &fakeRemote{admin: true, userErr: &supabase.APIError{Status: 403}})
	if _, err := a.Authenticate(context.Background(), "opaque"); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("got %v, want ErrInvalidSession", err)
	}
}

// --- middleware -------------------------------------------------------------

func okHandler(w http.ResponseWriter, r *http.Request) {
	if s := SessionFrom(r.Context()); s != nil {
		w.Header().Set("X-User", s.UserID)
	}
	w.WriteHeader(http.StatusOK)
}

func TestRequireAdmin(t *testing.T) {
	cookies := Cookies{Name: "adminboard_session"}
	good := signToken(t, testSecret, jwt.SigningMethodHS256, "u1", time.Now().Add(time.Hour))
	expired := signToken(t, testSecret, jwt.SigningMethodHS256, "u1", time.Now().Add(-time.Hour))

	tests := []struct {
		name      string
		admin     bool
		path      string
		cookie    string
		bearer    string
		wantCode  int
		wantLoc   string
		wantUser  string
		wantClear bool
	}{
		{name: "page no session redirects", path: "/trips", wantCode: http.StatusFound, wantLoc: "/login"},
		{name: "api no session 401", path: "/api/v1/trips", wantCode: http.StatusUnauthorized},
		{name: "login exempt", path: "/login", wantCode: http.StatusOK},
		{name: "login lookalike gated", path: "/loginfoo", wantCode: http.StatusFound, wantLoc: "/login"},
		{name: "webhook exempt", path: "/hooks/db", wantCode: http.StatusOK},
		{name: "other hook gated", path: "/hooks/admin", wantCode: http.StatusFound, wantLoc: "/login"},
		{name: "auth api exempt", path: "/api/v1/auth/otp", wantCode: http.StatusOK},
		{name: "healthz exempt", path: "/healthz", wantCode: http.StatusOK},
		{name: "cookie admin", admin: true, path: "/api/v1/trips", cookie: good, wantCode: http.StatusOK, wantUser: "u1"},
		{name: "bearer admin", admin: true, path: "/api/v1/trips", bearer: good, wantCode: http.StatusOK, wantUser: "u1"},
		{name: "api not admin 403", path: "/api/v1/trips", cookie: good, wantCode: http.StatusForbidden},
		{name: "page not admin redirects", path: "/", cookie: good, wantCode: http.StatusFound, wantLoc: "/login"},
		{name: "expired clears cookie", admin: true, path: "/api/v1/trips", cookie: expired, wantCode: http.StatusUnauthorized, wantClear: true},
		{name: "ws stream is api", path: "/ws/stream", wantCode: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAuthenticator(testSecret, &fakeRemote{admin: tt.admin})
			h := RequireAdmin(a, cookies, http.HandlerFunc(okHandler))

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: cookies.Name, Value: tt.cookie})
			}
			if tt.bearer != "" {
				req.Header.Set("Authorization", "Bearer "+tt.bearer)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("status: got %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantLoc != "" && rec.Header().Get("Location") != tt.wantLoc {
				t.Errorf("location: got %q, want %q", rec.Header().Get("Location"), tt.wantLoc)
			}
			if got := rec.Header().Get("X-User"); got != tt.wantUser {
				t.Errorf("user: got %q, want %q", got, tt.wantUser)
			}
			cleared := strings.Contains(rec.Header().Get("Set-Cookie"), "Max-Age=0")
			if cleared != tt.wantClear {
				t.Errorf("cookie cleared: got %v, want %v", cleared, tt.wantClear)
			}
		})
	}
}

func TestRequireAdmin_RemoteFailureIs502(t *testing.T) {
	a := NewAuthenticator(testSecret, &fakeRemote{err: errors.New("connection refused")})
	h := RequireAdmin(a, Cookies{Name: "s"}, http.HandlerFunc(okHandler))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/trips", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, jwt.SigningMethodHS256, "u1", time.Now().Add(time.Hour)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status: got %d, want 502", rec.Code)
	}
}

func TestCookies_SetAndToken(t *testing.T) {
	c := Cookies{Name: "adminboard_session", Secure: true}
	rec := httptest.NewRecorder()
	c.Set(rec, "tok", time.Hour)

	resp := rec.Result()
	cks := resp.Cookies()
	if len(cks) != 1 {
		t.Fatalf("cookies: got %d, want 1", len(cks))
	}
	if !cks[0].HttpOnly || !cks[0].Secure || cks[0].MaxAge != 3600 {
		t.Errorf("cookie: got %+v", cks[0])
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cks[0])
	if got := c.Token(req); got != "tok" {
		t.Errorf("Token: got %q, want tok", got)
	}
	req.Header.Set("Authorization", "Bearer other")
	if got := c.Token(req); got != "other" {
		t.Errorf("bearer wins: got %q", got)
	}
}

func TestCookies_RefreshAndClear(t *testing.T) {
	c := Cookies{Name: "adminboard_session"}
	rec := httptest.NewRecorder()
	c.SetRefresh(rec, "r1")

	cks := rec.Result().Cookies()
	if len(cks) != 1 || cks[0].Name != "adminboard_session_refresh" {
		t.Fatalf("refresh cookie: got %+v", cks)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	req.AddCookie(cks[0])
	if got := c.RefreshToken(req); got != "r1" {
		t.Errorf("RefreshToken: got %q, want r1", got)
	}

	rec = httptest.NewRecorder()
	c.Clear(rec)
	cleared := rec.Result().Cookies()
	if len(cleared) != 2 {
		t.Fatalf("Clear: got %d cookies, want 2", len(cleared))
	}
	for _, ck := range cleared {
		if ck.MaxAge >= 0 {
			t.Errorf("%s: MaxAge %d, want expired", ck.Name, ck.MaxAge)
		}
	}
}
