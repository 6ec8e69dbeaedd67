package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skyway/adminboard/server/internal/supabase"
)

// decisionTTL bounds how long a positive is_admin answer is reused.
const decisionTTL = time.Minute

// Remote is the backend side of authentication.
type Remote interface {
	// IsAdmin asks the backend whether the owner of token is an admin.
	IsAdmin(ctx context.Context, token string) (bool, error)

	// GetUser resolves token to its account. Used when no JWT secret is configured.
	GetUser(ctx context.Context, token string) (*supabase.User, error)
}

// SupabaseRemote implements Remote with a supabase.Client.
type SupabaseRemote struct {
	Client *supabase.Client
}

// IsAdmin calls the is_admin RPC as the token's owner.
func (r SupabaseRemote) IsAdmin(ctx context.Context, token string) (bool, error) {
	var ok bool
	if err := r.Client.RPC(supabase.WithToken(ctx, token), "is_admin", nil, &ok); err != nil {
		return false, err
	}
	return ok, nil
}

// GetUser resolves token through the auth API.
func (r SupabaseRemote) GetUser(ctx context.Context, token string) (*supabase.User, error) {
	return r.Client.GetUser(ctx, token)
}

type decision struct {
	session *Session
	expires time.Time
}

// Authenticator turns an access token into an admin Session.
type Authenticator struct {
	verifier *Verifier // nil when no JWT secret is configured
	remote   Remote
	now      func() time.Time

	mu    sync.Mutex
	cache map[string]decision
}

// NewAuthenticator creates an Authenticator. An empty jwtSecret makes every
// check resolve the user remotely instead of verifying the signature locally.
func NewAuthenticator(jwtSecret string, remote Remote) *Authenticator {
	a := &Authenticator{
		remote: remote,
		now:    time.Now,
		cache:  make(map[string]decision),
	}
	if jwtSecret != "" {
		a.verifier = NewVerifier(jwtSecret)
	}
	return a
}

// Authenticate verifies token and confirms admin access with the backend.
// It returns ErrNoSession, ErrInvalidSession or ErrNotAdmin on denial.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrNoSession
	}
	now := a.now()

	a.mu.Lock()
	d, ok := a.cache[token]
	if ok && now.Before(d.expires) {
		a.mu.Unlock()
		return d.session, nil
	}
	delete(a.cache, token)
	a.mu.Unlock()

	s, err := a.identify(ctx, token)
	if err != nil {
		return nil, err
	}

	admin, err := a.remote.IsAdmin(ctx, token)
	if err != nil {
		if supabase.IsUnauthorized(err) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
		}
		return nil, fmt.Errorf("auth: is_admin: %w", err)
	}
	if !admin {
		slog.Info("auth: admin access denied", "user_id", s.UserID)
		return nil, ErrNotAdmin
	}

	expires := now.Add(decisionTTL)
	if !s.ExpiresAt.IsZero() && s.ExpiresAt.Before(expires) {
		expires = s.ExpiresAt
	}
	a.mu.Lock()
	a.cache[token] = decision{session: s, expires: expires}
	a.mu.Unlock()
	return s, nil
}

func (a *Authenticator) identify(ctx context.Context, token string) (*Session, error) {
	if a.verifier != nil {
		c, err := a.verifier.Verify(token)
		if err != nil {
			return nil, err
		}
		s := &Session{UserID: c.Subject, Email: c.Email, Token: token}
		if c.ExpiresAt != nil {
			s.ExpiresAt = c.ExpiresAt.Time
		}
		return s, nil
	}
	u, err := a.remote.GetUser(ctx, token)
	if err != nil {
		if supabase.IsUnauthorized(err) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
		}
		return nil, fmt.Errorf("auth: get user: %w", err)
	}
	return &Session{UserID: u.ID, Email: u.Email, Token: token}, nil
}

// Forget drops any remembered decision for token. Called on logout.
func (a *Authenticator) Forget(token string) {
	a.mu.Lock()
	delete(a.cache, token)
	a.mu.Unlock()
}

// Prune removes expired decisions.
func (a *Authenticator) Prune() int {
	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for tok, d := range a.cache {
		if !now.Before(d.expires) {
			delete(a.cache, tok)
			n++
		}
	}
	return n
}

// Run prunes expired decisions every decisionTTL until ctx is cancelled.
func (a *Authenticator) Run(ctx context.Context) {
	t := time.NewTicker(decisionTTL)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.Prune()
		}
	}
}
