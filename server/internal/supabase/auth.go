package supabase

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNoToken is returned by calls that need an access token when none was given.
var ErrNoToken = errors.New("supabase: access token is required")

// User is the authenticated account returned by GoTrue.
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	Phone        string         `json:"phone,omitempty"`
	Role         string         `json:"role,omitempty"`
	LastSignInAt *time.Time     `json:"last_sign_in_at,omitempty"`
	AppMetadata  map[string]any `json:"app_metadata,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

// Session is an issued access/refresh token pair.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	User         *User  `json:"user,omitempty"`
}

// SendOTP emails a one-time login code to an existing account.
func (c *Client) SendOTP(ctx context.Context, email string) error {
	body, err := jsonBody(map[string]any{
		"email":       strings.TrimSpace(email),
		"create_user": false,
	})
	if err != nil {
		return err
	}
	return c.doJSON(ctx, request{
		op:     "auth.otp",
		method: http.MethodPost,
		path:   "/auth/v1/otp",
		body:   body,
		token:  c.anonKey,
	}, nil)
}

// VerifyOTP exchanges an emailed code for a session.
func (c *Client) VerifyOTP(ctx context.Context, email, code string) (*Session, error) {
	body, err := jsonBody(map[string]string{
		"type":  "email",
		"email": strings.TrimSpace(email),
		"token": strings.TrimSpace(code),
	})
	if err != nil {
		return nil, err
	}
	var s Session
	if err := c.doJSON(ctx, request{
		op:     "auth.verify",
		method: http.MethodPost,
		path:   "/auth/v1/verify",
		body:   body,
		token:  c.anonKey,
	}, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetUser returns the account owning token.
func (c *Client) GetUser(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, ErrNoToken
	}
	var u User
	if err := c.doJSON(ctx, request{
		op:     "auth.user",
		method: http.MethodGet,
		path:   "/auth/v1/user",
		token:  token,
	}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Refresh issues a new session from a refresh token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	if refreshToken == "" {
		return nil, ErrNoToken
	}
	body, err := jsonBody(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return nil, err
	}
	var s Session
	if err := c.doJSON(ctx, request{
		op:     "auth.refresh",
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  url.Values{"grant_type": {"refresh_token"}},
		body:   body,
		token:  c.anonKey,
	}, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// SignOut revokes the session owning token.
func (c *Client) SignOut(ctx context.Context, token string) error {
	if token == "" {
		return ErrNoToken
	}
	return c.doJSON(ctx, request{
		op:     "auth.logout",
		method: http.MethodPost,
		path:   "/auth/v1/logout",
		token:  token,
	}, nil)
}
