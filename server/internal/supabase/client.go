package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/skyway/adminboard/server/internal/supabase"

// ErrNoURL is returned by New when the project URL is empty.
var ErrNoURL = errors.New("supabase: project url is required")

type tokenKey struct{}

// WithToken returns a context whose calls authenticate as the given access token.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFrom returns the access token stored by WithToken, if any.
func TokenFrom(ctx context.Context) string {
	s, _ := ctx.Value(tokenKey{}).(string)
	return s
}

// Client talks to one project.
type Client struct {
	base    *url.URL
	anonKey string
	http    *http.Client
	tracer  trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New creates a Client for the project at rawURL.
func New(rawURL, anonKey string, timeout time.Duration, opts ...Option) (*Client, error) {
	if rawURL == "" {
		return nil, ErrNoURL
	}
	u, err := url.Parse(strings.TrimRight(rawURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("supabase: parse url %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("supabase: url %q must be http or https", rawURL)
	}
	c := &Client{
		base:    u,
		anonKey: anonKey,
		http:    &http.Client{Timeout: timeout},
		tracer:  otel.Tracer(tracerName),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// AnonKey returns the project's public API key.
func (c *Client) AnonKey() string { return c.anonKey }

// RealtimeURL returns the websocket endpoint for realtime channels.
func (c *Client) RealtimeURL() string {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/realtime/v1/websocket"
	q := url.Values{}
	q.Set("apikey", c.anonKey)
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()
	return u.String()
}

// endpoint joins the project URL with an already escaped path.
func (c *Client) endpoint(path string, q url.Values) string {
	s := strings.TrimRight(c.base.String(), "/") + path
	if len(q) > 0 {
		s += "?" + q.Encode()
	}
	return s
}

// request describes one HTTP call.
type request struct {
	op          string
	method      string
	path        string
	query       url.Values
	header      http.Header
	body        io.Reader
	contentType string
	token       string // overrides the context token
	attrs       []attribute.KeyValue
}

// jsonBody encodes v for a request body. A nil v yields no body.
func jsonBody(v any) (io.Reader, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("supabase: encode body: %w", err)
	}
	return bytes.NewReader(b), nil
}

// do performs r inside a span and returns the response when the status is 2xx.
// The caller must close the body.
func (c *Client) do(ctx context.Context, r request) (*http.Response, error) {
	ctx, span := c.tracer.Start(ctx, "supabase."+r.op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(r.attrs...),
	)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, r.method, c.endpoint(r.path, r.query), r.body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("supabase: %s: %w", r.op, err)
	}
	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	} else if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apikey", c.anonKey)

	token := r.token
	if token == "" {
		token = TokenFrom(ctx)
	}
	if token == "" {
		token = c.anonKey
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("supabase: %s: %w", r.op, err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		apiErr := parseAPIError(resp)
		span.SetStatus(codes.Error, apiErr.Message)
		return nil, fmt.Errorf("supabase: %s: %w", r.op, apiErr)
	}
	return resp, nil
}

// doJSON performs r and decodes a JSON response into dest when dest is non-nil.
func (c *Client) doJSON(ctx context.Context, r request, dest any) error {
	resp, err := c.do(ctx, r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if dest == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("supabase: %s: decode response: %w", r.op, err)
	}
	return nil
}
