package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultGRPCPort       = 50051
	DefaultHTTPPort       = 8080
	DefaultBackendTimeout = 15 * time.Second
	DefaultCacheGCTime    = 5 * time.Minute
	DefaultChannel        = "admin-realtime"
	DefaultHeartbeat      = 25 * time.Second
	DefaultBackoffInitial = 1 * time.Second
	DefaultBackoffMax     = 60 * time.Second
	DefaultBackoffFactor  = 2.0
	DefaultCookieName     = "adminboard_session"
	DefaultRedisPrefix    = "adminboard:cache:"
)

// Config is the full adminboard configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Backend   BackendConfig   `yaml:"backend"`
	Cache     CacheConfig     `yaml:"cache"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Session   SessionConfig   `yaml:"session"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Branding  BrandingConfig  `yaml:"branding"`
	Settings  SettingsConfig  `yaml:"settings"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds listener settings.
type ServerConfig struct {
	// HTTPPort serves the SPA, the JSON API, /metrics and the websocket hub.
	HTTPPort int `yaml:"http_port"`

	// GRPCPort serves the ops gRPC health service. Zero disables it.
	GRPCPort int `yaml:"grpc_port"`

	// UIDir is the directory holding the pre-built SPA. Empty disables static serving.
	UIDir string `yaml:"ui_dir"`

	// Auth guards the ops gRPC port.
	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig controls API key authentication on the ops gRPC port.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	KeyEnv string `yaml:"key_env"`

	// Header is the gRPC metadata key to read the key from. Defaults to "x-api-key".
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// LogConfig selects the slog level.
type LogConfig struct {
	Level string `yaml:"level"`
}

// SlogLevel maps Level to a slog.Level, defaulting to Info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// BackendConfig points at the hosted backend project.
type BackendConfig struct {
	// URL is the project base URL, e.g. https://abcd.supabase.co.
	URL string `yaml:"url"`

	// AnonKeyEnv names the environment variable holding the public anon key.
	AnonKeyEnv string `yaml:"anon_key_env"`

	// JWTSecretEnv names the environment variable holding the project's JWT secret,
	// used to verify session tokens locally before the remote admin check.
	JWTSecretEnv string `yaml:"jwt_secret_env"`

	// Timeout bounds every remote call.
	Timeout time.Duration `yaml:"timeout"`
}

// AnonKey returns the anon key resolved from the environment.
func (b BackendConfig) AnonKey() string {
	if b.AnonKeyEnv == "" {
		return ""
	}
	return os.Getenv(b.AnonKeyEnv)
}

// JWTSecret returns the JWT secret resolved from the environment.
func (b BackendConfig) JWTSecret() string {
	if b.JWTSecretEnv == "" {
		return ""
	}
	return os.Getenv(b.JWTSecretEnv)
}

// CacheConfig selects and tunes the query cache store.
type CacheConfig struct {
	// Backend is one of: memory | redis.
	Backend string `yaml:"backend"`

	// GCTime is how long an entry survives without being read.
	GCTime time.Duration `yaml:"gc_time"`

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig is used when Cache.Backend == "redis".
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
	Prefix      string `yaml:"prefix"`
}

// Password returns the redis password resolved from the environment.
func (r RedisConfig) Password() string {
	if r.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(r.PasswordEnv)
}

// RealtimeConfig configures change notifications and the keys they invalidate.
type RealtimeConfig struct {
	// Enabled turns the websocket change feed on.
	Enabled bool `yaml:"enabled"`

	// Channel is the logical channel name joined on the realtime service.
	Channel string `yaml:"channel"`

	// AccessTokenEnv names the environment variable holding the token sent
	// with each join. Empty joins with the anon key.
	AccessTokenEnv string `yaml:"access_token_env"`

	// Heartbeat is the interval between protocol heartbeats.
	Heartbeat time.Duration `yaml:"heartbeat"`

	// Reconnect is the policy applied when the connection drops.
	Reconnect ReconnectConfig `yaml:"reconnect"`

	// ResyncOnReconnect invalidates every bound key once after a rejoin, since
	// changes made while disconnected were never observed.
	ResyncOnReconnect bool `yaml:"resync_on_reconnect"`

	// Bindings maps watched tables to the cache keys they invalidate.
	Bindings []BindingConfig `yaml:"bindings"`

	// Webhook accepts database webhook deliveries as a second change source.
	Webhook WebhookReceiverConfig `yaml:"webhook"`
}

// AccessToken returns the join token resolved from the environment, or "".
func (r RealtimeConfig) AccessToken() string {
	if r.AccessTokenEnv == "" {
		return ""
	}
	return os.Getenv(r.AccessTokenEnv)
}

// ReconnectConfig is a truncated exponential backoff with jitter.
type ReconnectConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`
}

// BindingConfig binds one table to a list of cache keys.
type BindingConfig struct {
	Table string     `yaml:"table"`
	Keys  [][]string `yaml:"keys"`
}

// WebhookReceiverConfig enables POST /hooks/db.
type WebhookReceiverConfig struct {
	Enabled   bool   `yaml:"enabled"`
	SecretEnv string `yaml:"secret_env"`
	Header    string `yaml:"header"`
}

// Secret returns the shared webhook secret resolved from the environment.
func (w WebhookReceiverConfig) Secret() string {
	if w.SecretEnv == "" {
		return ""
	}
	return os.Getenv(w.SecretEnv)
}

// EffectiveHeader returns the configured header name, or "x-webhook-secret".
func (w WebhookReceiverConfig) EffectiveHeader() string {
	if w.Header != "" {
		return w.Header
	}
	return "x-webhook-secret"
}

// SessionConfig controls the session cookie.
type SessionConfig struct {
	CookieName string `yaml:"cookie_name"`
	Secure     bool   `yaml:"secure"`
}

// AlertsConfig holds notification rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule fires when a change on Table matches one of Events.
type AlertRule struct {
	// Name is the human-readable rule identifier, used as the cooldown key.
	Name string `yaml:"name"`

	// Table is the watched table, e.g. "jet_bookings".
	Table string `yaml:"table"`

	// Events is a subset of INSERT | UPDATE | DELETE, or "*". Empty means "*".
	Events []string `yaml:"events"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration. Zero means no cooldown.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// BrandingConfig carries optional asset URLs.
type BrandingConfig struct {
	LogoURL      string `yaml:"logo_url"`
	WatermarkURL string `yaml:"watermark_url"`
}

// SettingsConfig is the static contact information on the settings view.
type SettingsConfig struct {
	OfficeAddress string `yaml:"office_address"`
	WhatsApp      string `yaml:"whatsapp"`
}

// TelemetryConfig enables OTLP trace export when Endpoint is set.
type TelemetryConfig struct {
	Endpoint    string `yaml:"otlp_endpoint"`
	ServiceName string `yaml:"service_name"`
}

// envOverlay lists the values that may come from the environment instead of the file.
// Non-empty values win over the YAML.
type envOverlay struct {
	BackendURL    string `env:"ADMINBOARD_BACKEND_URL"`
	HTTPPort      int    `env:"ADMINBOARD_HTTP_PORT"`
	GRPCPort      int    `env:"ADMINBOARD_GRPC_PORT"`
	UIDir         string `env:"ADMINBOARD_UI_DIR"`
	LogLevel      string `env:"ADMINBOARD_LOG_LEVEL"`
	CacheBackend  string `env:"ADMINBOARD_CACHE_BACKEND"`
	RedisAddr     string `env:"ADMINBOARD_REDIS_ADDR"`
	LogoURL       string `env:"ADMINBOARD_LOGO_URL"`
	WatermarkURL  string `env:"ADMINBOARD_WATERMARK_URL"`
	OTLPEndpoint  string `env:"ADMINBOARD_OTLP_ENDPOINT"`
	OfficeAddress string `env:"ADMINBOARD_OFFICE_ADDRESS"`
	WhatsApp      string `env:"ADMINBOARD_WHATSAPP"`
}

// Load reads and parses the config file at path, returning the configuration.
// Missing fields are filled with defaults, then the environment overlay is applied,
// then the result is validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if len(cfg.Realtime.Bindings) == 0 {
		cfg.Realtime.Bindings = DefaultBindings()
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// DefaultBindings returns the table -> cache key bindings the dashboard ships with.
// Every count and series key of a watched table is bound, and the tables the
// landing summary counts also bind ["summary"].
func DefaultBindings() []BindingConfig {
	return []BindingConfig{
		{Table: "jet_bookings", Keys: [][]string{{"jet_bookings"}, {"count", "jet_bookings"}, {"series", "jet_bookings"}, {"events"}, {"count", "events"}, {"series", "events"}}},
		{Table: "trips", Keys: [][]string{{"trips"}, {"count", "trips"}, {"series", "trips"}, {"summary"}, {"events"}, {"count", "events"}, {"series", "events"}}},
		{Table: "events", Keys: [][]string{{"events"}, {"count", "events"}, {"series", "events"}}},
		{Table: "jets", Keys: [][]string{{"count", "jets"}, {"series", "jets"}}},
		{Table: "cars", Keys: [][]string{{"count", "cars"}, {"series", "cars"}}},
		{Table: "drivers", Keys: [][]string{{"drivers"}, {"count", "drivers"}, {"series", "drivers"}, {"summary"}}},
		{Table: "payouts", Keys: [][]string{{"payouts"}, {"count", "payouts"}, {"series", "payouts"}, {"summary"}}},
		{Table: "tickets", Keys: [][]string{{"tickets"}, {"count", "tickets"}, {"series", "tickets"}, {"summary"}}},
	}
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
			GRPCPort: DefaultGRPCPort,
		},
		Log: LogConfig{Level: "info"},
		Backend: BackendConfig{
			AnonKeyEnv:   "SUPABASE_ANON_KEY",
			JWTSecretEnv: "SUPABASE_JWT_SECRET",
			Timeout:      DefaultBackendTimeout,
		},
		Cache: CacheConfig{
			Backend: "memory",
			GCTime:  DefaultCacheGCTime,
			Redis:   RedisConfig{Prefix: DefaultRedisPrefix},
		},
		Realtime: RealtimeConfig{
			Enabled:   true,
			Channel:   DefaultChannel,
			Heartbeat: DefaultHeartbeat,
			Reconnect: ReconnectConfig{
				Enabled:    true,
				Initial:    DefaultBackoffInitial,
				Max:        DefaultBackoffMax,
				Multiplier: DefaultBackoffFactor,
			},
			ResyncOnReconnect: true,
		},
		Session: SessionConfig{
			CookieName: DefaultCookieName,
			Secure:     true,
		},
		Telemetry: TelemetryConfig{ServiceName: "adminboard"},
	}
}

// applyEnv overlays non-empty ADMINBOARD_* variables onto cfg.
func applyEnv(cfg *Config) error {
	var ov envOverlay
	if err := env.Parse(&ov); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if ov.BackendURL != "" {
		cfg.Backend.URL = ov.BackendURL
	}
	if ov.HTTPPort != 0 {
		cfg.Server.HTTPPort = ov.HTTPPort
	}
	if ov.GRPCPort != 0 {
		cfg.Server.GRPCPort = ov.GRPCPort
	}
	if ov.UIDir != "" {
		cfg.Server.UIDir = ov.UIDir
	}
	if ov.LogLevel != "" {
		cfg.Log.Level = ov.LogLevel
	}
	if ov.CacheBackend != "" {
		cfg.Cache.Backend = ov.CacheBackend
	}
	if ov.RedisAddr != "" {
		cfg.Cache.Redis.Addr = ov.RedisAddr
	}
	if ov.LogoURL != "" {
		cfg.Branding.LogoURL = ov.LogoURL
	}
	if ov.WatermarkURL != "" {
		cfg.Branding.WatermarkURL = ov.WatermarkURL
	}
	if ov.OTLPEndpoint != "" {
		cfg.Telemetry.Endpoint = ov.OTLPEndpoint
	}
	if ov.OfficeAddress != "" {
		cfg.Settings.OfficeAddress = ov.OfficeAddress
	}
	if ov.WhatsApp != "" {
		cfg.Settings.WhatsApp = ov.WhatsApp
	}
	return nil
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	if cfg.Server.GRPCPort < 0 || cfg.Server.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port %d is out of range [0, 65535]", cfg.Server.GRPCPort)
	}
	switch cfg.Server.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", cfg.Server.Auth.Mode)
	}
	if cfg.Backend.URL == "" {
		return fmt.Errorf("backend.url is required")
	}
	if cfg.Backend.Timeout <= 0 {
		return fmt.Errorf("backend.timeout must be positive")
	}
	switch cfg.Cache.Backend {
	case "memory":
	case "redis":
		if cfg.Cache.Redis.Addr == "" {
			return fmt.Errorf("cache.redis.addr is required when cache.backend is redis")
		}
	default:
		return fmt.Errorf("cache.backend %q unknown: want memory|redis", cfg.Cache.Backend)
	}
	if cfg.Cache.GCTime < 0 {
		return fmt.Errorf("cache.gc_time must not be negative")
	}
	rt := cfg.Realtime
	if rt.Enabled && rt.Channel == "" {
		return fmt.Errorf("realtime.channel is required")
	}
	if rt.Heartbeat <= 0 {
		return fmt.Errorf("realtime.heartbeat must be positive")
	}
	if rt.Reconnect.Enabled {
		if rt.Reconnect.Initial <= 0 || rt.Reconnect.Max < rt.Reconnect.Initial {
			return fmt.Errorf("realtime.reconnect: want 0 < initial <= max")
		}
		if rt.Reconnect.Multiplier < 1 {
			return fmt.Errorf("realtime.reconnect.multiplier must be >= 1")
		}
	}
	if rt.Webhook.Enabled && rt.Webhook.Secret() == "" {
		return fmt.Errorf("realtime.webhook: secret_env must name a non-empty variable when enabled")
	}
	for i, b := range rt.Bindings {
		if b.Table == "" {
			return fmt.Errorf("realtime.bindings[%d]: table is required", i)
		}
		if len(b.Keys) == 0 {
			return fmt.Errorf("realtime.bindings[%d] %q: at least one key is required", i, b.Table)
		}
		for j, k := range b.Keys {
			if len(k) == 0 {
				return fmt.Errorf("realtime.bindings[%d] %q: keys[%d] is empty", i, b.Table, j)
			}
		}
	}
	for i, r := range cfg.Alerts.Rules {
		if r.Name == "" || r.Table == "" {
			return fmt.Errorf("alerts.rules[%d]: name and table are required", i)
		}
		for _, ev := range r.Events {
			switch strings.ToUpper(ev) {
			case "INSERT", "UPDATE", "DELETE", "*":
			default:
				return fmt.Errorf("alerts.rules[%d] %q: unknown event %q", i, r.Name, ev)
			}
		}
	}
	return nil
}
