// Package config loads the adminboard server configuration from a YAML file and
// overlays ADMINBOARD_* environment variables on top of it.
//
// Config sections:
//   - Server: HTTP/gRPC ports, SPA directory, ops API key auth
//   - Log: slog level
//   - Backend: hosted backend URL, anon key / JWT secret via *_env indirection
//   - Cache: memory | redis store, idle GC time
//   - Realtime: channel name, heartbeat, reconnect policy, topic bindings,
//     optional database-webhook receiver
//   - Session: session cookie settings
//   - Alerts: notification rules and webhook targets
//   - Branding: optional logo / watermark asset URLs
//   - Settings: office contact details shown on the settings view
//   - Telemetry: optional OTLP trace export
//
// Load(path) applies defaults before unmarshalling, overlays the environment,
// then validates. Watch(ctx, path, fn) reloads on file writes.
package config
