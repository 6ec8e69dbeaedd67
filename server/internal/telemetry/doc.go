// Package telemetry installs the OpenTelemetry trace provider for
// adminboard-server. Tracing is opt-in: with no OTLP endpoint configured,
// Setup registers nothing and spans created by the backend client go to the
// global no-op provider.
package telemetry
