// Package metrics exposes adminboard-server's internal counters in the
// Prometheus text format at /metrics.
//
// The Registry pulls current values from its Sources at scrape time and keeps
// only one piece of state of its own: realtime changes counted per table and
// type, fed by ObserveChange. Families are built as client_model protos and
// written with the expfmt text encoder.
package metrics
