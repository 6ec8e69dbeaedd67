// Package types defines the record shapes the dashboard reads from and writes to
// the hosted backend. The backend owns the schemas; these structs only mirror the
// columns and RPC result fields the admin views consume, so most fields are
// pointers and may be absent.
package types
