// Package supabase is a small HTTP client for the hosted backend the dashboard
// runs on: PostgREST tables and RPC, object storage, and GoTrue auth.
//
// Every call takes the caller's context. The bearer token comes from
// WithToken on that context, falling back to the project's anon key, so row
// level security is evaluated for the signed-in admin. Calls are never retried.
package supabase
