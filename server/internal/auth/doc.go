// Package auth decides who may use the dashboard.
//
// Browser and API callers present the backend's access token, either in the
// session cookie set at login or as a bearer token. Authenticator verifies it
// (HS256 signature with the project JWT secret, expiry, subject) and then asks
// the backend whether the user is an admin through the is_admin RPC. The
// answer is never computed locally. Positive answers are remembered for a
// short time per token.
//
// RequireAdmin wraps an http.Handler: API paths get 401/403 JSON, page paths
// are redirected to /login.
//
// APIKeyInterceptor and APIKeyStreamInterceptor guard the ops gRPC port with
// a shared key read from gRPC metadata. When mode != "apikey" or the key is
// empty every call passes through.
package auth
