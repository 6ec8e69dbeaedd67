// Package receiver accepts row-change notifications pushed by the backend's
// database webhooks and feeds them to realtime subscribers.
//
// Receiver implements realtime.Source. Its HTTP handler checks a shared secret
// header (401 when wrong), decodes the webhook body
// {"type","table","schema","record","old_record"} (400 when malformed) and
// hands the change to every joined channel that covers the table.
//
// It is an alternative feed for deployments where the websocket endpoint is
// unreachable; the same bindings apply to both.
package receiver
