// Package alerts turns selected realtime changes into staff notifications.
//
// Rules are read from the alerts section of the server config. Each rule names
// a table, the change types it cares about (INSERT, UPDATE, DELETE or "*") and
// a severity. Engine.Handle is registered as a realtime listener; when a rule
// matches and its cooldown for that table has elapsed, a Notification is
// recorded and delivered asynchronously to every configured webhook
// (slack, teams or plain http).
//
// Recent returns the newest notifications first for GET /api/v1/alerts.
package alerts
