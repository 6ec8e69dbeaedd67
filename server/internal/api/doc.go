// Package api implements the JSON API behind the dashboard views.
//
// New(deps) returns an http.Handler that serves:
//
//	GET    /api/v1/summary                   headline counters
//	GET    /api/v1/drivers?q=                drivers, optionally filtered
//	POST   /api/v1/drivers/{id}/verify       {"verified": bool}
//	GET    /api/v1/cars                      cars
//	POST   /api/v1/cars                      multipart create, optional "image" file
//	GET    /api/v1/jets                      jets
//	POST   /api/v1/jets                      multipart create, optional "image" file
//	GET    /api/v1/jets/basic                id, make, model, image_url
//	GET    /api/v1/jet-bookings              bookings with user and jet
//	GET    /api/v1/trips                     trips with rider, driver and car
//	GET    /api/v1/payouts                   driver payouts
//	GET    /api/v1/tickets                   support tickets
//	GET    /api/v1/users                     auth accounts
//	GET    /api/v1/events                    newest notification events
//	GET    /api/v1/counts/{table}            exact row count
//	GET    /api/v1/series/{table}            daily created_at counts
//	GET    /api/v1/jet-images                objects in the jets bucket
//	POST   /api/v1/jet-images                multipart upload, "file"
//	DELETE /api/v1/jet-images/{name}         remove an object
//	POST   /api/v1/jet-images/{name}/move    {"to": name}
//	POST   /api/v1/jet-images/{name}/assign  {"jet_id": id}
//	GET    /api/v1/settings                  contact details and branding
//	GET    /api/v1/alerts?limit=             recently fired notifications
//	GET    /api/v1/status                    transport, cache and push hub state
//	POST   /api/v1/auth/otp                  {"email"}; emails a login code
//	POST   /api/v1/auth/verify               {"email","code"}; sets the session cookie
//	POST   /api/v1/auth/refresh              renews the session from the refresh cookie
//	POST   /api/v1/auth/logout               revokes the session and clears cookies
//	GET    /api/v1/auth/session              the caller's admin session
//	GET    /healthz                          liveness
//
// Data routes expect auth.RequireAdmin in front of them and call the backend
// as the session's user. Errors are {"error": message}: invalid input is 400,
// backend 4xx statuses pass through, anything else is 502.
//
// JSON types are defined in types.go. No external HTTP framework is used.
package api
