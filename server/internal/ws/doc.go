// Package ws implements the browser push hub for adminboard-server.
//
// Browsers keep one WebSocket open at /ws/stream. The hub does not carry data;
// it tells the UI which cached query results went stale so the open view can
// refetch them through the JSON API.
//
// New(connected, interval) creates a Hub. connected reports whether the
// realtime transport is up.
// Hub.Notify(keys) broadcasts an invalidation batch. Its signature matches
// cache.Listener so it can be registered with cache.Client.OnInvalidate.
// Hub.Run(ctx) polls connected every interval and broadcasts a status event
// when it flips. It blocks until ctx is cancelled, then closes all clients.
//
// Messages sent to clients:
//
//	{"event": "hello",      "data": {"connected": true}}
//	{"event": "status",     "data": {"connected": false}}
//	{"event": "invalidate", "data": {"keys": [["drivers"], ["jets", "basic"]]}}
//
// The upgrader accepts all origins. The endpoint sits behind the admin session
// middleware, which is where access is enforced.
package ws
