// Package realtime turns remote row-change notifications into cache
// invalidations.
//
// A Subscriber owns Handles. Start opens one multiplexed channel on a Source
// for all the tables named by its bindings, and a single goroutine per Handle
// applies invalidations in the order the channel delivers changes. Stop tears
// the channel down; once it returns nothing more is invalidated through that
// Handle.
//
// Conn is the Source backed by the backend's Phoenix websocket protocol. It
// reconnects with truncated exponential backoff and, after a drop, rejoins
// every channel and emits a Resync change so bound keys are refreshed.
package realtime
