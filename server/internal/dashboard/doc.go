// Package dashboard implements the reads and mutations behind every admin view.
//
// Each read goes through the shared cache.Client under the key its view uses,
// so realtime invalidations and mutation handlers refresh the same entries.
// Mutations call the backend and then invalidate by key prefix, the way the
// views' success handlers did.
package dashboard
