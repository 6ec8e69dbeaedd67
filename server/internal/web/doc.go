// Package web serves the pre-built single-page dashboard.
//
// Known client routes (Routes) get index.html so the SPA router can take
// over. Other paths are served from the UI directory when a file exists
// there, and redirected to "/" otherwise. Without a UI directory a small
// built-in page stands in for index.html.
package web
