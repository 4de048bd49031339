// Package server exposes the record store and its change stream over HTTP.
//
// This package is internal to livestore and should not be imported directly.
// It routes CRUD and bulk-delete requests through the mutation layer and
// serves two subscription transports:
//   - GET /api/events: Server-Sent Events, heartbeats as ": keepalive" comments
//   - GET /api/ws: WebSocket, heartbeats as ping frames, topic filtering
//
// Both transports send INITIAL first and then every change event in commit
// order. Each subscriber has a bounded queue drained by the handler's own
// goroutine; a subscriber that cannot keep up is disconnected.
//
// The server is designed for graceful shutdown via context cancellation.
// Request contexts derive from the server context, so subscription handlers
// exit when the server stops.
package server
