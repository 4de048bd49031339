// Package store provides the record store behind livestore.
//
// This package is internal to livestore and holds the resource collections
// that mutations are applied to. Records are JSON objects keyed by a numeric
// "id" field, grouped by resource name (e.g. "users", "roles").
//
// The main components are:
//
//   - [Store]: Interface defining the narrow contract the mutation layer uses
//   - [MemoryStore]: In-memory implementation with per-collection locking
//   - [PostgresStore]: Persistent implementation on a pgx connection pool
//   - [Record] and [Snapshot]: JSON-shaped record and full-state types
//
// The store does not publish changes itself. Every write is expected to go
// through the mutation package, which turns committed writes into change
// events for connected subscribers.
package store
