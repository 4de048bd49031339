// Package livestore provides an embeddable JSON record store that pushes
// every committed change to connected subscribers in real time.
//
// LiveStore is designed as an SDK-first library: configure it with
// functional options, start it with a context, and any write made through
// its REST routes is broadcast to every Server-Sent Events and WebSocket
// subscriber in commit order.
//
// # Quick Start
//
// Serve the built-in dataset with graceful shutdown:
//
//	ls, _ := livestore.New(livestore.WithPort(3001))
//
//	// Set up graceful shutdown on SIGINT/SIGTERM
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	ls.Start(ctx) // blocks until context is cancelled
//
// # Configuration
//
// LiveStore uses the functional options pattern for configuration:
//
//	ls, err := livestore.New(
//	    livestore.WithPort(9090),
//	    livestore.WithKeepaliveInterval(15 * time.Second),
//	    livestore.WithSeedFile("db.json"),
//	    livestore.WithResources("posts"),
//	    livestore.WithPostgres(os.Getenv("DATABASE_URL")),
//	)
//
// # Change Streams
//
// A subscriber connects to /api/events (SSE) or /api/ws (WebSocket). Its
// first event is INITIAL, the full state of every resource, followed by one
// event per committed write:
//
//   - CREATED, UPDATED: the written record
//   - DELETED: the removed id and the remaining collection
//   - BULK_DELETED: the removed ids and the remaining collection
//
// Every event carries a sequence number that increases by one per event.
// Idle subscribers get a heartbeat every keepalive interval. A subscriber
// that cannot keep up is disconnected rather than allowed to stall others.
// WebSocket subscribers may narrow the stream to chosen resources with
// {"type":"subscribe","topics":[...]} messages.
//
// The subscriber package provides a reconnecting client for these streams.
//
// # Architecture
//
// LiveStore consists of several internal packages (under internal/):
//
//   - internal/store: Record storage in memory or Postgres
//   - internal/hub: Subscriber registry, broadcaster and keepalive scheduler
//   - internal/mutation: Validation and the commit-then-broadcast write path
//   - internal/server: HTTP server with REST routes, SSE and WebSocket
//
// The internal packages are not part of the public API and may change
// without notice.
package livestore
