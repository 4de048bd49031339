// Package hub fans committed record changes out to live subscriber connections.
//
// This package is internal to livestore. It owns the real-time side of the
// system:
//
//   - [ChangeEvent]: Structured description of one committed mutation
//   - [Subscriber]: One open connection with a bounded outbound frame queue
//   - [Registry]: The set of currently registered subscribers
//   - [Broadcaster]: Sequences events and offers them to every subscriber
//   - [Keepalive]: Sends heartbeats to idle subscribers on a fixed interval
//   - [Pump]: Drains a subscriber's queue into its transport
//
// Publishing never blocks on a subscriber. Frames are queued per subscriber
// and written by that subscriber's own goroutine, so a stalled client only
// ever delays itself. A subscriber whose queue overflows is disconnected;
// it recovers by reconnecting and receiving a fresh INITIAL snapshot.
package hub
