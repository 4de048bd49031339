package livestore

import (
	"log/slog"
	"sync"

	"github.com/jpalmerr/livestore/internal/hub"
)

// callbackQueue hands committed events to change callbacks on a single
// goroutine, in commit order, after the broadcast lock has been released.
//
// The queue is unbounded so that push never blocks a commit. A callback may
// therefore write back through the HTTP API without deadlocking.
type callbackQueue struct {
	callbacks []func(ChangeEvent)
	logger    *slog.Logger

	mu      sync.Mutex
	pending []hub.ChangeEvent
	closed  bool

	wake chan struct{}
	done chan struct{}
}

func newCallbackQueue(callbacks []func(ChangeEvent), logger *slog.Logger) *callbackQueue {
	return &callbackQueue{
		callbacks: callbacks,
		logger:    logger,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// push queues ev for delivery. Events pushed after close are dropped.
func (q *callbackQueue) push(ev hub.ChangeEvent) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, ev)
	q.mu.Unlock()

	q.signal()
}

func (q *callbackQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// run delivers queued events until the queue is closed and drained.
func (q *callbackQueue) run() {
	defer close(q.done)

	for {
		q.mu.Lock()
		batch := q.pending
		q.pending = nil
		closed := q.closed
		q.mu.Unlock()

		for _, ev := range batch {
			for _, cb := range q.callbacks {
				invokeCallbackSafe(cb, toPublicEvent(ev), q.logger)
			}
		}

		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-q.wake
	}
}

// close stops accepting events and waits until every queued event has been
// delivered. It must only be called after run has been started.
func (q *callbackQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.signal()
	<-q.done
}
