package hub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultQueueSize is the outbound frame capacity of a subscriber.
const DefaultQueueSize = 64

type offerResult int

const (
	offerQueued offerResult = iota
	offerClosed
	offerOverflow
)

// Subscriber is one open subscription connection.
//
// Frames are queued by the [Broadcaster] and [Keepalive] and drained by
// exactly one goroutine, normally via [Pump]. A Subscriber is closed when it
// is unregistered; after that every offer is dropped.
type Subscriber struct {
	id           string
	registeredAt time.Time
	frames       chan Frame
	done         chan struct{}

	mu     sync.Mutex
	closed bool
	topics map[string]struct{} // nil means every topic

	lastActivity atomic.Int64 // unix nanos of the last successful write
	since        atomic.Uint64
}

// NewSubscriber creates a subscriber with the given queue capacity.
// Sizes below 1 fall back to [DefaultQueueSize].
func NewSubscriber(queueSize int) *Subscriber {
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}
	now := time.Now()
	s := &Subscriber{
		id:           uuid.NewString(),
		registeredAt: now,
		frames:       make(chan Frame, queueSize),
		done:         make(chan struct{}),
	}
	s.lastActivity.Store(now.UnixNano())
	return s
}

// ID returns the subscriber's registry handle.
func (s *Subscriber) ID() string {
	return s.id
}

// RegisteredAt returns when the subscriber was created.
func (s *Subscriber) RegisteredAt() time.Time {
	return s.registeredAt
}

// Since returns the sequence number the subscriber's INITIAL snapshot reflects.
func (s *Subscriber) Since() uint64 {
	return s.since.Load()
}

// Frames returns the outbound queue. It is never closed; select on [Subscriber.Done].
func (s *Subscriber) Frames() <-chan Frame {
	return s.frames
}

// Done is closed once the subscriber has been unregistered.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Alive reports whether the subscriber is still registered.
func (s *Subscriber) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Subscribe narrows delivery to the given topics, adding to any existing filter.
func (s *Subscriber) Subscribe(topics ...string) {
	if len(topics) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.topics == nil {
		s.topics = make(map[string]struct{}, len(topics))
	}
	for _, t := range topics {
		s.topics[t] = struct{}{}
	}
}

// Unsubscribe removes topics from the filter. Once the filter is empty the
// subscriber receives every topic again.
func (s *Subscriber) Unsubscribe(topics ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range topics {
		delete(s.topics, t)
	}
	if len(s.topics) == 0 {
		s.topics = nil
	}
}

// Interested reports whether an event for topic should be delivered.
func (s *Subscriber) Interested(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.topics == nil || topic == "" {
		return true
	}
	_, ok := s.topics[topic]
	return ok
}

// MarkActive records a successful write to the transport.
func (s *Subscriber) MarkActive() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity returns the time of the last successful write, or the
// registration time if nothing has been written yet.
func (s *Subscriber) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// offer enqueues f without blocking.
func (s *Subscriber) offer(f Frame) offerResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return offerClosed
	}
	select {
	case s.frames <- f:
		return offerQueued
	default:
		return offerOverflow
	}
}

// close marks the subscriber closed. Returns false if it already was.
func (s *Subscriber) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	close(s.done)
	return true
}
