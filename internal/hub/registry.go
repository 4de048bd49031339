package hub

import (
	"log/slog"
	"sync"
)

// Registry tracks the subscribers that currently receive events.
//
// Registration and removal are mutually exclusive with snapshot reads, and
// [Registry.ForEach] iterates a copy, so subscribers may come and go while a
// broadcast is in flight without being skipped or visited twice.
type Registry struct {
	mu     sync.RWMutex
	subs   map[string]*Subscriber
	closed bool
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		subs:   make(map[string]*Subscriber),
		logger: logger,
	}
}

// Register adds sub and returns its handle. Registering into a closed
// registry closes sub immediately.
func (r *Registry) Register(sub *Subscriber) string {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		sub.close()
		return sub.ID()
	}
	r.subs[sub.ID()] = sub
	n := len(r.subs)
	r.mu.Unlock()

	r.logger.Debug("subscriber registered", "subscriber", sub.ID(), "subscribers", n)
	return sub.ID()
}

// Unregister removes the subscriber with the given handle and closes it.
// It is idempotent and reports whether this call did the removal.
func (r *Registry) Unregister(handle string) bool {
	r.mu.Lock()
	sub, ok := r.subs[handle]
	if ok {
		delete(r.subs, handle)
	}
	n := len(r.subs)
	r.mu.Unlock()

	if !ok {
		return false
	}
	sub.close()
	r.logger.Debug("subscriber unregistered", "subscriber", handle, "subscribers", n)
	return true
}

// ForEach calls fn for every subscriber registered when ForEach was called.
// fn may call Register or Unregister.
func (r *Registry) ForEach(fn func(*Subscriber)) {
	r.mu.RLock()
	snapshot := make([]*Subscriber, 0, len(r.subs))
	for _, sub := range r.subs {
		snapshot = append(snapshot, sub)
	}
	r.mu.RUnlock()

	for _, sub := range snapshot {
		fn(sub)
	}
}

// Count returns the number of registered subscribers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Close unregisters every subscriber and rejects future registrations.
// Close is idempotent.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	subs := r.subs
	r.subs = make(map[string]*Subscriber)
	r.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	if len(subs) > 0 {
		r.logger.Info("registry closed", "subscribers", len(subs))
	}
}
