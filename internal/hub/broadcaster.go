package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// CommitFunc performs a store mutation and describes it.
//
// A nil event means nothing is published. An event returned together with an
// error is still published; this is how partially applied bulk operations
// report what they did.
type CommitFunc func(ctx context.Context) (*ChangeEvent, error)

// SnapshotFunc returns the payload of an INITIAL event.
type SnapshotFunc func(ctx context.Context) (any, error)

// Broadcaster assigns sequence numbers and fans events out to a [Registry].
//
// One lock covers "mutate, build payload, publish" in [Broadcaster.Commit] and
// "snapshot, send INITIAL, register" in [Broadcaster.Attach]. Events are
// therefore offered in commit order, and a subscriber attached at sequence S
// sees exactly the events after S.
type Broadcaster struct {
	mu       sync.Mutex
	seq      uint64
	registry *Registry
	hooks    []func(ChangeEvent)
	logger   *slog.Logger
}

// NewBroadcaster creates a broadcaster over registry. Hooks run after every
// published event, under the commit lock, in the order given. Hooks must not
// block or publish.
func NewBroadcaster(registry *Registry, logger *slog.Logger, hooks ...func(ChangeEvent)) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		registry: registry,
		hooks:    hooks,
		logger:   logger,
	}
}

// Registry returns the registry events are delivered to.
func (b *Broadcaster) Registry() *Registry {
	return b.registry
}

// Sequence returns the sequence number of the last published event.
func (b *Broadcaster) Sequence() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Publish sequences ev and offers it to every interested subscriber.
// It returns the event with Seq set.
func (b *Broadcaster) Publish(ev ChangeEvent) ChangeEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.publishLocked(ev)
}

// Commit runs fn under the commit lock and publishes the event it returns.
func (b *Broadcaster) Commit(ctx context.Context, fn CommitFunc) (ChangeEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ev, err := fn(ctx)
	if ev == nil {
		return ChangeEvent{}, err
	}
	return b.publishLocked(*ev), err
}

// Attach queues an INITIAL event built from snapshot and registers sub.
//
// The INITIAL event carries the current sequence number without consuming a
// new one. If snapshot fails, sub is not registered.
func (b *Broadcaster) Attach(ctx context.Context, sub *Subscriber, snapshot SnapshotFunc) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, err := snapshot(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to snapshot store: %w", err)
	}

	ev := ChangeEvent{Type: KindInitial, Data: state, Seq: b.seq}
	payload, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("failed to encode initial event: %w", err)
	}

	if res := sub.offer(Frame{Kind: FrameEvent, Seq: ev.Seq, Payload: payload}); res != offerQueued {
		return "", fmt.Errorf("subscriber %s cannot accept initial event", sub.ID())
	}
	sub.since.Store(b.seq)

	return b.registry.Register(sub), nil
}

func (b *Broadcaster) publishLocked(ev ChangeEvent) ChangeEvent {
	b.seq++
	ev.Seq = b.seq

	payload, err := json.Marshal(ev)
	if err != nil {
		// the sequence number is spent; subscribers see a gap
		b.logger.Error("failed to encode change event",
			"type", ev.Type,
			"resource", ev.Resource,
			"seq", ev.Seq,
			"error", err.Error(),
		)
		return ev
	}

	frame := Frame{Kind: FrameEvent, Seq: ev.Seq, Topic: ev.Topic(), Payload: payload}
	b.registry.ForEach(func(sub *Subscriber) {
		if !sub.Interested(frame.Topic) {
			return
		}
		if sub.offer(frame) == offerOverflow {
			b.logger.Warn("subscriber queue full, disconnecting",
				"subscriber", sub.ID(),
				"seq", ev.Seq,
			)
			b.registry.Unregister(sub.ID())
		}
	})

	b.logger.Debug("event published",
		"type", ev.Type,
		"resource", ev.Resource,
		"seq", ev.Seq,
	)

	for _, hook := range b.hooks {
		hook(ev)
	}
	return ev
}
