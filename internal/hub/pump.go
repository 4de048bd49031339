package hub

import (
	"context"
	"fmt"
)

// WriteFunc writes a single frame to a subscriber's transport.
type WriteFunc func(Frame) error

// Pump drains sub's queue into write until ctx is cancelled, sub is
// unregistered, or a write fails. On return sub is always unregistered.
//
// Pump must be the only goroutine writing to the transport. It returns nil
// on cancellation or removal and the write error otherwise.
func Pump(ctx context.Context, registry *Registry, sub *Subscriber, write WriteFunc) error {
	defer registry.Unregister(sub.ID())

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.Done():
			return nil
		case f := <-sub.Frames():
			if err := write(f); err != nil {
				return fmt.Errorf("failed to write to subscriber %s: %w", sub.ID(), err)
			}
			sub.MarkActive()
		}
	}
}
