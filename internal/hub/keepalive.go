package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultKeepaliveInterval is the longest a subscriber stays silent before it
// is sent a heartbeat.
const DefaultKeepaliveInterval = 30 * time.Second

// beatsPerInterval is how many registry passes run per interval.
const beatsPerInterval = 4

// Keepalive sends heartbeat frames to idle subscribers.
//
// It visits the registry several times per interval and queues a heartbeat
// for each subscriber that would otherwise reach the end of the interval
// without a write. A subscriber therefore never goes longer than one
// interval without a frame, and an idle one gets one heartbeat per interval.
// The heartbeat travels through the subscriber's normal queue, so a dead
// connection surfaces as a write failure in [Pump] and is unregistered there.
//
// All lifecycle methods (Start, Stop) are safe for concurrent use.
type Keepalive struct {
	registry *Registry
	interval time.Duration
	tick     time.Duration
	logger   *slog.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewKeepalive creates a keepalive scheduler. A non-positive interval falls
// back to [DefaultKeepaliveInterval].
func NewKeepalive(registry *Registry, interval time.Duration, logger *slog.Logger) *Keepalive {
	if interval <= 0 {
		interval = DefaultKeepaliveInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	tick := interval / beatsPerInterval
	if tick <= 0 {
		tick = interval
	}
	return &Keepalive{
		registry: registry,
		interval: interval,
		tick:     tick,
		logger:   logger,
		now:      time.Now,
	}
}

// Interval returns the heartbeat interval.
func (k *Keepalive) Interval() time.Duration {
	return k.interval
}

// Start begins the heartbeat loop in a background goroutine.
//
// If ctx is nil, context.Background() is used as the parent context.
// Start is idempotent; subsequent calls after the first are no-ops.
// If Stop was called before Start, Start is a no-op.
func (k *Keepalive) Start(ctx context.Context) {
	k.mu.Lock()
	if k.started || k.stopped {
		k.mu.Unlock()
		return
	}
	k.started = true

	if ctx == nil {
		ctx = context.Background()
	}
	k.ctx, k.cancel = context.WithCancel(ctx)
	loopCtx := k.ctx // capture under lock to avoid race
	k.wg.Add(1)
	k.mu.Unlock()

	go func() {
		defer k.wg.Done()

		ticker := time.NewTicker(k.tick)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				k.Beat()
			}
		}
	}()
}

// Stop halts the heartbeat loop and waits for it to exit.
// Stop is idempotent and safe to call before Start.
func (k *Keepalive) Stop() {
	k.mu.Lock()
	if !k.stopped {
		k.stopped = true
		if k.cancel != nil {
			k.cancel()
		}
	}
	k.mu.Unlock()

	k.wg.Wait()
}

// Beat runs one heartbeat pass and returns how many heartbeats were queued.
//
// A subscriber is due when it has been idle long enough that the next pass
// would come after its interval has run out.
func (k *Keepalive) Beat() int {
	cutoff := k.now().Add(k.tick - k.interval)
	sent := 0

	k.registry.ForEach(func(sub *Subscriber) {
		if sub.LastActivity().After(cutoff) {
			return
		}
		switch sub.offer(Frame{Kind: FrameHeartbeat}) {
		case offerQueued:
			sent++
		case offerOverflow:
			// an idle subscriber with a full queue is not draining at all
			k.logger.Warn("subscriber queue full on heartbeat, disconnecting", "subscriber", sub.ID())
			k.registry.Unregister(sub.ID())
		}
	})

	if sent > 0 {
		k.logger.Debug("heartbeats queued", "count", sent)
	}
	return sent
}
