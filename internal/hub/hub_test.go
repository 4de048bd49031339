package hub

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// drain returns every frame currently queued for sub without blocking.
func drain(sub *Subscriber) []Frame {
	var out []Frame
	for {
		select {
		case f := <-sub.Frames():
			out = append(out, f)
		default:
			return out
		}
	}
}

// decode unmarshals an event frame's payload.
func decode(t *testing.T, f Frame) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(f.Payload, &m); err != nil {
		t.Fatalf("failed to decode frame payload %q: %v", f.Payload, err)
	}
	return m
}

func staticSnapshot(v any) SnapshotFunc {
	return func(context.Context) (any, error) { return v, nil }
}

func TestChangeEvent_MarshalJSON(t *testing.T) {
	id := int64(4)
	tests := []struct {
		name string
		ev   ChangeEvent
		want string
	}{
		{
			name: "created",
			ev:   ChangeEvent{Type: KindCreated, Resource: "users", Path: "/users", ID: &id, Data: map[string]any{"id": 4}, Seq: 7},
			want: `{"type":"CREATED","resource":"users","path":"/users","id":4,"data":{"id":4},"seq":7}`,
		},
		{
			name: "bulk with no ids keeps empty array",
			ev:   ChangeEvent{Type: KindBulkDeleted, Resource: "users", Data: []any{}, Seq: 2},
			want: `{"type":"BULK_DELETED","resource":"users","ids":[],"data":[],"seq":2}`,
		},
		{
			name: "bulk keeps a null slot for entries that are not ids",
			ev:   ChangeEvent{Type: KindBulkDeleted, Resource: "users", IDs: []*int64{&id, nil}, Data: []any{}, Seq: 3},
			want: `{"type":"BULK_DELETED","resource":"users","ids":[4,null],"data":[],"seq":3}`,
		},
		{
			name: "initial",
			ev:   ChangeEvent{Type: KindInitial, Data: map[string]any{}},
			want: `{"type":"INITIAL","data":{},"seq":0}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.ev)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Marshal() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSubscriber_TopicFilter(t *testing.T) {
	sub := NewSubscriber(4)

	if !sub.Interested("users") {
		t.Error("new subscriber should receive every topic")
	}

	sub.Subscribe()
	if !sub.Interested("users") {
		t.Error("subscribing to no topics should leave the filter open")
	}

	sub.Subscribe("roles")
	if sub.Interested("users") {
		t.Error("users should be filtered after subscribing to roles")
	}
	if !sub.Interested("roles") {
		t.Error("roles should be delivered")
	}

	sub.Unsubscribe("roles")
	if !sub.Interested("users") {
		t.Error("empty filter should deliver every topic again")
	}
}

func TestRegistry_UnregisterIdempotent(t *testing.T) {
	reg := NewRegistry(testLogger())
	sub := NewSubscriber(1)
	handle := reg.Register(sub)

	if !reg.Unregister(handle) {
		t.Error("first Unregister() = false, want true")
	}
	if reg.Unregister(handle) {
		t.Error("second Unregister() = true, want false")
	}
	if sub.Alive() {
		t.Error("subscriber should be closed after Unregister()")
	}
	select {
	case <-sub.Done():
	default:
		t.Error("Done() should be closed after Unregister()")
	}
	if reg.Count() != 0 {
		t.Errorf("Count() = %d, want 0", reg.Count())
	}
}

func TestRegistry_ForEachSnapshot(t *testing.T) {
	reg := NewRegistry(testLogger())
	for i := 0; i < 5; i++ {
		reg.Register(NewSubscriber(1))
	}

	visited := 0
	reg.ForEach(func(sub *Subscriber) {
		visited++
		// mutating during iteration neither adds nor skips visits
		reg.Unregister(sub.ID())
		reg.Register(NewSubscriber(1))
	})

	if visited != 5 {
		t.Errorf("ForEach visited %d, want 5", visited)
	}
	if reg.Count() != 5 {
		t.Errorf("Count() = %d, want 5", reg.Count())
	}
}

func TestRegistry_Close(t *testing.T) {
	reg := NewRegistry(testLogger())
	a := NewSubscriber(1)
	reg.Register(a)

	reg.Close()
	reg.Close()

	if a.Alive() {
		t.Error("Close() should close registered subscribers")
	}

	late := NewSubscriber(1)
	reg.Register(late)
	if late.Alive() || reg.Count() != 0 {
		t.Error("Register() after Close() should close the subscriber")
	}
}

func TestBroadcaster_OrderedDelivery(t *testing.T) {
	reg := NewRegistry(testLogger())
	b := NewBroadcaster(reg, testLogger())

	sub := NewSubscriber(32)
	if _, err := b.Attach(context.Background(), sub, staticSnapshot(map[string]any{})); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	const n = 20
	for i := 0; i < n; i++ {
		b.Publish(ChangeEvent{Type: KindUpdated, Resource: "users", Data: i})
	}

	frames := drain(sub)
	if len(frames) != n+1 {
		t.Fatalf("received %d frames, want %d", len(frames), n+1)
	}
	if decode(t, frames[0])["type"] != "INITIAL" {
		t.Errorf("first frame = %s, want INITIAL", frames[0].Payload)
	}
	for i, f := range frames[1:] {
		if f.Seq != uint64(i+1) {
			t.Errorf("frame %d seq = %d, want %d", i, f.Seq, i+1)
		}
		if got := decode(t, f)["data"]; got != float64(i) {
			t.Errorf("frame %d data = %v, want %d", i, got, i)
		}
	}
}

func TestBroadcaster_LateSubscriber(t *testing.T) {
	reg := NewRegistry(testLogger())
	b := NewBroadcaster(reg, testLogger())

	const k, n = 3, 6
	for i := 1; i <= k; i++ {
		b.Publish(ChangeEvent{Type: KindCreated, Resource: "users"})
	}

	late := NewSubscriber(16)
	if _, err := b.Attach(context.Background(), late, staticSnapshot("state@k")); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if late.Since() != k {
		t.Errorf("Since() = %d, want %d", late.Since(), k)
	}

	for i := k + 1; i <= n; i++ {
		b.Publish(ChangeEvent{Type: KindCreated, Resource: "users"})
	}

	frames := drain(late)
	if len(frames) != n-k+1 {
		t.Fatalf("received %d frames, want %d", len(frames), n-k+1)
	}
	initial := decode(t, frames[0])
	if initial["type"] != "INITIAL" || initial["data"] != "state@k" || initial["seq"] != float64(k) {
		t.Errorf("INITIAL = %v", initial)
	}
	for i, f := range frames[1:] {
		if want := uint64(k + 1 + i); f.Seq != want {
			t.Errorf("frame seq = %d, want %d", f.Seq, want)
		}
	}
}

func TestBroadcaster_AttachSnapshotError(t *testing.T) {
	reg := NewRegistry(testLogger())
	b := NewBroadcaster(reg, testLogger())

	failing := func(context.Context) (any, error) { return nil, errors.New("boom") }
	if _, err := b.Attach(context.Background(), NewSubscriber(1), failing); err == nil {
		t.Fatal("Attach() expected error")
	}
	if reg.Count() != 0 {
		t.Errorf("Count() = %d, want 0 after failed attach", reg.Count())
	}
}

func TestBroadcaster_OverflowDisconnects(t *testing.T) {
	reg := NewRegistry(testLogger())
	b := NewBroadcaster(reg, testLogger())

	slow := NewSubscriber(2)
	fast := NewSubscriber(16)
	for _, sub := range []*Subscriber{slow, fast} {
		if _, err := b.Attach(context.Background(), sub, staticSnapshot(nil)); err != nil {
			t.Fatalf("Attach() error = %v", err)
		}
	}

	// INITIAL occupies one slot; the second publish overflows the slow queue
	for i := 0; i < 3; i++ {
		b.Publish(ChangeEvent{Type: KindDeleted, Resource: "roles"})
	}

	if slow.Alive() {
		t.Error("slow subscriber should be disconnected on overflow")
	}
	if !fast.Alive() {
		t.Error("fast subscriber should stay connected")
	}
	if got := len(drain(fast)); got != 4 {
		t.Errorf("fast subscriber received %d frames, want 4", got)
	}
	if reg.Count() != 1 {
		t.Errorf("Count() = %d, want 1", reg.Count())
	}
}

func TestBroadcaster_TopicFiltering(t *testing.T) {
	reg := NewRegistry(testLogger())
	b := NewBroadcaster(reg, testLogger())

	sub := NewSubscriber(8)
	sub.Subscribe("roles")
	if _, err := b.Attach(context.Background(), sub, staticSnapshot(nil)); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	b.Publish(ChangeEvent{Type: KindCreated, Resource: "users"})
	b.Publish(ChangeEvent{Type: KindCreated, Resource: "roles"})

	frames := drain(sub)
	if len(frames) != 2 {
		t.Fatalf("received %d frames, want INITIAL plus one roles event", len(frames))
	}
	if frames[1].Topic != "roles" || frames[1].Seq != 2 {
		t.Errorf("frame = topic %q seq %d, want roles/2", frames[1].Topic, frames[1].Seq)
	}
}

func TestBroadcaster_Commit(t *testing.T) {
	reg := NewRegistry(testLogger())
	var hooked []ChangeEvent
	b := NewBroadcaster(reg, testLogger(), func(ev ChangeEvent) { hooked = append(hooked, ev) })

	sub := NewSubscriber(8)
	if _, err := b.Attach(context.Background(), sub, staticSnapshot(nil)); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	t.Run("failed mutation publishes nothing", func(t *testing.T) {
		_, err := b.Commit(context.Background(), func(context.Context) (*ChangeEvent, error) {
			return nil, errors.New("store down")
		})
		if err == nil {
			t.Fatal("Commit() expected error")
		}
		if b.Sequence() != 0 {
			t.Errorf("Sequence() = %d, want 0", b.Sequence())
		}
	})

	t.Run("success publishes", func(t *testing.T) {
		ev, err := b.Commit(context.Background(), func(context.Context) (*ChangeEvent, error) {
			return &ChangeEvent{Type: KindCreated, Resource: "users"}, nil
		})
		if err != nil {
			t.Fatalf("Commit() error = %v", err)
		}
		if ev.Seq != 1 {
			t.Errorf("Commit() seq = %d, want 1", ev.Seq)
		}
	})

	t.Run("partial failure still publishes", func(t *testing.T) {
		ev, err := b.Commit(context.Background(), func(context.Context) (*ChangeEvent, error) {
			return &ChangeEvent{Type: KindBulkDeleted, Resource: "users"}, errors.New("one id failed")
		})
		if err == nil {
			t.Fatal("Commit() expected error")
		}
		if ev.Seq != 2 {
			t.Errorf("Commit() seq = %d, want 2", ev.Seq)
		}
	})

	if got := len(drain(sub)); got != 3 {
		t.Errorf("subscriber received %d frames, want 3", got)
	}
	if len(hooked) != 2 {
		t.Errorf("hook called %d times, want 2", len(hooked))
	}
}

func TestBroadcaster_UnsubscribedBeforeCommit(t *testing.T) {
	reg := NewRegistry(testLogger())
	b := NewBroadcaster(reg, testLogger())

	gone := NewSubscriber(8)
	handle, err := b.Attach(context.Background(), gone, staticSnapshot(nil))
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	drain(gone)
	reg.Unregister(handle)

	b.Publish(ChangeEvent{Type: KindCreated, Resource: "users"})

	if got := len(drain(gone)); got != 0 {
		t.Errorf("disconnected subscriber received %d frames, want 0", got)
	}
}

func TestBroadcaster_RemovalDuringBroadcast(t *testing.T) {
	reg := NewRegistry(testLogger())
	b := NewBroadcaster(reg, testLogger())

	subs := make([]*Subscriber, 50)
	for i := range subs {
		subs[i] = NewSubscriber(256)
		if _, err := b.Attach(context.Background(), subs[i], staticSnapshot(nil)); err != nil {
			t.Fatalf("Attach() error = %v", err)
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i, sub := range subs {
			if i%2 == 0 {
				reg.Unregister(sub.ID())
			}
		}
	}()

	for i := 0; i < 100; i++ {
		b.Publish(ChangeEvent{Type: KindUpdated, Resource: "users"})
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for concurrent removal")
	}

	if reg.Count() != 25 {
		t.Errorf("Count() = %d, want 25", reg.Count())
	}
	for i, sub := range subs {
		if i%2 == 1 && len(drain(sub)) != 101 {
			t.Errorf("subscriber %d missed events", i)
		}
	}
}

func TestKeepalive_BeatOnlyIdle(t *testing.T) {
	reg := NewRegistry(testLogger())
	k := NewKeepalive(reg, time.Minute, testLogger())

	idle := NewSubscriber(4)
	busy := NewSubscriber(4)
	reg.Register(idle)
	reg.Register(busy)

	// pretend two minutes have passed and only busy wrote recently
	now := time.Now().Add(2 * time.Minute)
	k.now = func() time.Time { return now }
	busy.lastActivity.Store(now.UnixNano())

	if sent := k.Beat(); sent != 1 {
		t.Errorf("Beat() = %d, want 1", sent)
	}
	frames := drain(idle)
	if len(frames) != 1 || frames[0].Kind != FrameHeartbeat {
		t.Errorf("idle subscriber frames = %v, want one heartbeat", frames)
	}
	if len(drain(busy)) != 0 {
		t.Error("busy subscriber should not get a heartbeat")
	}
}

func TestKeepalive_BeatsBeforeIntervalRunsOut(t *testing.T) {
	reg := NewRegistry(testLogger())
	k := NewKeepalive(reg, time.Minute, testLogger())

	// passes run every 15s, so anything idle for 45s or more is due
	due := NewSubscriber(4)
	fresh := NewSubscriber(4)
	reg.Register(due)
	reg.Register(fresh)

	now := time.Now()
	k.now = func() time.Time { return now }
	due.lastActivity.Store(now.Add(-50 * time.Second).UnixNano())
	fresh.lastActivity.Store(now.Add(-40 * time.Second).UnixNano())

	if sent := k.Beat(); sent != 1 {
		t.Errorf("Beat() = %d, want 1", sent)
	}
	if len(drain(due)) != 1 {
		t.Error("subscriber silent for 50s of a 1m interval should get a heartbeat now")
	}
	if len(drain(fresh)) != 0 {
		t.Error("subscriber silent for 40s still has a pass left before its interval runs out")
	}
}

func TestKeepalive_DefaultInterval(t *testing.T) {
	k := NewKeepalive(NewRegistry(testLogger()), 0, testLogger())
	if k.Interval() != DefaultKeepaliveInterval {
		t.Errorf("Interval() = %v, want %v", k.Interval(), DefaultKeepaliveInterval)
	}
}

// TestKeepalive_StopBeforeStart verifies Stop on a never-started scheduler is a no-op.
func TestKeepalive_StopBeforeStart(t *testing.T) {
	k := NewKeepalive(NewRegistry(testLogger()), time.Minute, testLogger())

	// this must not panic
	k.Stop()
	k.Start(context.Background())
	k.Stop()
}

// TestKeepalive_StopTwice verifies Stop is idempotent after Start.
func TestKeepalive_StopTwice(t *testing.T) {
	k := NewKeepalive(NewRegistry(testLogger()), time.Minute, testLogger())
	k.Start(context.Background())
	k.Start(context.Background())

	k.Stop()
	k.Stop()
}

func TestKeepalive_Ticks(t *testing.T) {
	reg := NewRegistry(testLogger())
	k := NewKeepalive(reg, 20*time.Millisecond, testLogger())

	sub := NewSubscriber(8)
	reg.Register(sub)

	k.Start(context.Background())
	defer k.Stop()

	select {
	case f := <-sub.Frames():
		if f.Kind != FrameHeartbeat {
			t.Errorf("frame kind = %v, want heartbeat", f.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for heartbeat")
	}
}

func TestPump_WriteFailureUnregisters(t *testing.T) {
	reg := NewRegistry(testLogger())
	b := NewBroadcaster(reg, testLogger())

	sub := NewSubscriber(4)
	if _, err := b.Attach(context.Background(), sub, staticSnapshot(nil)); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}

	errc := make(chan error, 1)
	go func() {
		errc <- Pump(context.Background(), reg, sub, func(Frame) error {
			return errors.New("broken pipe")
		})
	}()

	select {
	case err := <-errc:
		if err == nil {
			t.Error("Pump() expected write error")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for Pump() to return")
	}

	if reg.Count() != 0 || sub.Alive() {
		t.Error("subscriber should be unregistered after a failed write")
	}

	// publishing after removal must not fail or block
	b.Publish(ChangeEvent{Type: KindCreated, Resource: "users"})
}

func TestPump_ContextCancel(t *testing.T) {
	reg := NewRegistry(testLogger())
	sub := NewSubscriber(4)
	reg.Register(sub)

	ctx, cancel := context.WithCancel(context.Background())
	written := make(chan Frame, 4)
	errc := make(chan error, 1)
	go func() {
		errc <- Pump(ctx, reg, sub, func(f Frame) error {
			written <- f
			return nil
		})
	}()

	before := sub.LastActivity()
	sub.offer(Frame{Kind: FrameHeartbeat})
	select {
	case <-written:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for write")
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Pump() error = %v, want nil on cancel", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for Pump() to return")
	}

	if sub.LastActivity().Before(before) {
		t.Error("LastActivity() should advance after a write")
	}
	if reg.Count() != 0 {
		t.Errorf("Count() = %d, want 0 after Pump() returns", reg.Count())
	}
}
