package subscriber

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jpalmerr/livestore/internal/hub"
	"github.com/jpalmerr/livestore/internal/server"
	"github.com/jpalmerr/livestore/internal/store"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newLiveServer runs a seeded livestore server under httptest.
func newLiveServer(t *testing.T) *httptest.Server {
	ts, _ := newLiveServerWithHub(t)
	return ts
}

func newLiveServerWithHub(t *testing.T) (*httptest.Server, *hub.Broadcaster) {
	t.Helper()
	st := store.NewMemoryStore()
	if err := st.Load(store.DefaultSeed()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	b := hub.NewBroadcaster(hub.NewRegistry(testLogger()), testLogger())
	srv := server.NewServer(st, b, server.Config{}, testLogger())

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, b
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
}

// recorder collects events delivered to a callback.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) add(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type + ":" + ev.Resource
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for %s", what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func patch(t *testing.T, ts *httptest.Server, path, body string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPatch, ts.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PATCH %s error = %v", path, err)
	}
	resp.Body.Close()
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		Disconnected: "DISCONNECTED",
		Connecting:   "CONNECTING",
		Connected:    "CONNECTED",
		State(9):     "State(9)",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("String() = %q, want %q", s.String(), want)
		}
	}
}

func TestClient_TopicDispatch(t *testing.T) {
	ts := newLiveServer(t)
	c := NewClient(wsURL(ts), WithLogger(testLogger()))

	var users, all recorder
	c.Subscribe("users", users.add)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	waitFor(t, "INITIAL", func() bool { return len(users.types()) == 1 })
	// give the server time to apply the subscribe message
	time.Sleep(50 * time.Millisecond)

	patch(t, ts, "/roles/1", `{"description":"x"}`)
	patch(t, ts, "/users/1", `{"status":"Inactive"}`)

	waitFor(t, "users update", func() bool { return len(users.types()) == 2 })
	got := users.types()
	if got[0] != "INITIAL:" || got[1] != "UPDATED:users" {
		t.Errorf("users callback got %v", got)
	}

	// a wildcard callback lifts the server-side filter
	unsubscribe := c.Subscribe(Wildcard, all.add)
	time.Sleep(50 * time.Millisecond)
	patch(t, ts, "/roles/2", `{"description":"y"}`)

	waitFor(t, "wildcard roles update", func() bool { return len(all.types()) == 1 })
	if all.types()[0] != "UPDATED:roles" {
		t.Errorf("wildcard callback got %v", all.types())
	}
	if len(users.types()) != 2 {
		t.Errorf("users callback received a roles event: %v", users.types())
	}

	unsubscribe()
	unsubscribe()
}

func TestClient_NoCallbacksIsNoop(t *testing.T) {
	ts := newLiveServer(t)
	c := NewClient(wsURL(ts), WithLogger(testLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	waitFor(t, "connect", func() bool { return c.State() == Connected })
	patch(t, ts, "/users/1", `{"status":"Inactive"}`)
	time.Sleep(50 * time.Millisecond)

	if c.State() != Connected {
		t.Errorf("State() = %v, want CONNECTED", c.State())
	}
}

func TestClient_CallbackPanicRecovered(t *testing.T) {
	ts := newLiveServer(t)
	c := NewClient(wsURL(ts), WithLogger(testLogger()))

	var good recorder
	c.Subscribe("users", func(Event) { panic("boom") })
	c.Subscribe("users", good.add)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	waitFor(t, "INITIAL", func() bool { return len(good.types()) == 1 })
	time.Sleep(50 * time.Millisecond)
	patch(t, ts, "/users/2", `{"status":"Inactive"}`)
	waitFor(t, "update after panic", func() bool { return len(good.types()) == 2 })
}

func TestClient_Reconnects(t *testing.T) {
	ts, b := newLiveServerWithHub(t)

	var mu sync.Mutex
	var states []State
	c := NewClient(wsURL(ts),
		WithLogger(testLogger()),
		WithReconnectDelay(20*time.Millisecond),
		WithStateHook(func(s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		}),
	)

	var users recorder
	c.Subscribe("users", users.add)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = c.Run(ctx)
		close(done)
	}()

	waitFor(t, "first INITIAL", func() bool { return len(users.types()) == 1 })

	// drop the subscriber server-side; the client should come back and get a
	// fresh INITIAL
	reg := b.Registry()
	reg.ForEach(func(sub *hub.Subscriber) { reg.Unregister(sub.ID()) })
	waitFor(t, "second INITIAL", func() bool { return len(users.types()) == 2 })

	// subscriptions are re-sent on reconnect
	time.Sleep(50 * time.Millisecond)
	patch(t, ts, "/roles/1", `{"description":"x"}`)
	patch(t, ts, "/users/1", `{"status":"Inactive"}`)
	waitFor(t, "update after reconnect", func() bool { return len(users.types()) == 3 })
	if got := users.types()[2]; got != "UPDATED:users" {
		t.Errorf("event after reconnect = %s", got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []State{Connecting, Connected, Disconnected, Connecting, Connected, Disconnected}
	if len(states) < len(want) {
		t.Fatalf("states = %v, want prefix %v", states, want)
	}
	for i, s := range want {
		if states[i] != s {
			t.Errorf("states[%d] = %v, want %v (all: %v)", i, states[i], s, states)
		}
	}
	if c.State() != Disconnected {
		t.Errorf("State() = %v after Run returned, want DISCONNECTED", c.State())
	}
}

func TestClient_RetriesUntilServerUp(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1/api/ws",
		WithLogger(testLogger()),
		WithReconnectDelay(10*time.Millisecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := c.Run(ctx); err != nil {
		t.Errorf("Run() error = %v, want nil after cancel", err)
	}
	if c.State() != Disconnected {
		t.Errorf("State() = %v, want DISCONNECTED", c.State())
	}
}
