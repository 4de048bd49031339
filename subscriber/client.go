package subscriber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// DefaultReconnectDelay is the fixed pause between connection attempts.
const DefaultReconnectDelay = time.Second

// Wildcard registers a callback for every topic.
const Wildcard = "*"

// State is the connection state of a [Client].
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Event is a change event as received from the server.
type Event struct {
	Type     string          `json:"type"`
	Resource string          `json:"resource,omitempty"`
	Path     string          `json:"path,omitempty"`
	ID       *int64          `json:"id,omitempty"`
	IDs      []*int64        `json:"ids,omitempty"`
	Data     json.RawMessage `json:"data"`
	Seq      uint64          `json:"seq"`
}

// Topic returns the event's routing key, its resource name.
func (e Event) Topic() string {
	return e.Resource
}

// Callback receives events for a subscribed topic.
type Callback func(Event)

// Option configures a [Client].
type Option func(*Client)

// WithReconnectDelay sets the fixed delay between connection attempts.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.reconnectDelay = d
		}
	}
}

// WithLogger sets the client's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithStateHook registers fn to be called on every state transition.
func WithStateHook(fn func(State)) Option {
	return func(c *Client) {
		c.onState = fn
	}
}

// WithDialer sets the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// Client keeps one logical subscription alive across transport reconnects.
//
// It moves DISCONNECTED -> CONNECTING -> CONNECTED -> DISCONNECTED and
// retries after a fixed delay forever, without backoff. On every connect it
// re-sends its topic subscriptions. Events missed while disconnected are not
// replayed; the server's INITIAL snapshot on reconnect carries current state.
//
// Events go only to callbacks registered for their topic, plus [Wildcard]
// callbacks. INITIAL has no topic and goes to every callback.
type Client struct {
	url            string
	reconnectDelay time.Duration
	dialer         *websocket.Dialer
	logger         *slog.Logger
	onState        func(State)

	mu        sync.Mutex
	state     State
	callbacks map[string]map[uint64]Callback
	nextID    uint64
	conn      *websocket.Conn
	sent      map[string]bool // topics the current connection is filtered to

	writeMu sync.Mutex // serializes control writes
}

// NewClient creates a client for the websocket endpoint at url, e.g.
// "ws://localhost:3001/api/ws". Call [Client.Run] to connect.
func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		url:            url,
		reconnectDelay: DefaultReconnectDelay,
		dialer:         websocket.DefaultDialer,
		logger:         slog.Default(),
		callbacks:      make(map[string]map[uint64]Callback),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers cb for topic and returns a function that removes it.
// The returned function is idempotent.
func (c *Client) Subscribe(topic string, cb Callback) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	if c.callbacks[topic] == nil {
		c.callbacks[topic] = make(map[uint64]Callback)
	}
	c.callbacks[topic][id] = cb
	c.mu.Unlock()

	c.reconcile()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.callbacks[topic], id)
			if len(c.callbacks[topic]) == 0 {
				delete(c.callbacks, topic)
			}
			c.mu.Unlock()

			c.reconcile()
		})
	}
}

// Run connects and keeps reconnecting until ctx is cancelled.
// It always returns nil once ctx is done.
func (c *Client) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			c.setState(Disconnected)
			return nil
		}

		c.setState(Connecting)
		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			c.logger.Debug("subscriber connect failed", "url", c.url, "error", err)
		} else {
			c.serve(ctx, conn)
		}
		c.setState(Disconnected)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.reconnectDelay):
		}
	}
}

// serve runs one connection until it fails or ctx ends.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.sent = make(map[string]bool)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.sent = nil
		c.mu.Unlock()
		_ = conn.Close()
	}()

	// unblock the read loop on cancellation
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c.setState(Connected)
	c.logger.Info("subscriber connected", "url", c.url)
	c.reconcile()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Info("subscriber connection lost", "url", c.url, "error", err)
			}
			return
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			c.logger.Warn("ignoring malformed event", "error", err)
			continue
		}
		c.dispatch(ev)
	}
}

// dispatch delivers ev to every callback interested in it.
func (c *Client) dispatch(ev Event) {
	c.mu.Lock()
	var targets []Callback
	if ev.Topic() == "" {
		for _, cbs := range c.callbacks {
			for _, cb := range cbs {
				targets = append(targets, cb)
			}
		}
	} else {
		for _, cb := range c.callbacks[ev.Topic()] {
			targets = append(targets, cb)
		}
		for _, cb := range c.callbacks[Wildcard] {
			targets = append(targets, cb)
		}
	}
	c.mu.Unlock()

	for _, cb := range targets {
		c.invokeSafe(cb, ev)
	}
}

// invokeSafe calls cb with panic recovery. Panics are logged with a
// correlation ID and do not stop the read loop.
func (c *Client) invokeSafe(cb Callback, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("subscriber callback panicked",
				"correlation_id", uuid.NewString(),
				"panic", fmt.Sprintf("%v", r),
				"type", ev.Type,
				"resource", ev.Resource,
				"stack", string(debug.Stack()),
			)
		}
	}()
	cb(ev)
}

// reconcile brings the server-side topic filter in line with the registered
// callbacks. A wildcard callback needs an empty filter.
func (c *Client) reconcile() {
	// held across diff and send so concurrent reconciles apply in order
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return
	}

	desired := make(map[string]bool)
	if _, all := c.callbacks[Wildcard]; !all {
		for topic := range c.callbacks {
			desired[topic] = true
		}
	}

	var add, remove []string
	for topic := range desired {
		if !c.sent[topic] {
			add = append(add, topic)
		}
	}
	for topic := range c.sent {
		if !desired[topic] {
			remove = append(remove, topic)
		}
	}
	c.sent = desired
	c.mu.Unlock()

	// subscribe before unsubscribing so the filter never passes through empty
	if err := c.send(conn, "subscribe", add); err != nil {
		c.logger.Warn("failed to send subscribe", "error", err)
	}
	if err := c.send(conn, "unsubscribe", remove); err != nil {
		c.logger.Warn("failed to send unsubscribe", "error", err)
	}
}

func (c *Client) send(conn *websocket.Conn, kind string, topics []string) error {
	if len(topics) == 0 {
		return nil
	}
	sort.Strings(topics)

	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	err := conn.WriteJSON(map[string]any{"type": kind, "topics": topics})
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	hook := c.onState
	c.mu.Unlock()

	if hook != nil {
		hook(s)
	}
}
