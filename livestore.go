package livestore

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/jpalmerr/livestore/internal/hub"
	"github.com/jpalmerr/livestore/internal/server"
	"github.com/jpalmerr/livestore/internal/store"
)

const (
	defaultPort = 3001
)

// LiveStore serves a record store over HTTP and streams every committed
// change to connected subscribers.
//
// It is created using [New] with functional options and started with
// [LiveStore.Start].
//
// The typical lifecycle is:
//
//	ls, err := livestore.New(livestore.WithPort(3001))
//	if err != nil {
//	    slog.Error("failed to create livestore", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	ls.Start(ctx) // blocks until context cancelled
//
// The caller controls the lifecycle via the context. Cancel the context to
// trigger graceful shutdown.
type LiveStore struct {
	port              int
	keepaliveInterval time.Duration
	writeTimeout      time.Duration
	queueSize         int
	seed              store.Snapshot
	dsn               string
	logger            *slog.Logger
	changeCallbacks   []func(ChangeEvent)

	mu   sync.Mutex
	addr net.Addr
}

// New creates a new [LiveStore] instance with the given options.
//
// All options have defaults:
//   - Port: 3001
//   - Keepalive interval: 30 seconds
//   - Subscriber write timeout: 5 seconds
//   - Subscriber queue size: 64 frames
//   - Store: in memory, seeded with the built-in users/roles/permissions
//
// Returns an error if any option is invalid.
//
// Example:
//
//	ls, err := livestore.New(
//	    livestore.WithPort(9090),
//	    livestore.WithKeepaliveInterval(15 * time.Second),
//	    livestore.WithPostgres(os.Getenv("DATABASE_URL")),
//	)
func New(opts ...Option) (*LiveStore, error) {
	cfg := &lsConfig{
		port:              defaultPort,
		keepaliveInterval: hub.DefaultKeepaliveInterval,
		writeTimeout:      server.DefaultWriteTimeout,
		queueSize:         hub.DefaultQueueSize,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.writeTimeout > cfg.keepaliveInterval {
		return nil, fmt.Errorf("write timeout %s must not exceed keepalive interval %s",
			cfg.writeTimeout, cfg.keepaliveInterval)
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	seed := cfg.seed
	if seed == nil {
		seed = store.DefaultSeed()
	}

	return &LiveStore{
		port:              cfg.port,
		keepaliveInterval: cfg.keepaliveInterval,
		writeTimeout:      cfg.writeTimeout,
		queueSize:         cfg.queueSize,
		seed:              withResources(seed, cfg.resources),
		dsn:               cfg.dsn,
		logger:            logger,
		changeCallbacks:   cfg.changeCallbacks,
	}, nil
}

// Start opens the store, starts the keepalive scheduler and serves HTTP.
//
// Start is a blocking call that runs until the provided context is cancelled.
// During execution:
//
//   - The store is opened and seeded (Postgres is migrated first)
//   - Heartbeats go to idle subscribers every keepalive interval
//   - Every committed write is broadcast to subscribers and change callbacks
//   - Queued change callbacks finish before Start returns
//   - Change streams are served at /api/events (SSE) and /api/ws (WebSocket)
//
// Returns nil on graceful shutdown. Returns an error if the store cannot be
// opened or the HTTP server fails to start.
func (ls *LiveStore) Start(ctx context.Context) error {
	ls.logger.Info("livestore starting", "store", ls.driver(), "resource_count", len(ls.seed))
	ls.logger.Info("keepalive configured", "interval", ls.keepaliveInterval.String())

	// check if context already cancelled
	if ctx.Err() != nil {
		return nil
	}

	st, err := ls.openStore(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			ls.logger.Error("failed to close store", "error", err)
		}
	}()

	var hooks []func(hub.ChangeEvent)
	if len(ls.changeCallbacks) > 0 {
		callbacks := newCallbackQueue(ls.changeCallbacks, ls.logger)
		go callbacks.run()
		defer callbacks.close()
		hooks = append(hooks, callbacks.push)
	}

	registry := hub.NewRegistry(ls.logger)
	broadcaster := hub.NewBroadcaster(registry, ls.logger, hooks...)

	keepalive := hub.NewKeepalive(registry, ls.keepaliveInterval, ls.logger)
	keepalive.Start(ctx)
	defer keepalive.Stop()

	httpServer := server.NewServer(st, broadcaster, server.Config{
		Port:              ls.port,
		WriteTimeout:      ls.writeTimeout,
		KeepaliveInterval: ls.keepaliveInterval,
		QueueSize:         ls.queueSize,
	}, ls.logger)
	if err := httpServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	ls.setAddr(httpServer.Addr())
	ls.logger.Info("change stream available", "addr", httpServer.Addr().String())

	<-ctx.Done()
	<-httpServer.Done()
	ls.logger.Info("livestore stopped")
	return nil
}

// openStore builds the configured store and loads the seed into it.
func (ls *LiveStore) openStore(ctx context.Context) (store.Store, error) {
	if ls.dsn == "" {
		st := store.NewMemoryStore()
		if err := st.Load(ls.seed); err != nil {
			return nil, fmt.Errorf("failed to seed store: %w", err)
		}
		return st, nil
	}

	if err := store.Migrate(ctx, ls.dsn); err != nil {
		return nil, err
	}
	st, err := store.NewPostgresStore(ctx, ls.dsn)
	if err != nil {
		return nil, err
	}
	if err := st.Load(ctx, ls.seed); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to seed store: %w", err)
	}
	return st, nil
}

func (ls *LiveStore) driver() string {
	if ls.dsn != "" {
		return "postgres"
	}
	return "memory"
}

// Port returns the configured HTTP port. Zero means a free port is picked at
// start; use [LiveStore.Addr] for the bound address.
func (ls *LiveStore) Port() int {
	return ls.port
}

// KeepaliveInterval returns the interval between heartbeats to idle subscribers.
func (ls *LiveStore) KeepaliveInterval() time.Duration {
	return ls.keepaliveInterval
}

// Resources returns the sorted names of the resources the store is seeded with.
func (ls *LiveStore) Resources() []string {
	names := make([]string, 0, len(ls.seed))
	for name := range ls.seed {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Addr returns the address the server is listening on, or nil before
// [LiveStore.Start] has bound its port.
func (ls *LiveStore) Addr() net.Addr {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.addr
}

func (ls *LiveStore) setAddr(addr net.Addr) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.addr = addr
}

// withResources returns seed with an empty collection added for every name
// in resources it does not already hold.
func withResources(seed store.Snapshot, resources []string) store.Snapshot {
	out := make(store.Snapshot, len(seed)+len(resources))
	for name, records := range seed {
		out[name] = records
	}
	for _, name := range resources {
		if _, ok := out[name]; !ok {
			out[name] = []store.Record{}
		}
	}
	return out
}
