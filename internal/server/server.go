package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jpalmerr/livestore/internal/hub"
	"github.com/jpalmerr/livestore/internal/mutation"
	"github.com/jpalmerr/livestore/internal/store"
)

const (
	// DefaultWriteTimeout is the maximum time allowed for a single write to a
	// subscriber. It prevents goroutine leaks when clients are slow or
	// disconnected and must be <= the shutdown timeout.
	DefaultWriteTimeout = 5 * time.Second

	// shutdownTimeout bounds graceful shutdown once the server context ends.
	shutdownTimeout = 5 * time.Second

	// maxBodyBytes caps request bodies on write routes.
	maxBodyBytes = 1 << 20
)

// Config holds the tunables of a [Server].
type Config struct {
	// Port is the TCP port to listen on. 0 picks a free port.
	Port int

	// WriteTimeout bounds each write to a subscriber. Defaults to [DefaultWriteTimeout].
	WriteTimeout time.Duration

	// KeepaliveInterval is the heartbeat interval, used to size websocket
	// read deadlines. Defaults to [hub.DefaultKeepaliveInterval].
	KeepaliveInterval time.Duration

	// QueueSize is each subscriber's outbound frame capacity. Defaults to
	// [hub.DefaultQueueSize].
	QueueSize int
}

// Server exposes the record store over HTTP and streams its changes.
//
// Server provides these endpoints:
//   - GET /api/events: Server-Sent Events change stream
//   - GET /api/ws: WebSocket change stream with topic filtering
//   - GET /db: Full snapshot of every resource
//   - GET, POST /{resource} and GET, PUT, PATCH, DELETE /{resource}/{id}: CRUD
//   - DELETE /bulk/{resource} and DELETE /{resource}: Bulk delete by {"ids": [...]}
//
// Every write goes through the mutation layer, so each one is broadcast.
// The server is designed for graceful shutdown via context cancellation.
type Server struct {
	store       store.Store
	broadcaster *hub.Broadcaster
	interceptor *mutation.Interceptor
	bulk        *mutation.BulkDeleter
	cfg         Config
	httpServer  *http.Server
	addr        net.Addr
	done        chan struct{}
	logger      *slog.Logger
}

// NewServer creates a new HTTP [Server].
//
// Parameters:
//   - st: Record store served by the CRUD routes
//   - b: Broadcaster that writes are published through and subscribers attach to
//   - cfg: Port and subscriber tunables
//   - logger: Logger for server events
//
// The server is not started until [Server.Start] is called.
func NewServer(st store.Store, b *hub.Broadcaster, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = hub.DefaultKeepaliveInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = hub.DefaultQueueSize
	}
	return &Server{
		store:       st,
		broadcaster: b,
		interceptor: mutation.NewInterceptor(st, b, logger),
		bulk:        mutation.NewBulkDeleter(st, b, logger),
		cfg:         cfg,
		done:        make(chan struct{}),
		logger:      logger,
	}
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start is non-blocking and returns immediately after confirming the server
// is listening. The server will continue running until the context is
// cancelled, at which point it initiates a graceful shutdown.
//
// Returns an error if the server fails to bind to the configured port.
func (s *Server) Start(ctx context.Context) error {
	// create listener first to verify port availability synchronously
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.cfg.Port, err)
	}
	s.addr = ln.Addr()

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// BaseContext derives all request contexts from the server context.
		// When ctx is cancelled, all request contexts are also cancelled,
		// enabling graceful shutdown of long-running subscription handlers.
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	// shutdown on context cancellation
	go func() {
		defer close(s.done)
		<-ctx.Done()
		s.broadcaster.Registry().Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	return nil
}

// Done is closed once a started server has finished shutting down.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Addr returns the address the server is listening on, or nil before Start.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// snapshot is the INITIAL payload: the full state of every resource.
func (s *Server) snapshot(ctx context.Context) (any, error) {
	return s.store.Snapshot(ctx)
}
