package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/jpalmerr/livestore/internal/hub"
)

// handleSSE streams change events via Server-Sent Events.
//
// The first frame is INITIAL with the full store state. Each event frame
// carries the event's sequence number as its SSE id. Heartbeats are sent as
// ": keepalive" comments.
//
// The handler uses write deadlines to prevent goroutine leaks when clients are
// slow or disconnected. Without deadlines, a blocked write would prevent the
// handler from detecting context cancellation.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	// check if flushing is supported
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	// ResponseController provides deadline-aware write and flush operations.
	rc := http.NewResponseController(w)

	// track if write deadlines are supported (may not be for some ResponseWriter impls)
	deadlinesSupported := true

	writeAndFlush := func(f hub.Frame) error {
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				// deadline not supported by underlying connection, continue without
				s.logger.Debug("sse write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}

		var err error
		switch f.Kind {
		case hub.FrameHeartbeat:
			_, err = fmt.Fprint(w, ": keepalive\n\n")
		default:
			_, err = fmt.Fprintf(w, "id: %d\ndata: %s\n\n", f.Seq, f.Payload)
		}
		if err != nil {
			return err
		}

		// ResponseController.Flush respects the write deadline
		return rc.Flush()
	}

	sub := hub.NewSubscriber(s.cfg.QueueSize)
	if _, err := s.broadcaster.Attach(r.Context(), sub, s.snapshot); err != nil {
		s.logger.Error("failed to attach sse subscriber", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load initial state")
		return
	}

	// set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	s.logger.Debug("sse subscriber connected", "subscriber", sub.ID(), "since", sub.Since())

	// request context is derived from server context via BaseContext, so
	// Pump returns on both client disconnect and server shutdown
	if err := hub.Pump(r.Context(), s.broadcaster.Registry(), sub, writeAndFlush); err != nil {
		s.logger.Debug("sse subscriber dropped", "subscriber", sub.ID(), "error", err)
		return
	}
	s.logger.Debug("sse subscriber disconnected", "subscriber", sub.ID())
}
