package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jpalmerr/livestore/internal/hub"
)

const (
	// maxMessageSize bounds inbound subscription control messages.
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// controlMessage is an inbound subscription change from a websocket client.
type controlMessage struct {
	Type   string   `json:"type"`
	Topics []string `json:"topics"`
}

// handleWS upgrades the connection and streams change events as text messages.
//
// Clients narrow delivery with {"type":"subscribe","topics":[...]} and widen
// it again with "unsubscribe". INITIAL is always delivered. Heartbeats are
// sent as ping frames. The read deadline is pushed out by pongs, inbound
// messages and delivered events, so a client that only receives events is
// not dropped while its stream stays busy.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := hub.NewSubscriber(s.cfg.QueueSize)
	if _, err := s.broadcaster.Attach(r.Context(), sub, s.snapshot); err != nil {
		s.logger.Error("failed to attach websocket subscriber", "error", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "failed to load initial state"),
			time.Now().Add(s.cfg.WriteTimeout))
		return
	}

	// two missed heartbeats plus a write's worth of slack
	readWait := 2*s.cfg.KeepaliveInterval + s.cfg.WriteTimeout
	_ = conn.SetReadDeadline(time.Now().Add(readWait))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer cancel()
		s.readControl(conn, sub, readWait)
	}()

	write := func(f hub.Frame) error {
		if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
			return err
		}
		if f.Kind == hub.FrameHeartbeat {
			// an idle peer must answer with a pong before readWait passes
			return conn.WriteMessage(websocket.PingMessage, nil)
		}
		if err := conn.WriteMessage(websocket.TextMessage, f.Payload); err != nil {
			return err
		}
		// busy subscribers are never pinged, so delivered events count as liveness
		return conn.SetReadDeadline(time.Now().Add(readWait))
	}

	err = hub.Pump(ctx, s.broadcaster.Registry(), sub, write)
	if err != nil {
		s.logger.Debug("websocket subscriber dropped", "subscriber", sub.ID(), "error", err)
		return
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
		time.Now().Add(s.cfg.WriteTimeout))
}

// readControl applies subscribe/unsubscribe messages until the connection
// fails or goes quiet past its read deadline.
func (s *Server) readControl(conn *websocket.Conn, sub *hub.Subscriber, readWait time.Duration) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket read error", "subscriber", sub.ID(), "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))

		var msg controlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("ignoring malformed websocket message", "subscriber", sub.ID())
			continue
		}

		switch strings.ToLower(msg.Type) {
		case "subscribe":
			sub.Subscribe(msg.Topics...)
		case "unsubscribe":
			sub.Unsubscribe(msg.Topics...)
		default:
			s.logger.Debug("ignoring unknown websocket message", "subscriber", sub.ID(), "type", msg.Type)
		}
	}
}
