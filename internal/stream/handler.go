// ABOUTME: Websocket endpoint streaming live readings of one sensor system
// ABOUTME: A writer loop forwards broadcaster events and pings; a reader loop detects disconnects

package stream

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Handler upgrades requests to websockets and streams events to them.
type Handler struct {
	broadcaster *Broadcaster
	upgrader    websocket.Upgrader
	pingPeriod  time.Duration
	logger      *slog.Logger
}

// NewHandler creates a Handler reading from b.
func NewHandler(b *Broadcaster, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		broadcaster: b,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Clients authenticate with a bearer header, never with cookies.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		pingPeriod: pingPeriod,
		logger:     logger.With("component", "stream"),
	}
}

// Serve streams events for sensorSystemID until the client disconnects.
// Authorization must already have been checked by the caller.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, sensorSystemID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, subID := h.broadcaster.Subscribe(ctx, sensorSystemID)
	h.logger.Info("stream opened", "sensor_system_id", sensorSystemID, "sub_id", subID, "remote", r.RemoteAddr)

	go h.readLoop(conn, cancel)
	h.writeLoop(ctx, conn, events)

	h.logger.Info("stream closed", "sensor_system_id", sensorSystemID, "sub_id", subID)
}

// readLoop discards client messages and cancels ctx once the connection fails.
func (h *Handler) readLoop(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("stream read error", "error", err)
			}
			return
		}
	}
}

func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, events <-chan *Event) {
	ticker := time.NewTicker(h.pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case ev, ok := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug("stream write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
