package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/canvasflow/canvasflow/workflow"
)

// defaultPollInterval is how often the events handler samples the
// engine for changes.
const defaultPollInterval = 250 * time.Millisecond

// writeTimeout bounds a single frame write to a slow client.
const writeTimeout = 5 * time.Second

// EventsHandler pushes run snapshots to WebSocket subscribers. Each
// connection polls the engine and forwards a frame only when the
// snapshot changed, so an idle run costs no bandwidth. Polling covers
// runs driven locally and runs mirrored from a remote stream alike.
type EventsHandler struct {
	engine         *workflow.Engine
	logger         *zap.Logger
	interval       time.Duration
	originPatterns []string
}

// EventsOption customizes an EventsHandler.
type EventsOption func(*EventsHandler)

// WithPollInterval sets how often connections sample the engine.
func WithPollInterval(d time.Duration) EventsOption {
	return func(h *EventsHandler) {
		if d > 0 {
			h.interval = d
		}
	}
}

// WithOriginPatterns allows cross-origin WebSocket upgrades from the
// given host patterns. Empty keeps the same-origin default.
func WithOriginPatterns(patterns []string) EventsOption {
	return func(h *EventsHandler) {
		h.originPatterns = patterns
	}
}

// NewEventsHandler builds the handler.
func NewEventsHandler(engine *workflow.Engine, logger *zap.Logger, opts ...EventsOption) *EventsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &EventsHandler{
		engine:   engine,
		logger:   logger.With(zap.String("component", "events_handler")),
		interval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleEvents upgrades the request and streams snapshot frames until
// the client disconnects.
func (h *EventsHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			zap.String("remote", r.RemoteAddr),
			zap.Error(err))
		return
	}

	h.logger.Info("events subscriber connected", zap.String("remote", r.RemoteAddr))

	// CloseRead keeps control frames flowing and cancels the context
	// when the peer goes away. The stream is one-directional.
	ctx := conn.CloseRead(r.Context())

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var last []byte
	if frame, ok := h.snapshotFrame(); ok {
		if !h.send(ctx, conn, frame) {
			return
		}
		last = frame
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			h.logger.Info("events subscriber disconnected", zap.String("remote", r.RemoteAddr))
			return
		case <-ticker.C:
			frame, ok := h.snapshotFrame()
			if !ok || bytes.Equal(frame, last) {
				continue
			}
			if !h.send(ctx, conn, frame) {
				return
			}
			last = frame
		}
	}
}

// snapshotFrame samples and encodes the engine state. ok is false when
// no run has been started yet.
func (h *EventsHandler) snapshotFrame() ([]byte, bool) {
	snap, ok := h.engine.Snapshot()
	if !ok {
		return nil, false
	}
	frame, err := json.Marshal(snap)
	if err != nil {
		h.logger.Error("failed to encode snapshot frame", zap.Error(err))
		return nil, false
	}
	return frame, true
}

// send writes one frame, reporting false when the connection is gone.
func (h *EventsHandler) send(ctx context.Context, conn *websocket.Conn, frame []byte) bool {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := conn.Write(writeCtx, websocket.MessageText, frame); err != nil {
		h.logger.Info("events subscriber write failed", zap.Error(err))
		_ = conn.Close(websocket.StatusNormalClosure, "")
		return false
	}
	return true
}
