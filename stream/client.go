package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/canvasflow/canvasflow/types"
)

// ConnState is the connection state of a stream client.
type ConnState string

const (
	ConnStateDisconnected ConnState = "disconnected"
	ConnStateConnecting   ConnState = "connecting"
	ConnStateConnected    ConnState = "connected"
	ConnStateReconnecting ConnState = "reconnecting"
	ConnStateFailed       ConnState = "failed"
	ConnStateClosed       ConnState = "closed"
)

// ClientConfig tunes the WebSocket event client.
type ClientConfig struct {
	DialTimeout       time.Duration // max time for the initial dial (default 10s)
	HeartbeatInterval time.Duration // interval between pings (default 30s)
	HeartbeatTimeout  time.Duration // max silence beyond the interval before reconnecting (default 10s)
	MaxReconnects     int           // reconnect attempts per outage (default 5)
	ReconnectDelay    time.Duration // first backoff delay (default 1s)
	MaxBackoff        time.Duration // backoff ceiling (default 30s)
	BackoffMultiplier float64       // backoff growth factor (default 2.0)
	Subprotocols      []string      // negotiated subprotocols (default ["canvasflow"])
	EventBuffer       int           // delivered event buffer (default 64)

	// OnStateChange, when set, observes every connection state
	// transition. It runs on client goroutines; keep it fast.
	OnStateChange func(state ConnState)
}

// DefaultClientConfig returns the production defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		DialTimeout:       10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  10 * time.Second,
		MaxReconnects:     5,
		ReconnectDelay:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		Subprotocols:      []string{"canvasflow"},
		EventBuffer:       64,
	}
}

// subscribeFrame is the client-to-service handshake naming the workflow
// whose events the service should deliver.
type subscribeFrame struct {
	Type       string `json:"type"`
	WorkflowID string `json:"workflow_id"`
}

// Client subscribes to a remote execution service's event feed over
// WebSocket. It sends periodic pings, watches for silence, and rebuilds
// a dropped connection with increasing backoff, resubscribing after each
// successful reconnect. When recovery is exhausted the event channel is
// closed and Err reports the cause.
type Client struct {
	url    string
	config ClientConfig
	logger *zap.Logger

	mu             sync.Mutex
	conn           *websocket.Conn
	state          ConnState
	closed         bool
	reconnecting   bool
	reconnectCount int
	lastEvent      time.Time
	workflowID     string
	subscribed     bool
	err            error
	done           chan struct{}

	writeMu sync.Mutex
}

// NewClient creates a stream client for the given WebSocket URL.
func NewClient(url string, config ClientConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 10 * time.Second
	}
	if config.HeartbeatInterval == 0 {
		config.HeartbeatInterval = 30 * time.Second
	}
	if config.HeartbeatTimeout == 0 {
		config.HeartbeatTimeout = 10 * time.Second
	}
	if config.ReconnectDelay == 0 {
		config.ReconnectDelay = time.Second
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.BackoffMultiplier == 0 {
		config.BackoffMultiplier = 2.0
	}
	if len(config.Subprotocols) == 0 {
		config.Subprotocols = []string{"canvasflow"}
	}
	if config.EventBuffer == 0 {
		config.EventBuffer = 64
	}
	return &Client{
		url:    url,
		config: config,
		logger: logger.With(zap.String("component", "stream_client")),
		state:  ConnStateDisconnected,
		done:   make(chan struct{}),
	}
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s ConnState) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	// Outside the lock: the observer may call back into State().
	if c.config.OnStateChange != nil {
		c.config.OnStateChange(s)
	}
}

// Err returns the error that terminated the stream, or nil.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Subscribe implements Source. It dials the service, requests events for
// the workflow, and starts the read and heartbeat loops. A client
// subscribes once; Close it and build a new one for another workflow.
func (c *Client) Subscribe(ctx context.Context, workflowID string) (<-chan Event, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, types.NewError(types.ErrStreamClosed, "client is closed")
	}
	if c.subscribed {
		c.mu.Unlock()
		return nil, types.NewError(types.ErrValidation,
			fmt.Sprintf("client already subscribed to workflow %s", c.workflowID))
	}
	c.subscribed = true
	c.workflowID = workflowID
	c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	events := make(chan Event, c.config.EventBuffer)

	g, loopCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readLoop(loopCtx, events) })
	g.Go(func() error { return c.heartbeatLoop(loopCtx) })

	go func() {
		err := g.Wait()
		c.mu.Lock()
		if err != nil && c.err == nil && !c.closed {
			c.err = err
		}
		c.mu.Unlock()
		close(events)
	}()

	return events, nil
}

// connect dials the service and sends the subscribe frame.
func (c *Client) connect(ctx context.Context) error {
	c.setState(ConnStateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, c.config.DialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.url, &websocket.DialOptions{
		Subprotocols: c.config.Subprotocols,
	})
	if err != nil {
		c.setState(ConnStateDisconnected)
		return types.NewError(types.ErrStreamDisconnected, "websocket dial failed").
			WithCause(err).WithRetryable(true)
	}

	c.mu.Lock()
	c.conn = conn
	c.lastEvent = time.Now()
	workflowID := c.workflowID
	c.mu.Unlock()

	if err := c.writeJSON(ctx, subscribeFrame{Type: "subscribe", WorkflowID: workflowID}); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		c.setState(ConnStateDisconnected)
		return types.NewError(types.ErrStreamDisconnected, "subscribe frame failed").
			WithCause(err).WithRetryable(true)
	}

	c.setState(ConnStateConnected)
	c.logger.Info("stream connected",
		zap.String("url", c.url),
		zap.String("workflow_id", workflowID),
	)
	return nil
}

// readLoop reads frames, forwards events, and drives reconnection on
// read failures.
func (c *Client) readLoop(ctx context.Context, events chan<- Event) error {
	for {
		c.mu.Lock()
		conn := c.conn
		closed := c.closed
		c.mu.Unlock()

		if closed {
			return nil
		}
		if conn == nil {
			return types.NewError(types.ErrStreamDisconnected, "not connected")
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.done:
				return nil
			default:
			}

			c.logger.Warn("stream read failed, reconnecting", zap.Error(err))
			if reconnErr := c.reconnect(ctx); reconnErr != nil {
				return reconnErr
			}
			continue
		}

		c.mu.Lock()
		c.lastEvent = time.Now()
		c.mu.Unlock()

		ev, parseErr := ParseEvent(data)
		if parseErr != nil {
			c.logger.Warn("dropping malformed event frame", zap.Error(parseErr))
			continue
		}
		if ev.Type == "pong" {
			continue
		}

		select {
		case events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		}
	}
}

// heartbeatLoop pings the service and forces a reconnect after too much
// silence.
func (c *Client) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case <-ticker.C:
			if err := c.writeJSON(ctx, map[string]string{"type": "ping"}); err != nil {
				c.logger.Warn("heartbeat ping failed", zap.Error(err))
				if reconnErr := c.reconnect(ctx); reconnErr != nil {
					return reconnErr
				}
				continue
			}

			c.mu.Lock()
			last := c.lastEvent
			c.mu.Unlock()

			if !last.IsZero() && time.Since(last) > c.config.HeartbeatInterval+c.config.HeartbeatTimeout {
				c.logger.Warn("stream silent past heartbeat window",
					zap.Duration("silence", time.Since(last)))
				if reconnErr := c.reconnect(ctx); reconnErr != nil {
					return reconnErr
				}
			}
		}
	}
}

// reconnect re-establishes the connection with increasing backoff and
// resubscribes. Only one reconnect runs at a time; concurrent callers
// wait for its outcome.
func (c *Client) reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	if c.reconnecting {
		c.mu.Unlock()
		return c.waitForReconnect(ctx)
	}
	c.reconnecting = true
	oldConn := c.conn
	c.conn = nil
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	c.setState(ConnStateReconnecting)
	if oldConn != nil {
		_ = oldConn.Close(websocket.StatusNormalClosure, "reconnecting")
	}

	delay := c.config.ReconnectDelay

	for attempt := 1; ; attempt++ {
		c.mu.Lock()
		if c.reconnectCount >= c.config.MaxReconnects {
			c.mu.Unlock()
			c.setState(ConnStateFailed)
			return types.NewError(types.ErrStreamDisconnected,
				fmt.Sprintf("exhausted %d reconnect attempts", c.config.MaxReconnects))
		}
		c.reconnectCount++
		c.mu.Unlock()

		c.logger.Info("reconnecting to stream",
			zap.Int("attempt", attempt),
			zap.Int("max", c.config.MaxReconnects),
			zap.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case <-time.After(delay):
		}

		if err := c.connect(ctx); err != nil {
			c.logger.Warn("reconnect failed",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			delay = time.Duration(float64(delay) * c.config.BackoffMultiplier)
			if delay > c.config.MaxBackoff {
				delay = c.config.MaxBackoff
			}
			continue
		}

		c.mu.Lock()
		c.reconnectCount = 0
		c.mu.Unlock()
		c.logger.Info("stream reconnected", zap.Int("attempt", attempt))
		return nil
	}
}

// waitForReconnect blocks until the in-flight reconnect settles.
func (c *Client) waitForReconnect(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case <-ticker.C:
			c.mu.Lock()
			reconnecting := c.reconnecting
			state := c.state
			c.mu.Unlock()
			if !reconnecting {
				if state == ConnStateConnected {
					return nil
				}
				return types.NewError(types.ErrStreamDisconnected,
					fmt.Sprintf("reconnect settled in state %s", state))
			}
		}
	}
}

// writeJSON marshals and writes one frame. Writes are serialized so the
// heartbeat and resubscribe frames never interleave.
func (c *Client) writeJSON(ctx context.Context, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return types.NewError(types.ErrStreamDisconnected, "not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.Write(ctx, websocket.MessageText, body)
}

// Close implements Source. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.mu.Unlock()

	c.setState(ConnStateClosed)
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "closing")
	}
	return nil
}
