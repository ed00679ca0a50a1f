// Package websocket provides a reusable WebSocket client with automatic reconnection
package websocket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"perp_trader/internal/core"
	"perp_trader/pkg/telemetry"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// MessageHandler handles incoming WebSocket messages
type MessageHandler func(message []byte)

const (
	initialReconnectWait = 1 * time.Second
	maxReconnectWait     = 60 * time.Second
)

// Client is a resilient WebSocket client. On connection loss it reconnects
// with a doubling delay capped at maxReconnectWait; the delay resets after a
// successful open. Subscription messages registered through Subscribe are
// replayed on every new connection.
type Client struct {
	url     string
	handler MessageHandler

	conn *websocket.Conn
	mu   sync.Mutex

	reconnectInitial time.Duration
	reconnectMax     time.Duration
	reconnectWait    time.Duration

	subs []interface{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	onConnected func() // Callback when connected (useful for subscriptions)

	pingInterval time.Duration
	pingWait     time.Duration
	pongWait     time.Duration

	// Logger
	logger core.ILogger

	// OTel
	tracer           trace.Tracer
	msgCounter       metric.Int64Counter
	connCounter      metric.Int64Counter
	reconnectCounter metric.Int64Counter
	latencyHist      metric.Float64Histogram
}

// NewClient creates a new WebSocket client
func NewClient(url string, handler MessageHandler, logger core.ILogger) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	tracer := telemetry.GetTracer("ws-client")
	meter := telemetry.GetMeter("ws-client")

	msgCounter, _ := meter.Int64Counter("ws_messages_total",
		metric.WithDescription("Total number of WebSocket messages received"))
	connCounter, _ := meter.Int64Counter("ws_connections_total",
		metric.WithDescription("Total number of WebSocket connections initiated"))
	reconnectCounter, _ := meter.Int64Counter("ws_reconnects_total",
		metric.WithDescription("Total number of WebSocket reconnect attempts"))
	latencyHist, _ := meter.Float64Histogram("ws_message_processing_latency_seconds",
		metric.WithDescription("Latency of processing WebSocket messages in seconds"))

	return &Client{
		url:              url,
		handler:          handler,
		reconnectInitial: initialReconnectWait,
		reconnectMax:     maxReconnectWait,
		reconnectWait:    initialReconnectWait,
		pingInterval:     30 * time.Second,
		pingWait:         10 * time.Second,
		pongWait:         30 * time.Second,
		ctx:              ctx,
		cancel:           cancel,
		tracer:           tracer,
		msgCounter:       msgCounter,
		connCounter:      connCounter,
		reconnectCounter: reconnectCounter,
		latencyHist:      latencyHist,
		logger:           logger,
	}
}

// SetPingConfig sets the ping/pong configuration
func (c *Client) SetPingConfig(interval, wait, pongWait time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingInterval = interval
	c.pingWait = wait
	c.pongWait = pongWait
}

// SetOnConnected sets the callback for when the connection is established
func (c *Client) SetOnConnected(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnected = cb
}

// Send sends a message over the WebSocket
func (c *Client) Send(message interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("websocket not connected")
	}

	return c.conn.WriteJSON(message)
}

// Subscribe records a subscription message so it is replayed after every
// reconnect, and sends it immediately when a connection is live.
func (c *Client) Subscribe(message interface{}) error {
	c.mu.Lock()
	c.subs = append(c.subs, message)
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil // sent on next connect
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.WriteJSON(message)
}

// Subscriptions returns a copy of the recorded subscription messages
func (c *Client) Subscriptions() []interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]interface{}, len(c.subs))
	copy(out, c.subs)
	return out
}

// Start connects and begins listening for messages
func (c *Client) Start() {
	c.wg.Add(1)
	go c.runLoop()
}

// Stop closes the connection and stops the loop. The connection is torn
// down first so a blocked read returns promptly.
func (c *Client) Stop() {
	c.cancel()
	c.closeConn()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		// All goroutines exited cleanly
	case <-time.After(5 * time.Second):
		if c.logger != nil {
			c.logger.Warn("WebSocket client Stop: some goroutines did not exit within timeout")
		}
	}

	c.mu.Lock()
	c.subs = nil
	c.mu.Unlock()
}

func (c *Client) runLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			if err := c.connect(); err != nil {
				if c.logger != nil {
					c.logger.Error("WebSocket connect failed", "url", c.url, "error", err, "retry_in", c.reconnectWait)
				}
				if !c.waitReconnect() {
					return
				}
				continue
			}

			// Successful open resets the backoff
			c.mu.Lock()
			c.reconnectWait = c.reconnectInitial
			onConnected := c.onConnected
			pingInterval := c.pingInterval
			c.mu.Unlock()

			c.resubscribe()
			if onConnected != nil {
				onConnected()
			}

			// Start heartbeat if interval > 0
			heartbeatCtx, heartbeatCancel := context.WithCancel(c.ctx)
			if pingInterval > 0 {
				c.wg.Add(1)
				go c.heartbeat(heartbeatCtx)
			}

			c.readLoop()
			heartbeatCancel()

			// If readLoop returns, connection was lost
			if c.logger != nil && c.ctx.Err() == nil {
				c.logger.Warn("WebSocket connection lost", "url", c.url, "retry_in", c.reconnectWait)
			}
			if !c.waitReconnect() {
				return
			}
		}
	}
}

// waitReconnect sleeps the current backoff then doubles it up to the cap.
// Returns false when the client is stopping.
func (c *Client) waitReconnect() bool {
	c.mu.Lock()
	wait := c.reconnectWait
	c.reconnectWait = minDuration(c.reconnectWait*2, c.reconnectMax)
	c.mu.Unlock()

	c.reconnectCounter.Add(c.ctx, 1, metric.WithAttributes(attribute.String("url", c.url)))

	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(wait):
		return true
	}
}

func (c *Client) resubscribe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	for _, msg := range c.subs {
		if err := c.conn.WriteJSON(msg); err != nil {
			if c.logger != nil {
				c.logger.Warn("WebSocket resubscribe failed", "error", err)
			}
			return
		}
	}
}

func (c *Client) heartbeat(ctx context.Context) {
	defer c.wg.Done()
	c.mu.Lock()
	interval := c.pingInterval
	wait := c.pingWait
	c.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()

			if conn == nil {
				return
			}

			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(wait)); err != nil {
				// If ping fails, close connection to trigger reconnect
				c.closeConn()
				return
			}
		}
	}
}

func (c *Client) connect() error {
	ctx, span := c.tracer.Start(c.ctx, "WS Connect",
		trace.WithAttributes(attribute.String("ws.url", c.url)),
	)
	defer span.End()

	c.connCounter.Add(ctx, 1)

	c.mu.Lock()
	defer c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		span.RecordError(err)
		return err
	}

	// Set pong handler
	conn.SetReadDeadline(time.Now().Add(c.pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})

	c.conn = conn
	return nil
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) readLoop() {
	defer c.closeConn()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				return
			}

			_, message, err := conn.ReadMessage()
			if err != nil {
				return
			}

			start := time.Now()
			c.msgCounter.Add(c.ctx, 1)

			if c.handler != nil {
				c.handler(message)
			}

			duration := time.Since(start).Seconds()
			c.latencyHist.Record(c.ctx, duration)
		}
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
