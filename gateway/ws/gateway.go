// Package ws exposes a read-only websocket feed of validated positions,
// raised alerts and health snapshots for presentation consumers. The
// gateway only observes: it never mutates pipeline, alerting or monitor
// state.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/c360/trackstream/alerting"
	"github.com/c360/trackstream/errors"
	"github.com/c360/trackstream/ingest"
	"github.com/c360/trackstream/monitor"
)

// Envelope wraps every outgoing message with type discrimination so
// clients can dispatch without sniffing payloads.
type Envelope struct {
	Type      string          `json:"type"` // "position", "alert", "health"
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Config tunes the gateway.
type Config struct {
	// SendBuffer is the per-client outgoing queue. A client that falls
	// this far behind is disconnected.
	SendBuffer int `yaml:"send_buffer"`
	// WriteTimeout bounds a single write to one client.
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// PingInterval paces connection health probes.
	PingInterval time.Duration `yaml:"ping_interval"`
}

// DefaultConfig returns production gateway defaults.
func DefaultConfig() Config {
	return Config{
		SendBuffer:   64,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// Validate checks the configuration at construction time.
func (c Config) Validate() error {
	if c.SendBuffer <= 0 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "ws.config", "send_buffer must be positive")
	}
	if c.WriteTimeout <= 0 || c.PingInterval <= 0 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "ws.config", "timeouts must be positive")
	}
	return nil
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Gateway fans observed events out to websocket clients.
type Gateway struct {
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader

	pipeline *ingest.Pipeline
	alerts   *alerting.System
	service  *monitor.Service

	clientsMu sync.Mutex
	clients   map[string]*client

	lifecycleMu sync.Mutex
	running     bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewGateway wires the gateway to its observed components.
func NewGateway(cfg Config, pipeline *ingest.Pipeline, alerts *alerting.System, service *monitor.Service, logger *slog.Logger) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if pipeline == nil || alerts == nil || service == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "ws.gateway", "pipeline, alerting and monitor are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Gateway{
		cfg:    cfg,
		logger: logger.With("component", "ws.gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		pipeline: pipeline,
		alerts:   alerts,
		service:  service,
		clients:  make(map[string]*client),
	}, nil
}

// Start launches the feed loops. Calling Start on a running gateway is
// a no-op.
func (g *Gateway) Start(ctx context.Context) error {
	g.lifecycleMu.Lock()
	defer g.lifecycleMu.Unlock()
	if g.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g.cancel = cancel
	g.running = true

	g.wg.Add(3)
	go g.positionFeed(runCtx)
	go g.alertFeed(runCtx)
	go g.healthFeed(runCtx)

	g.logger.Info("websocket gateway started")
	return nil
}

// Stop disconnects all clients and waits for the feed loops. Calling
// Stop on a stopped gateway is a no-op.
func (g *Gateway) Stop(timeout time.Duration) error {
	g.lifecycleMu.Lock()
	if !g.running {
		g.lifecycleMu.Unlock()
		return nil
	}
	g.running = false
	g.cancel()
	g.lifecycleMu.Unlock()

	g.clientsMu.Lock()
	for id, c := range g.clients {
		close(c.send)
		_ = c.conn.Close()
		delete(g.clients, id)
	}
	g.clientsMu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		g.logger.Info("websocket gateway stopped")
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrOperationTimeout, "ws.gateway", "stop wait exceeded timeout")
	}
}

// Handler returns the http handler that upgrades connections.
func (g *Gateway) Handler() http.Handler {
	return http.HandlerFunc(g.handleConnection)
}

// ClientCount reports currently connected clients.
func (g *Gateway) ClientCount() int {
	g.clientsMu.Lock()
	defer g.clientsMu.Unlock()
	return len(g.clients)
}

func (g *Gateway) handleConnection(w http.ResponseWriter, r *http.Request) {
	g.lifecycleMu.Lock()
	running := g.running
	g.lifecycleMu.Unlock()
	if !running {
		http.Error(w, "gateway not running", http.StatusServiceUnavailable)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("connection upgrade failed", "error", err)
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, g.cfg.SendBuffer),
	}
	g.clientsMu.Lock()
	g.clients[c.id] = c
	count := len(g.clients)
	g.clientsMu.Unlock()

	g.logger.Info("client connected", "client_id", c.id, "clients", count)

	g.wg.Add(2)
	go g.writePump(c)
	go g.readPump(c)
}

// writePump drains the client's send queue. Exits when the queue is
// closed by unregister.
func (g *Gateway) writePump(c *client) {
	defer g.wg.Done()
	ticker := time.NewTicker(g.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(g.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				g.unregister(c, "write_failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(g.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				g.unregister(c, "ping_failed")
				return
			}
		}
	}
}

// readPump discards inbound frames; the feed is read-only. It exists to
// process control frames and detect disconnects.
func (g *Gateway) readPump(c *client) {
	defer g.wg.Done()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			g.unregister(c, "client_disconnected")
			return
		}
	}
}

func (g *Gateway) unregister(c *client, reason string) {
	g.clientsMu.Lock()
	if _, ok := g.clients[c.id]; ok {
		delete(g.clients, c.id)
		close(c.send)
	}
	g.clientsMu.Unlock()
	_ = c.conn.Close()
	g.logger.Info("client disconnected", "client_id", c.id, "reason", reason)
}

func (g *Gateway) positionFeed(ctx context.Context) {
	defer g.wg.Done()
	events, cancel := g.pipeline.Positions().Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-events:
			if !ok {
				return
			}
			g.broadcast("position", p)
		}
	}
}

func (g *Gateway) alertFeed(ctx context.Context) {
	defer g.wg.Done()
	events, cancel := g.alerts.Raised().Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-events:
			if !ok {
				return
			}
			g.broadcast("alert", a)
		}
	}
}

func (g *Gateway) healthFeed(ctx context.Context) {
	defer g.wg.Done()
	events, cancel := g.service.Health().Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case h, ok := <-events:
			if !ok {
				return
			}
			g.broadcast("health", h)
		}
	}
}

// broadcast wraps the payload in an envelope and queues it for every
// client. A client whose queue is full is dropped rather than allowed
// to stall the feed.
func (g *Gateway) broadcast(kind string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		g.logger.Error("payload encode failed", "type", kind, "error", err)
		return
	}
	data, err := json.Marshal(Envelope{
		Type:      kind,
		Timestamp: time.Now().UnixMilli(),
		Payload:   raw,
	})
	if err != nil {
		g.logger.Error("envelope encode failed", "type", kind, "error", err)
		return
	}

	g.clientsMu.Lock()
	var slow []*client
	for _, c := range g.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	g.clientsMu.Unlock()

	for _, c := range slow {
		g.unregister(c, "slow_client")
	}
}
