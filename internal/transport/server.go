// Package transport serves consumer WebSocket connections.
package transport

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Server upgrades HTTP requests to WebSocket connections and forwards their
// frames to a Handler.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	conns   map[string]*conn
	closing bool
	wg      sync.WaitGroup
}

// conn is one consumer connection.
type conn struct {
	id      string
	ws      *websocket.Conn
	limiter *rate.Limiter
	logger  *slog.Logger
	timeout time.Duration

	// Write serialization
	writeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

// NewServer creates a WebSocket server.
func NewServer(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaults.PingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaults.PongTimeout
	}

	s := &Server{
		cfg:    cfg,
		logger: logger.With("component", "transport"),
		conns:  make(map[string]*conn),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(s.cfg.AllowedOrigins, r.Header.Get("Origin"))
}

// Handler returns an http.Handler that serves WebSocket connections to h.
func (s *Server) Handler(h Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.serve(w, r, h)
	})
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request, h Handler) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		http.Error(w, ErrServerClosed.Error(), http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := s.newConn(ws)
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()

	c.logger.Info("consumer connected", "remote", r.RemoteAddr)

	ctx := r.Context()
	if err := h.OnOpen(ctx, c.id); err != nil {
		c.logger.Warn("connection rejected", "error", err)
		s.remove(c.id)
		c.close(websocket.CloseTryAgainLater, err.Error())
		return
	}

	go c.pingLoop(s.cfg.PingInterval)
	c.readLoop(ctx, h, s.cfg)

	s.remove(c.id)
	c.close(websocket.CloseNormalClosure, "")
	if err := h.OnClose(context.Background(), c.id); err != nil {
		c.logger.Debug("close handler failed", "error", err)
	}
	c.logger.Info("consumer disconnected")
}

func (s *Server) newConn(ws *websocket.Conn) *conn {
	limit := rate.Inf
	if s.cfg.RateLimit > 0 {
		limit = rate.Limit(s.cfg.RateLimit)
	}
	burst := s.cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	id := uuid.NewString()
	return &conn{
		id:      id,
		ws:      ws,
		limiter: rate.NewLimiter(limit, burst),
		logger:  s.logger.With("conn_id", id),
		timeout: s.cfg.WriteTimeout,
		done:    make(chan struct{}),
	}
}

func (s *Server) lookup(connID string) (*conn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conns[connID]
	if !ok {
		return nil, ErrConnectionNotFound
	}
	return c, nil
}

func (s *Server) remove(connID string) {
	s.mu.Lock()
	delete(s.conns, connID)
	s.mu.Unlock()
}

// SendBinary writes a binary frame to a connection.
func (s *Server) SendBinary(connID string, data []byte) error {
	c, err := s.lookup(connID)
	if err != nil {
		return err
	}
	return c.write(websocket.BinaryMessage, data)
}

// SendText writes a text frame to a connection.
func (s *Server) SendText(connID string, text string) error {
	c, err := s.lookup(connID)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, []byte(text))
}

// Close closes a connection. Its read loop exits and the handler's OnClose runs.
func (s *Server) Close(connID string) error {
	c, err := s.lookup(connID)
	if err != nil {
		return err
	}
	c.close(websocket.CloseNormalClosure, "")
	return nil
}

// Len returns the number of open connections.
func (s *Server) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Shutdown refuses new connections, closes every open one and waits for
// their handlers to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	s.logger.Info("closing consumer connections", "count", len(conns))
	for _, c := range conns {
		c.close(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.logger.Warn("shutdown timeout, connections still draining")
		return ctx.Err()
	}
}

// readLoop reads frames until the connection fails or is closed.
func (c *conn) readLoop(ctx context.Context, h Handler, cfg Config) {
	if cfg.ReadLimit > 0 {
		c.ws.SetReadLimit(cfg.ReadLimit)
	}
	c.ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	})

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.logger.Debug("read failed", "error", err)
				}
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))

		if !c.limiter.Allow() {
			c.logger.Warn("inbound rate limit exceeded, dropping frame", "size", len(data))
			continue
		}

		switch messageType {
		case websocket.TextMessage:
			h.OnText(ctx, c.id, string(data))
		case websocket.BinaryMessage:
			h.OnBinary(ctx, c.id, data)
		}
	}
}

// pingLoop keeps the consumer's pong deadline moving.
func (c *conn) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.timeout)
			if err := c.ws.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
				return
			}
		}
	}
}

func (c *conn) write(messageType int, data []byte) error {
	select {
	case <-c.done:
		return ErrConnectionNotFound
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(c.timeout))
	return c.ws.WriteMessage(messageType, data)
}

func (c *conn) close(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(time.Second),
		)
		c.ws.Close()
	})
}
