// Package wsfeed implements feed.Provider against an upstream feed gateway
// speaking JSON commands over WebSocket.
//
// Every command carries an id and gets exactly one "ok" or "error" response
// with the same id. The gateway also pushes id-less "update" frames when new
// values are ready; those only trigger a refresh.
package wsfeed

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/rickgao/rtdbridge/internal/auth"
	"github.com/rickgao/rtdbridge/internal/feed"
	"github.com/rickgao/rtdbridge/internal/model"
)

// Provider dials one gateway connection per feed session.
type Provider struct {
	cfg    Config
	creds  *auth.Credentials
	logger *slog.Logger
}

// New creates a provider. Nil creds skips handshake signing.
func New(cfg Config, creds *auth.Credentials, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaults.ReadLimit
	}
	return &Provider{cfg: cfg, creds: creds, logger: logger.With("component", "wsfeed")}
}

// Start dials the gateway and performs the start handshake.
func (p *Provider) Start(ctx context.Context, notify feed.UpdateNotifier) (feed.Conn, error) {
	u, err := url.Parse(p.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse feed url: %w", err)
	}

	header, err := p.creds.Sign(http.MethodGet, u.Path, time.Now())
	if err != nil {
		return nil, err
	}
	header.Set("Accept", "application/json")
	if p.cfg.UserAgent != "" {
		header.Set("User-Agent", p.cfg.UserAgent)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: p.cfg.HandshakeTimeout,
	}
	ws, resp, err := dialer.DialContext(ctx, p.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial feed gateway: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial feed gateway: %w", err)
	}
	ws.SetReadLimit(p.cfg.ReadLimit)

	c := &conn{
		ws:      ws,
		notify:  notify,
		timeout: p.cfg.WriteTimeout,
		logger:  p.logger,
		pending: make(map[int64]chan Inbound),
		done:    make(chan struct{}),
	}
	go c.readLoop()

	msg, err := c.call(ctx, "start", StartParams{Client: p.cfg.UserAgent})
	if err != nil {
		c.close()
		return nil, err
	}
	var status StatusMsg
	if err := json.Unmarshal(msg, &status); err != nil {
		c.close()
		return nil, fmt.Errorf("decode start response: %w", err)
	}
	if status.Status < 0 {
		c.close()
		return nil, fmt.Errorf("%w: status %d", ErrRejected, status.Status)
	}

	p.logger.Debug("feed gateway started", "url", p.cfg.URL, "status", status.Status)
	return c, nil
}

// conn is one gateway connection. It implements feed.Conn.
type conn struct {
	ws      *websocket.Conn
	notify  feed.UpdateNotifier
	timeout time.Duration
	logger  *slog.Logger

	// Write serialization
	writeMu sync.Mutex

	// Pending command responses
	pendingMu sync.Mutex
	pending   map[int64]chan Inbound
	cmdID     atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
}

// Refresh implements feed.Conn.
func (c *conn) Refresh(ctx context.Context) (int, []feed.Update, error) {
	msg, err := c.call(ctx, "refresh", nil)
	if err != nil {
		return 0, nil, err
	}
	var refresh RefreshMsg
	if err := json.Unmarshal(msg, &refresh); err != nil {
		return 0, nil, fmt.Errorf("decode refresh response: %w", err)
	}

	updates := make([]feed.Update, 0, len(refresh.Updates))
	for _, u := range refresh.Updates {
		v, err := u.Value.Model()
		if err != nil {
			c.logger.Warn("skipping malformed update", "topic_id", u.TopicID, "error", err)
			continue
		}
		updates = append(updates, feed.Update{TopicID: u.TopicID, Value: v})
	}
	return refresh.Count, updates, nil
}

// Subscribe implements feed.Conn.
func (c *conn) Subscribe(ctx context.Context, topicID int, params []model.Variant) error {
	wire := make([]Variant, len(params))
	for i, p := range params {
		wire[i] = FromModel(p)
	}
	_, err := c.call(ctx, "subscribe", SubscribeParams{TopicID: topicID, Params: wire})
	return err
}

// Unsubscribe implements feed.Conn.
func (c *conn) Unsubscribe(ctx context.Context, topicID int) error {
	_, err := c.call(ctx, "unsubscribe", UnsubscribeParams{TopicID: topicID})
	return err
}

// Heartbeat implements feed.Conn. Status 1 means alive.
func (c *conn) Heartbeat(ctx context.Context) (bool, error) {
	msg, err := c.call(ctx, "heartbeat", nil)
	if err != nil {
		return false, err
	}
	var status StatusMsg
	if err := json.Unmarshal(msg, &status); err != nil {
		return false, fmt.Errorf("decode heartbeat response: %w", err)
	}
	return status.Status == 1, nil
}

// Terminate implements feed.Conn. The gateway is told to release the
// session when it is still reachable.
func (c *conn) Terminate(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	default:
	}
	_, err := c.call(ctx, "terminate", nil)
	c.close()
	return err
}

// call sends a command and waits for its response.
func (c *conn) call(ctx context.Context, cmd string, params any) (json.RawMessage, error) {
	id := c.cmdID.Add(1)
	respCh := make(chan Inbound, 1)

	c.pendingMu.Lock()
	c.pending[id] = respCh
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	data, err := json.Marshal(Command{ID: id, Cmd: cmd, Params: params})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmd, err)
	}
	if err := c.send(data); err != nil {
		return nil, fmt.Errorf("send %s: %w", cmd, err)
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", cmd, ctx.Err())
	case <-c.done:
		return nil, fmt.Errorf("%s: %w", cmd, ErrConnectionClosed)
	case resp := <-respCh:
		if resp.Type == "error" {
			var errMsg ErrorMsg
			if err := json.Unmarshal(resp.Msg, &errMsg); err != nil {
				return nil, fmt.Errorf("%s: %w: %w", cmd, ErrMalformedError, err)
			}
			return nil, &ProviderError{Cmd: cmd, Code: errMsg.Code, Message: errMsg.Message}
		}
		return resp.Msg, nil
	}
}

func (c *conn) send(data []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(c.timeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// readLoop routes responses to waiting calls and update frames to notify.
func (c *conn) readLoop() {
	defer c.close()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Debug("feed gateway read failed", "error", err)
			}
			return
		}

		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			c.logger.Warn("unparseable gateway frame", "size", len(data), "error", err)
			continue
		}

		switch {
		case in.ID != 0:
			c.routeResponse(in)
		case in.Type == "update":
			c.notify()
		default:
			c.logger.Debug("ignoring gateway frame", "type", in.Type)
		}
	}
}

// routeResponse sends a response to the waiting goroutine.
func (c *conn) routeResponse(resp Inbound) {
	c.pendingMu.Lock()
	ch, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.pendingMu.Unlock()

	if ok {
		select {
		case ch <- resp:
		default:
		}
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		c.ws.Close()
	})
}
