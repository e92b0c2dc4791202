// Package simfeed is an in-process feed.Provider producing a random walk per
// subscribed topic. It backs demos and smoke tests when no gateway is
// available.
package simfeed

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rickgao/rtdbridge/internal/feed"
	"github.com/rickgao/rtdbridge/internal/model"
)

// ErrTerminated is returned by calls on a terminated connection.
var ErrTerminated = errors.New("simulated feed terminated")

// Config configures the simulation.
type Config struct {
	Interval time.Duration // Time between ticks
	Start    float64       // Initial value when the subscription gives none
	Step     float64       // Max absolute change per tick
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: time.Second,
		Start:    100,
		Step:     0.5,
	}
}

// Provider starts simulated connections.
type Provider struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a simulated provider.
func New(cfg Config, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.Step <= 0 {
		cfg.Step = defaults.Step
	}
	return &Provider{cfg: cfg, logger: logger.With("component", "simfeed")}
}

// Start implements feed.Provider.
func (p *Provider) Start(_ context.Context, notify feed.UpdateNotifier) (feed.Conn, error) {
	c := &conn{
		cfg:    p.cfg,
		notify: notify,
		values: make(map[int]float64),
		done:   make(chan struct{}),
	}
	go c.run()
	p.logger.Debug("simulated feed started", "interval", p.cfg.Interval)
	return c, nil
}

type conn struct {
	cfg    Config
	notify feed.UpdateNotifier

	mu      sync.Mutex
	values  map[int]float64
	pending map[int]float64

	done      chan struct{}
	closeOnce sync.Once
}

func (c *conn) run() {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if c.tick() {
				c.notify()
			}
		}
	}
}

// tick moves every topic one step and reports whether anything changed.
func (c *conn) tick() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.values) == 0 {
		return false
	}
	if c.pending == nil {
		c.pending = make(map[int]float64, len(c.values))
	}
	for id, v := range c.values {
		v += (rand.Float64()*2 - 1) * c.cfg.Step
		v = math.Round(v*1e4) / 1e4
		c.values[id] = v
		c.pending[id] = v
	}
	return true
}

func (c *conn) terminated() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Refresh implements feed.Conn.
func (c *conn) Refresh(context.Context) (int, []feed.Update, error) {
	if c.terminated() {
		return 0, nil, ErrTerminated
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	updates := make([]feed.Update, 0, len(c.pending))
	for id, v := range c.pending {
		updates = append(updates, feed.Update{TopicID: id, Value: model.Number(v)})
	}
	c.pending = nil
	return len(updates), updates, nil
}

// Subscribe implements feed.Conn. A numeric first parameter seeds the walk.
func (c *conn) Subscribe(_ context.Context, topicID int, params []model.Variant) error {
	if c.terminated() {
		return ErrTerminated
	}
	start := c.cfg.Start
	if len(params) > 0 && params[0].Kind == model.KindNumber {
		start = params[0].Num
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[topicID] = start
	return nil
}

// Unsubscribe implements feed.Conn.
func (c *conn) Unsubscribe(_ context.Context, topicID int) error {
	if c.terminated() {
		return ErrTerminated
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, topicID)
	delete(c.pending, topicID)
	return nil
}

// Heartbeat implements feed.Conn.
func (c *conn) Heartbeat(context.Context) (bool, error) {
	return !c.terminated(), nil
}

// Terminate implements feed.Conn.
func (c *conn) Terminate(context.Context) error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}
