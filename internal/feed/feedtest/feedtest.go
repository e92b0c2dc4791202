// Package feedtest provides an in-memory feed.Provider for tests.
package feedtest

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/rickgao/rtdbridge/internal/feed"
	"github.com/rickgao/rtdbridge/internal/model"
)

// ErrTerminated is returned by calls on a terminated Conn.
var ErrTerminated = errors.New("feedtest: connection terminated")

// Provider records every Start and hands out controllable connections.
type Provider struct {
	mu       sync.Mutex
	startErr error
	starts   int
	conns    []*Conn
	onStart  func(n int, c *Conn)
}

// NewProvider returns a provider that accepts every Start.
func NewProvider() *Provider {
	return &Provider{}
}

// SetStartError makes later Starts fail with err. Nil restores success.
func (p *Provider) SetStartError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startErr = err
}

// OnStart registers fn to configure each new connection before Start
// returns it. n counts successful starts from 1.
func (p *Provider) OnStart(fn func(n int, c *Conn)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onStart = fn
}

// Start implements feed.Provider.
func (p *Provider) Start(_ context.Context, notify feed.UpdateNotifier) (feed.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.starts++
	if p.startErr != nil {
		return nil, p.startErr
	}
	c := &Conn{notify: notify, alive: true, subs: make(map[int][]model.Variant)}
	p.conns = append(p.conns, c)
	if p.onStart != nil {
		p.onStart(len(p.conns), c)
	}
	return c, nil
}

// Starts returns how many times Start was called.
func (p *Provider) Starts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.starts
}

// Conns returns every connection handed out, oldest first.
func (p *Provider) Conns() []*Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.conns)
}

// Last returns the newest connection, or nil.
func (p *Provider) Last() *Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.conns) == 0 {
		return nil
	}
	return p.conns[len(p.conns)-1]
}

// Conn is a controllable feed.Conn.
type Conn struct {
	notify feed.UpdateNotifier

	mu           sync.Mutex
	alive        bool
	terminated   bool
	subs         map[int][]model.Variant
	pending      []feed.Update
	countSkew    int
	subscribeErr error
	subscribeLag time.Duration
	calls        []string
	heartbeats   int
}

// Push queues updates and signals the session.
func (c *Conn) Push(updates ...feed.Update) {
	c.mu.Lock()
	c.pending = append(c.pending, updates...)
	c.mu.Unlock()
	c.notify()
}

// Notify signals the session without queueing anything.
func (c *Conn) Notify() { c.notify() }

// SetAlive controls the next heartbeat results.
func (c *Conn) SetAlive(alive bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alive = alive
}

// SetCountSkew makes Refresh report len(updates)+n as its count.
func (c *Conn) SetCountSkew(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.countSkew = n
}

// SetSubscribeError makes later Subscribe calls fail with err.
func (c *Conn) SetSubscribeError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribeErr = err
}

// SetSubscribeDelay makes later Subscribe calls take d, or until their
// context is done.
func (c *Conn) SetSubscribeDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribeLag = d
}

// Subscribed returns the params last forwarded for topicID.
func (c *Conn) Subscribed(topicID int) ([]model.Variant, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	params, ok := c.subs[topicID]
	return params, ok
}

// Calls returns the names of Subscribe/Unsubscribe/Refresh/Terminate calls in order.
func (c *Conn) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.calls)
}

// Heartbeats returns how many heartbeat checks were made.
func (c *Conn) Heartbeats() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.heartbeats
}

// Terminated reports whether Terminate was called.
func (c *Conn) Terminated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminated
}

// Refresh implements feed.Conn.
func (c *Conn) Refresh(context.Context) (int, []feed.Update, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "refresh")
	if c.terminated {
		return 0, nil, ErrTerminated
	}
	updates := c.pending
	c.pending = nil
	return len(updates) + c.countSkew, updates, nil
}

// Subscribe implements feed.Conn.
func (c *Conn) Subscribe(ctx context.Context, topicID int, params []model.Variant) error {
	c.mu.Lock()
	lag := c.subscribeLag
	c.mu.Unlock()
	if lag > 0 {
		timer := time.NewTimer(lag)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "subscribe")
	if c.terminated {
		return ErrTerminated
	}
	if c.subscribeErr != nil {
		return c.subscribeErr
	}
	c.subs[topicID] = slices.Clone(params)
	return nil
}

// Unsubscribe implements feed.Conn.
func (c *Conn) Unsubscribe(_ context.Context, topicID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "unsubscribe")
	if c.terminated {
		return ErrTerminated
	}
	delete(c.subs, topicID)
	return nil
}

// Heartbeat implements feed.Conn.
func (c *Conn) Heartbeat(context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.heartbeats++
	return c.alive && !c.terminated, nil
}

// Terminate implements feed.Conn.
func (c *Conn) Terminate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "terminate")
	c.terminated = true
	return nil
}
