// Package registry pairs consumer connections with feed sessions.
//
// One mutex guards a single arena of session records keyed by session id and
// the connection id index into it. Sessions report through one event channel
// that a dispatch loop drains, so nothing calls back into the registry while
// its lock is held.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"

	"github.com/rickgao/rtdbridge/internal/feed"
	"github.com/rickgao/rtdbridge/internal/model"
	"github.com/rickgao/rtdbridge/internal/protocol"
)

// Option customizes a Registry.
type Option func(*Registry)

// WithObservers adds session event observers.
func WithObservers(obs ...Observer) Option {
	return func(r *Registry) { r.observers = append(r.observers, obs...) }
}

// WithRecorder sets the counter sink.
func WithRecorder(rec Recorder) Option {
	return func(r *Registry) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// WithSessionOptions passes options to every session the registry creates.
func WithSessionOptions(opts ...feed.Option) Option {
	return func(r *Registry) { r.sessionOpts = append(r.sessionOpts, opts...) }
}

// Registry owns every live feed session and routes between sessions and
// consumer connections.
type Registry struct {
	cfg         Config
	provider    feed.Provider
	transport   Transport
	scheduler   Scheduler
	observers   []Observer
	recorder    Recorder
	sessionOpts []feed.Option
	logger      *slog.Logger

	events chan feed.Event
	quit   chan struct{}

	// Lifecycle
	ctx      context.Context
	cancel   context.CancelFunc
	wg       conc.WaitGroup
	stopOnce sync.Once

	// Arena and index, guarded by mu
	mu       sync.Mutex
	sessions map[uuid.UUID]*entry
	byConn   map[string]uuid.UUID
	closing  bool

	opened          atomic.Int64
	closed          atomic.Int64
	unknownMessages atomic.Int64
	routingMisses   atomic.Int64
}

type entry struct {
	session *feed.Session
	connID  string
}

// New creates a registry. Call Start to begin dispatching session events.
func New(cfg Config, provider feed.Provider, transport Transport, scheduler Scheduler, logger *slog.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultConfig().EventBuffer
	}
	if cfg.CloseWorkers <= 0 {
		cfg.CloseWorkers = DefaultConfig().CloseWorkers
	}

	r := &Registry{
		cfg:       cfg,
		provider:  provider,
		transport: transport,
		scheduler: scheduler,
		recorder:  nopRecorder{},
		logger:    logger.With("component", "registry"),
		events:    make(chan feed.Event, cfg.EventBuffer),
		quit:      make(chan struct{}),
		sessions:  make(map[uuid.UUID]*entry),
		byConn:    make(map[string]uuid.UUID),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins the dispatch loop. The loop keeps ctx's values but not its
// cancellation; it runs until Shutdown so teardown events still reach
// observers.
func (r *Registry) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))
	r.wg.Go(r.dispatchLoop)
	r.logger.Info("connection registry started", "event_buffer", r.cfg.EventBuffer)
	return nil
}

// OnOpen creates and connects a session for a new consumer connection.
// A failed connect is reported to the consumer as a status frame, not
// returned.
func (r *Registry) OnOpen(ctx context.Context, connID string) error {
	id := uuid.New()
	opts := append([]feed.Option{feed.WithQuit(r.quit)}, r.sessionOpts...)
	session := feed.NewSession(id, r.provider, r.events, r.cfg.Session,
		r.logger.With("conn_id", connID), opts...)

	r.mu.Lock()
	if r.closing {
		r.mu.Unlock()
		return ErrShuttingDown
	}
	if _, ok := r.byConn[connID]; ok {
		r.mu.Unlock()
		return ErrDuplicateConnection
	}
	r.sessions[id] = &entry{session: session, connID: connID}
	r.byConn[connID] = id
	r.mu.Unlock()

	r.opened.Add(1)
	r.recorder.ConnectionOpened()
	r.logger.Info("connection opened", "conn_id", connID, "session_id", id.String())

	if err := session.Connect(ctx); err != nil {
		r.logger.Warn("initial feed connect failed", "conn_id", connID, "error", err)
	}
	return nil
}

// OnClose tears down the session of a closed consumer connection.
func (r *Registry) OnClose(ctx context.Context, connID string) error {
	r.mu.Lock()
	id, ok := r.byConn[connID]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownConnection
	}
	e := r.sessions[id]
	r.scheduler.Cancel(id)
	delete(r.byConn, connID)
	delete(r.sessions, id)
	r.mu.Unlock()

	r.closed.Add(1)
	r.recorder.ConnectionClosed()
	e.session.Close(ctx)
	r.logger.Info("connection closed", "conn_id", connID, "session_id", id.String())
	return nil
}

// OnText echoes a text frame back to its sender.
func (r *Registry) OnText(_ context.Context, connID string, text string) {
	r.recorder.InboundFrame("text")
	if err := r.transport.SendText(connID, text); err != nil {
		r.logger.Debug("echo failed", "conn_id", connID, "error", err)
	}
}

// OnBinary decodes a request frame and routes it to the connection's session.
// Frames that are not requests are logged, counted and dropped.
func (r *Registry) OnBinary(ctx context.Context, connID string, data []byte) {
	msg, err := protocol.DecodeRequest(data)
	if err != nil {
		r.unknownMessages.Add(1)
		r.recorder.UnknownMessage()
		r.logger.Warn("dropping unknown message", "conn_id", connID, "size", len(data), "error", err)
		return
	}
	r.recorder.InboundFrame(msg.Type.String())

	var topicID int
	switch msg.Type {
	case protocol.TypeSubscribe:
		topicID = msg.Subscribe.TopicID
	case protocol.TypeCancel:
		topicID = msg.Cancel.TopicID
	}

	session, ok := r.sessionFor(connID)
	if !ok {
		r.logger.Error("no session for connection", "conn_id", connID, "type", msg.Type.String())
		r.sendError(connID, model.CodeInternalError, topicID, "no feed session for connection")
		return
	}

	switch msg.Type {
	case protocol.TypeSubscribe:
		err = session.Subscribe(ctx, topicID, msg.Subscribe.Params)
	case protocol.TypeCancel:
		err = session.Unsubscribe(ctx, topicID)
	}
	if err == nil {
		return
	}

	if errors.Is(err, feed.ErrNotConnected) {
		r.sendError(connID, model.CodeNotConnected, topicID, "feed session is not connected")
		return
	}
	r.logger.Warn("request failed", "conn_id", connID, "type", msg.Type.String(), "topic_id", topicID, "error", err)
	r.sendError(connID, model.CodeProviderError, topicID, err.Error())
}

func (r *Registry) sendError(connID string, code model.ErrorCode, topicID int, message string) {
	data, err := protocol.EncodeError(model.ErrorReport{Code: code, TopicID: topicID, Message: message})
	if err != nil {
		r.logger.Error("failed to encode error report", "error", err)
		return
	}
	r.recorder.ErrorSent(string(code))
	if err := r.transport.SendBinary(connID, data); err != nil {
		r.logger.Debug("failed to send error report", "conn_id", connID, "error", err)
	}
}

func (r *Registry) sessionFor(connID string) (*feed.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byConn[connID]
	if !ok {
		return nil, false
	}
	return r.sessions[id].session, true
}

func (r *Registry) connFor(id uuid.UUID) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return "", false
	}
	return e.connID, true
}

// dispatchLoop turns session events into consumer frames.
func (r *Registry) dispatchLoop() {
	for {
		select {
		case <-r.ctx.Done():
			return
		case ev := <-r.events:
			r.dispatch(ev)
		}
	}
}

func (r *Registry) dispatch(ev feed.Event) {
	connID, ok := r.connFor(ev.SessionID)
	for _, o := range r.observers {
		o.SessionEvent(ev, connID)
	}
	if !ok {
		r.routingMisses.Add(1)
		r.recorder.RoutingMiss()
		r.logger.Debug("routing miss", "session_id", ev.SessionID.String(), "event", ev.Kind.String())
		return
	}

	var err error
	switch ev.Kind {
	case feed.EventConnected:
		err = r.transport.SendText(connID, protocol.StatusConnected)
	case feed.EventDisconnected:
		err = r.transport.SendText(connID, protocol.StatusDisconnected)
	case feed.EventConnectFailed:
		err = r.transport.SendText(connID, protocol.StatusUnavailable)
	case feed.EventHeartbeatLost:
		err = r.transport.SendText(connID, protocol.StatusReconnecting)
		r.scheduleReconnect(ev.SessionID)
	case feed.EventData:
		var data []byte
		data, err = protocol.EncodeDataReport(ev.Report)
		if err != nil {
			r.logger.Error("failed to encode data report", "session_id", ev.SessionID.String(), "error", err)
			return
		}
		err = r.transport.SendBinary(connID, data)
		if err == nil {
			r.recorder.ReportSent(len(ev.Report.Rows))
		}
	}
	if err != nil {
		r.logger.Debug("send failed", "conn_id", connID, "event", ev.Kind.String(), "error", err)
	}
}

// scheduleReconnect moves the session to ReconnectPending and arms one
// delayed attempt. Attempts repeat until one succeeds or the session closes.
func (r *Registry) scheduleReconnect(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	if !ok || r.closing {
		return
	}
	session := e.session
	if !session.MarkReconnectPending() {
		return
	}

	scheduled := r.scheduler.Schedule(id, func(ctx context.Context) bool {
		err := session.Reconnect(ctx)
		switch {
		case err == nil:
			r.recorder.ReconnectAttempt("success")
			return false
		case errors.Is(err, feed.ErrConnectFailed):
			r.recorder.ReconnectAttempt("failure")
			return session.State() == feed.StateReconnectPending
		default:
			r.recorder.ReconnectAttempt("abandoned")
			return false
		}
	})
	if !scheduled {
		// An armed attempt already covers this session.
		r.logger.Debug("reconnect already armed", "session_id", id.String())
		return
	}
	r.logger.Info("reconnect scheduled", "session_id", id.String(), "conn_id", e.connID)
}

// Stats returns current statistics.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	byState := make(map[string]int)
	for _, e := range r.sessions {
		byState[e.session.State().String()]++
	}
	return Stats{
		OpenConnections: len(r.byConn),
		LiveSessions:    len(r.sessions),
		TotalOpened:     r.opened.Load(),
		TotalClosed:     r.closed.Load(),
		UnknownMessages: r.unknownMessages.Load(),
		RoutingMisses:   r.routingMisses.Load(),
		ByState:         byState,
	}
}

// Sessions describes every live session.
func (r *Registry) Sessions() []SessionInfo {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	out := make([]SessionInfo, len(entries))
	for i, e := range entries {
		out[i] = SessionInfo{
			SessionID:     e.session.ID().String(),
			ConnID:        e.connID,
			State:         e.session.State().String(),
			Subscriptions: e.session.Subscriptions(),
			SkewOffset:    e.session.SkewOffset(),
		}
	}
	return out
}

// Shutdown closes every session concurrently, then stops dispatching.
// Consumer connections are left to the transport.
func (r *Registry) Shutdown(ctx context.Context) error {
	var err error
	r.stopOnce.Do(func() {
		r.logger.Info("stopping connection registry")

		r.mu.Lock()
		r.closing = true
		entries := make([]*entry, 0, len(r.sessions))
		for id, e := range r.sessions {
			entries = append(entries, e)
			delete(r.sessions, id)
			delete(r.byConn, e.connID)
		}
		r.mu.Unlock()

		r.scheduler.Stop()

		p := pool.New().WithMaxGoroutines(r.cfg.CloseWorkers)
		for _, e := range entries {
			p.Go(func() { e.session.Close(ctx) })
		}
		p.Wait()
		for range entries {
			r.closed.Add(1)
			r.recorder.ConnectionClosed()
		}

		close(r.quit)
		if r.cancel != nil {
			r.cancel()
		}

		done := make(chan struct{})
		go func() {
			r.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			r.logger.Info("connection registry stopped", "sessions_closed", len(entries))
		case <-ctx.Done():
			r.logger.Warn("shutdown timeout, dispatch loop still running")
			err = ctx.Err()
		}
	})
	return err
}
