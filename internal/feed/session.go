package feed

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/rtdbridge/internal/model"
)

// Option customizes a Session.
type Option func(*Session)

// WithClock replaces the bridge clock. Tests use it to pin time.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithQuit makes event delivery give up once quit is closed, so a session
// never blocks on an owner that stopped reading.
func WithQuit(quit <-chan struct{}) Option {
	return func(s *Session) { s.quit = quit }
}

// Session is one consumer's connection to the feed provider.
type Session struct {
	id       uuid.UUID
	provider Provider
	cfg      Config
	logger   *slog.Logger
	events   chan<- Event
	quit     <-chan struct{}
	now      func() time.Time

	mu     sync.Mutex
	state  State
	closed bool
	gen    uint64 // bumped on every transition that retires a provider connection
	conn   Conn
	stop   chan struct{} // closed to stop the current generation's loops
	subs   map[int][]model.Variant
	skew   Skew
}

// NewSession creates a disconnected session that reports on events.
func NewSession(id uuid.UUID, provider Provider, events chan<- Event, cfg Config, logger *slog.Logger, opts ...Option) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaults.CallTimeout
	}

	s := &Session{
		id:       id,
		provider: provider,
		cfg:      cfg,
		logger:   logger.With("session_id", id.String()),
		events:   events,
		now:      time.Now,
		subs:     make(map[int][]model.Variant),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session id.
func (s *Session) ID() uuid.UUID { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscriptions returns the recorded topic ids in ascending order.
func (s *Session) Subscriptions() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// SkewOffset returns the current consumer clock offset.
func (s *Session) SkewOffset() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skew.Offset()
}

// Connect starts the provider connection. It is a no-op while connected.
func (s *Session) Connect(ctx context.Context) error {
	return s.connect(ctx, false)
}

// MarkReconnectPending moves a session that lost its heartbeat into
// ReconnectPending. It reports false from any other state.
func (s *Session) MarkReconnectPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state != StateHeartbeatLost {
		return false
	}
	s.state = StateReconnectPending
	return true
}

// Reconnect attempts a connection from ReconnectPending. On failure the
// session returns to ReconnectPending so the attempt can be re-armed.
func (s *Session) Reconnect(ctx context.Context) error {
	return s.connect(ctx, true)
}

func (s *Session) connect(ctx context.Context, reconnect bool) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrSessionClosed
	case reconnect && s.state != StateReconnectPending:
		s.mu.Unlock()
		return ErrNotPending
	case s.state == StateConnected:
		s.mu.Unlock()
		return nil
	case s.state == StateConnecting:
		s.mu.Unlock()
		return ErrConnectInProgress
	}
	s.state = StateConnecting
	s.gen++
	gen := s.gen
	updates := make(chan struct{}, 1)
	s.mu.Unlock()

	s.logger.Debug("connecting to feed provider", "reconnect", reconnect)

	startCtx, cancel := s.callContext(ctx)
	conn, err := s.provider.Start(startCtx, notifier(updates))
	cancel()

	s.mu.Lock()
	if s.closed || s.gen != gen {
		closed := s.closed
		s.mu.Unlock()
		if conn != nil {
			s.terminate(conn)
		}
		if closed {
			return ErrSessionClosed
		}
		return fmt.Errorf("%w: superseded by disconnect", ErrConnectFailed)
	}
	if err != nil {
		if reconnect {
			s.state = StateReconnectPending
		} else {
			s.state = StateDisconnected
		}
		s.mu.Unlock()
		s.logger.Warn("feed connect failed", "reconnect", reconnect, "error", err)
		s.emit(Event{Kind: EventConnectFailed, Err: err, Reconnect: reconnect})
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	stop := make(chan struct{})
	s.conn = conn
	s.stop = stop
	s.state = StateConnected
	replay := make(map[int][]model.Variant, len(s.subs))
	for id, params := range s.subs {
		replay[id] = params
	}
	s.mu.Unlock()

	go s.heartbeatLoop(gen, conn, stop)
	go s.refreshLoop(gen, conn, updates, stop)

	s.logger.Info("feed connected", "reconnect", reconnect, "replay", len(replay))
	s.emit(Event{Kind: EventConnected, Reconnect: reconnect})
	if len(replay) > 0 {
		go s.replay(gen, conn, replay)
	}
	return nil
}

// replay re-subscribes recorded topics on a fresh provider connection. It
// stops once the connection's generation is retired.
func (s *Session) replay(gen uint64, conn Conn, subs map[int][]model.Variant) {
	for topicID, params := range subs {
		if !s.current(gen) {
			return
		}
		callCtx, cancel := s.callContext(context.Background())
		err := conn.Subscribe(callCtx, topicID, params)
		cancel()
		if err != nil {
			s.logger.Warn("failed to replay subscription", "topic_id", topicID, "error", err)
		}
	}
}

// Disconnect stops heartbeat monitoring, terminates the provider connection
// and clears subscriptions. It is a no-op when already disconnected.
func (s *Session) Disconnect(ctx context.Context) {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return
	}
	s.gen++
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	conn := s.conn
	s.conn = nil
	s.state = StateDisconnected
	clear(s.subs)
	s.mu.Unlock()

	if conn != nil {
		s.terminate(conn)
	}
	s.logger.Info("feed disconnected")
	s.emit(Event{Kind: EventDisconnected})
}

// Close tears the session down for good. Later calls fail with ErrSessionClosed.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.Disconnect(ctx)
}

// Subscribe forwards a topic subscription and records it. Any time probe in
// params is rewritten to the bridge clock; the skew it measures is kept only
// once the provider accepts the subscription.
func (s *Session) Subscribe(ctx context.Context, topicID int, params []model.Variant) error {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	conn, gen := s.conn, s.gen
	forwarded := slices.Clone(params)
	idx, consumer, probed := FindProbe(forwarded)
	var bridge time.Time
	if probed {
		bridge = s.now()
		forwarded[idx] = ProbeParam(bridge)
	}
	s.mu.Unlock()

	callCtx, cancel := s.callContext(ctx)
	err := conn.Subscribe(callCtx, topicID, forwarded)
	cancel()
	if err != nil {
		return fmt.Errorf("subscribe topic %d: %w", topicID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return ErrNotConnected
	}
	s.subs[topicID] = forwarded
	if probed {
		s.skew.Observe(consumer, bridge)
		s.logger.Debug("clock skew updated", "offset", s.skew.Offset())
	}
	return nil
}

// Unsubscribe drops a topic. Unknown topics are ignored.
func (s *Session) Unsubscribe(ctx context.Context, topicID int) error {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	if _, ok := s.subs[topicID]; !ok {
		s.mu.Unlock()
		return nil
	}
	conn, gen := s.conn, s.gen
	s.mu.Unlock()

	callCtx, cancel := s.callContext(ctx)
	err := conn.Unsubscribe(callCtx, topicID)
	cancel()
	if err != nil {
		return fmt.Errorf("unsubscribe topic %d: %w", topicID, err)
	}

	s.mu.Lock()
	if s.gen == gen {
		delete(s.subs, topicID)
	}
	s.mu.Unlock()
	return nil
}

// heartbeatLoop checks provider liveness on every tick.
func (s *Session) heartbeatLoop(gen uint64, conn Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CallTimeout)
			alive, err := conn.Heartbeat(ctx)
			cancel()
			if err == nil && alive {
				continue
			}
			s.heartbeatLost(gen, err)
			return
		}
	}
}

// heartbeatLost transitions Connected to HeartbeatLost once per generation.
func (s *Session) heartbeatLost(gen uint64, cause error) {
	s.mu.Lock()
	if s.closed || s.gen != gen || s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	s.gen++
	close(s.stop)
	s.stop = nil
	conn := s.conn
	s.conn = nil
	s.state = StateHeartbeatLost
	s.mu.Unlock()

	s.terminate(conn)
	s.logger.Warn("feed heartbeat lost", "error", cause)
	s.emit(Event{Kind: EventHeartbeatLost, Err: cause})
}

// refreshLoop pulls updates whenever the provider signals. Signals that
// arrive while a refresh is pending collapse into one.
func (s *Session) refreshLoop(gen uint64, conn Conn, updates <-chan struct{}, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-updates:
			s.refresh(gen, conn)
		}
	}
}

func (s *Session) refresh(gen uint64, conn Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CallTimeout)
	count, updates, err := conn.Refresh(ctx)
	cancel()
	if err != nil {
		s.logger.Warn("feed refresh failed", "error", err)
		return
	}

	received := s.now()
	rows := make([]model.Row, len(updates))
	for i, u := range updates {
		ts := received
		rows[i] = model.Row{TopicID: u.TopicID, Value: u.Value, Timestamp: &ts}
	}
	report := model.DataReport{Count: count, Rows: rows}
	if report.Normalize() {
		s.logger.Warn("provider count disagrees with rows", "count", count, "rows", len(rows))
	}
	if len(report.Rows) == 0 {
		return
	}

	s.mu.Lock()
	if s.closed || s.gen != gen {
		s.mu.Unlock()
		return
	}
	skew := s.skew
	s.mu.Unlock()

	s.emit(Event{Kind: EventData, Report: skew.Apply(report)})
}

func (s *Session) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.gen == gen
}

func (s *Session) emit(ev Event) {
	ev.SessionID = s.id
	ev.At = s.now()
	select {
	case s.events <- ev:
	case <-s.quit:
	}
}

func (s *Session) terminate(conn Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CallTimeout)
	defer cancel()
	if err := conn.Terminate(ctx); err != nil {
		s.logger.Debug("terminate provider connection", "error", err)
	}
}

func (s *Session) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.cfg.CallTimeout)
}

func notifier(updates chan<- struct{}) UpdateNotifier {
	return func() {
		select {
		case updates <- struct{}{}:
		default:
		}
	}
}
