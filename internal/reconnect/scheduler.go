// Package reconnect schedules delayed reconnect attempts, at most one pending
// attempt per session.
package reconnect

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
)

// Attempt runs one reconnect attempt and reports whether to try again.
type Attempt = func(ctx context.Context) (retry bool)

// Scheduler arms timers for reconnect attempts without blocking callers.
type Scheduler struct {
	newPolicy func() backoff.BackOff
	maxDelay  time.Duration
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[uuid.UUID]*entry // armed timers
	running map[uuid.UUID]*entry // attempts in progress
	stopped bool
}

type entry struct {
	policy    backoff.BackOff
	attempt   Attempt
	timer     *time.Timer
	tries     int
	cancelled bool
}

// NewScheduler creates a scheduler using cfg for delays.
func NewScheduler(cfg Config, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	newPolicy, err := NewPolicy(cfg)
	if err != nil {
		return nil, err
	}
	maxDelay := cfg.MaxDelay
	if maxDelay < cfg.Delay {
		maxDelay = cfg.Delay
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		newPolicy: newPolicy,
		maxDelay:  maxDelay,
		logger:    logger.With("component", "reconnect"),
		ctx:       ctx,
		cancel:    cancel,
		pending:   make(map[uuid.UUID]*entry),
		running:   make(map[uuid.UUID]*entry),
	}, nil
}

// Schedule arms a delayed attempt for id. It returns false if one is already
// armed for id or the scheduler is stopped. An attempt that is still running
// does not block a new one; it is simply not re-armed afterwards.
func (s *Scheduler) Schedule(id uuid.UUID, attempt Attempt) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}
	if _, ok := s.pending[id]; ok {
		return false
	}
	if running, ok := s.running[id]; ok {
		running.cancelled = true
		delete(s.running, id)
	}

	e := &entry{policy: s.newPolicy(), attempt: attempt}
	s.pending[id] = e
	s.arm(id, e)
	return true
}

// arm starts the timer for the entry's next attempt. Caller holds s.mu.
func (s *Scheduler) arm(id uuid.UUID, e *entry) {
	delay := e.policy.NextBackOff()
	if delay == backoff.Stop {
		delay = s.maxDelay
	}
	s.logger.Debug("reconnect scheduled", "session_id", id.String(), "delay", delay, "attempt", e.tries+1)
	e.timer = time.AfterFunc(delay, func() { s.fire(id, e) })
}

func (s *Scheduler) fire(id uuid.UUID, e *entry) {
	s.mu.Lock()
	if s.stopped || s.pending[id] != e {
		s.mu.Unlock()
		return
	}
	delete(s.pending, id)
	s.running[id] = e
	e.tries++
	s.mu.Unlock()

	retry := e.attempt(s.ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[id] == e {
		delete(s.running, id)
	}
	if !retry || s.stopped || e.cancelled {
		return
	}
	if _, ok := s.pending[id]; ok {
		return
	}
	s.pending[id] = e
	s.arm(id, e)
}

// Cancel drops any pending attempt for id. An attempt already running
// completes but is not re-armed.
func (s *Scheduler) Cancel(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.pending[id]; ok {
		e.timer.Stop()
		delete(s.pending, id)
	}
	if e, ok := s.running[id]; ok {
		e.cancelled = true
		delete(s.running, id)
	}
}

// Pending reports whether id has an attempt armed or running.
func (s *Scheduler) Pending(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, armed := s.pending[id]
	_, running := s.running[id]
	return armed || running
}

// Len returns the number of sessions with a pending attempt.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop cancels every pending attempt and refuses new ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	s.cancel()
	for id, e := range s.pending {
		e.timer.Stop()
		delete(s.pending, id)
	}
	for id, e := range s.running {
		e.cancelled = true
		delete(s.running, id)
	}
}
