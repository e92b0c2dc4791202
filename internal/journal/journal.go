// Package journal records session lifecycle events to PostgreSQL for
// operational audit. Data reports are never journaled.
package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/rtdbridge/internal/feed"
)

// Journal batches session events and writes them to a Store.
type Journal struct {
	cfg    Config
	logger *slog.Logger
	store  Store

	input *queue[Entry]

	batch   []Entry
	batchMu sync.Mutex
	stats   Stats

	ctx      context.Context
	cancel   context.CancelFunc
	consumed chan struct{}
	wg       sync.WaitGroup
}

// New creates a Journal. Call Start before events are expected to flush.
func New(cfg Config, store Store, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	initial := cfg.BatchSize
	if cfg.BufferSize < initial {
		cfg.BufferSize = initial
	}
	return &Journal{
		cfg:      cfg,
		logger:   logger.With("component", "journal"),
		store:    store,
		input:    newQueue[Entry](initial, cfg.BufferSize),
		batch:    make([]Entry, 0, cfg.BatchSize),
		consumed: make(chan struct{}),
	}
}

// SessionEvent queues a lifecycle event. It never blocks; events are
// dropped when the buffer is full.
func (j *Journal) SessionEvent(ev feed.Event, connID string) {
	if ev.Kind == feed.EventData {
		return
	}
	e := Entry{
		Instance:  j.cfg.Instance,
		SessionID: ev.SessionID,
		ConnID:    connID,
		Kind:      ev.Kind.String(),
		Reconnect: ev.Reconnect,
		At:        ev.At,
	}
	if ev.Err != nil {
		e.Error = ev.Err.Error()
	}
	if !j.input.push(e) {
		j.logger.Warn("journal buffer full, event dropped", "session_id", ev.SessionID.String(), "kind", e.Kind)
	}
}

// Start begins consuming events and flushing batches. Writes ignore ctx's
// cancellation and run until Stop, so the drain on shutdown still lands.
func (j *Journal) Start(ctx context.Context) error {
	j.ctx, j.cancel = context.WithCancel(context.WithoutCancel(ctx))

	go j.consumeLoop()

	j.wg.Add(1)
	go j.flushLoop()

	j.logger.Info("journal started",
		"batch_size", j.cfg.BatchSize,
		"flush_interval", j.cfg.FlushInterval,
	)
	return nil
}

// Stop drains queued events, writes the final batch and stops.
func (j *Journal) Stop(ctx context.Context) error {
	j.logger.Info("stopping journal")
	j.input.close()
	if j.cancel == nil {
		return nil
	}

	select {
	case <-j.consumed:
	case <-ctx.Done():
		j.logger.Warn("journal drain timed out", "pending", j.input.len())
	}

	j.cancel()
	j.wg.Wait()

	err := j.flush(ctx)
	j.logger.Info("journal stopped")
	return err
}

// Stats returns current counters.
func (j *Journal) Stats() Stats {
	j.batchMu.Lock()
	s := j.stats
	s.Pending = len(j.batch)
	j.batchMu.Unlock()

	s.Pending += j.input.len()
	s.Dropped = j.input.droppedCount()
	return s
}

func (j *Journal) consumeLoop() {
	defer close(j.consumed)

	for {
		e, ok := j.input.pop()
		if !ok {
			return
		}

		j.batchMu.Lock()
		j.batch = append(j.batch, e)
		full := len(j.batch) >= j.cfg.BatchSize
		j.batchMu.Unlock()

		if full {
			_ = j.flush(j.ctx)
		}
	}
}

func (j *Journal) flushLoop() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-j.ctx.Done():
			return
		case <-ticker.C:
			_ = j.flush(j.ctx)
		}
	}
}

// flush writes the current batch. A failed batch is logged and discarded.
func (j *Journal) flush(ctx context.Context) error {
	j.batchMu.Lock()
	if len(j.batch) == 0 {
		j.batchMu.Unlock()
		return nil
	}
	batch := j.batch
	j.batch = make([]Entry, 0, j.cfg.BatchSize)
	j.batchMu.Unlock()

	start := time.Now()
	if err := j.store.Insert(ctx, batch); err != nil {
		j.logger.Error("journal insert failed", "error", err, "count", len(batch))
		j.batchMu.Lock()
		j.stats.Errors++
		j.batchMu.Unlock()
		return err
	}

	j.batchMu.Lock()
	j.stats.Inserted += int64(len(batch))
	j.stats.Flushes++
	j.batchMu.Unlock()

	j.logger.Debug("flushed session events", "count", len(batch), "duration", time.Since(start))
	return nil
}
