package journal

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Entry is one session lifecycle event as stored in session_events.
type Entry struct {
	Instance  string
	SessionID uuid.UUID
	ConnID    string
	Kind      string
	Reconnect bool
	Error     string
	At        time.Time
}

// Store persists batches of entries.
type Store interface {
	Insert(ctx context.Context, entries []Entry) error
}

// Config controls batching.
type Config struct {
	Instance      string
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// Stats tracks journal activity.
type Stats struct {
	Inserted int64
	Dropped  int64
	Flushes  int64
	Errors   int64
	Pending  int
}
