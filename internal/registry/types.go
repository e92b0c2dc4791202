package registry

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/rtdbridge/internal/feed"
)

// Errors
var (
	ErrUnknownConnection   = errors.New("unknown connection")
	ErrDuplicateConnection = errors.New("connection already registered")
	ErrShuttingDown        = errors.New("registry shutting down")
)

// Transport sends frames to consumer connections.
type Transport interface {
	SendBinary(connID string, data []byte) error
	SendText(connID string, text string) error
	Close(connID string) error
}

// Scheduler arms delayed reconnect attempts.
type Scheduler interface {
	Schedule(id uuid.UUID, attempt func(ctx context.Context) bool) bool
	Cancel(id uuid.UUID)
	Stop()
}

// Observer is told about every session event. connID is empty when the
// session no longer has a connection.
type Observer interface {
	SessionEvent(ev feed.Event, connID string)
}

// Recorder receives registry counters. See metrics.Metrics.
type Recorder interface {
	ConnectionOpened()
	ConnectionClosed()
	InboundFrame(kind string)
	UnknownMessage()
	RoutingMiss()
	ReportSent(rows int)
	ErrorSent(code string)
	ReconnectAttempt(result string)
}

// Config configures the registry.
type Config struct {
	Session      feed.Config
	EventBuffer  int // Capacity of the shared session event channel
	CloseWorkers int // Concurrent session closes during shutdown
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Session:      feed.DefaultConfig(),
		EventBuffer:  1024,
		CloseWorkers: 16,
	}
}

// Stats contains runtime statistics.
type Stats struct {
	OpenConnections int            `json:"open_connections"`
	LiveSessions    int            `json:"live_sessions"`
	TotalOpened     int64          `json:"total_opened"`
	TotalClosed     int64          `json:"total_closed"`
	UnknownMessages int64          `json:"unknown_messages"`
	RoutingMisses   int64          `json:"routing_misses"`
	ByState         map[string]int `json:"by_state"`
}

// SessionInfo describes one live session.
type SessionInfo struct {
	SessionID     string        `json:"session_id"`
	ConnID        string        `json:"conn_id"`
	State         string        `json:"state"`
	Subscriptions []int         `json:"subscriptions"`
	SkewOffset    time.Duration `json:"skew_offset_ns"`
}

type nopRecorder struct{}

func (nopRecorder) ConnectionOpened()       {}
func (nopRecorder) ConnectionClosed()       {}
func (nopRecorder) InboundFrame(string)     {}
func (nopRecorder) UnknownMessage()         {}
func (nopRecorder) RoutingMiss()            {}
func (nopRecorder) ReportSent(int)          {}
func (nopRecorder) ErrorSent(string)        {}
func (nopRecorder) ReconnectAttempt(string) {}
