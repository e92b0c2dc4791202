package feed

import (
	"context"

	"github.com/rickgao/rtdbridge/internal/model"
)

// UpdateNotifier is called by a provider, from any goroutine, when new values
// are ready to be pulled with Refresh. It must not block.
type UpdateNotifier func()

// Provider starts connections to the feed provider.
type Provider interface {
	// Start performs the start handshake. A rejected handshake or an
	// unavailable provider is returned as an error. The context bounds the
	// handshake only, not the lifetime of the returned Conn.
	Start(ctx context.Context, notify UpdateNotifier) (Conn, error)
}

// Conn is one live provider connection.
type Conn interface {
	// Refresh returns the values updated since the last refresh, along with
	// the count the provider claims to have returned.
	Refresh(ctx context.Context) (count int, updates []Update, err error)

	// Subscribe starts (or replaces) a topic subscription.
	Subscribe(ctx context.Context, topicID int, params []model.Variant) error

	// Unsubscribe stops a topic subscription.
	Unsubscribe(ctx context.Context, topicID int) error

	// Heartbeat reports whether the provider is still alive.
	Heartbeat(ctx context.Context) (bool, error)

	// Terminate releases the provider connection.
	Terminate(ctx context.Context) error
}

// Update is one refreshed topic value.
type Update struct {
	TopicID int
	Value   model.Variant
}
