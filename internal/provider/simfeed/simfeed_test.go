package simfeed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/rtdbridge/internal/model"
)

func TestSimulatedFeed(t *testing.T) {
	p := New(Config{Interval: 5 * time.Millisecond, Step: 1}, nil)
	notified := make(chan struct{}, 1)
	c, err := p.Start(context.Background(), func() {
		select {
		case notified <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.Subscribe(ctx, 1, []model.Variant{model.Number(50)}))
	require.NoError(t, c.Subscribe(ctx, 2, []model.Variant{model.String("X")}))

	select {
	case <-notified:
	case <-time.After(time.Second):
		t.Fatal("no tick")
	}

	count, updates, err := c.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, count, len(updates))
	require.NotEmpty(t, updates)
	for _, u := range updates {
		assert.Equal(t, model.KindNumber, u.Value.Kind)
		if u.TopicID == 2 {
			assert.InDelta(t, DefaultConfig().Start, u.Value.Num, 50, "non-numeric params use the default start")
		}
	}

	require.NoError(t, c.Unsubscribe(ctx, 1))
	require.NoError(t, c.Unsubscribe(ctx, 2))
	time.Sleep(20 * time.Millisecond)
	_, updates, err = c.Refresh(ctx)
	require.NoError(t, err)
	assert.Empty(t, updates, "nothing ticks without subscriptions")

	alive, err := c.Heartbeat(ctx)
	require.NoError(t, err)
	assert.True(t, alive)

	require.NoError(t, c.Terminate(ctx))
	alive, _ = c.Heartbeat(ctx)
	assert.False(t, alive)
	assert.ErrorIs(t, c.Subscribe(ctx, 3, nil), ErrTerminated)
}
