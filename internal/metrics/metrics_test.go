package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/rtdbridge/internal/feed"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.InboundFrame("Subscribe")
	m.UnknownMessage()
	m.RoutingMiss()
	m.ReportSent(3)
	m.ErrorSent("NotConnected")
	m.ReconnectAttempt("failure")
	m.ReconnectAttempt("success")
	m.SessionEvent(feed.Event{Kind: feed.EventHeartbeatLost}, "c1")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionsOpen))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.connectionsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inboundFrames.WithLabelValues("Subscribe")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.unknownMessages))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.routingMisses))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reportsSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errorsSent.WithLabelValues("NotConnected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconnectAttempts.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionEvents.WithLabelValues("heartbeat_lost")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ConnectionOpened()
		m.ReportSent(1)
		m.SessionEvent(feed.Event{Kind: feed.EventData}, "")
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New(nil)
	m.RoutingMiss()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "rtdbridge_registry_routing_misses_total 1")
}
