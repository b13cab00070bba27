package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NoError(t, m.Register())
	require.NoError(t, m.Register())

	// A second collector set on the same registry reuses the first.
	require.NoError(t, New(reg).Register())
}

func TestConnectionLifecycle(t *testing.T) {
	m := New(prometheus.NewRegistry())
	require.NoError(t, m.Register())

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed(ReasonPeerClosed)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionsCurrent))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.acceptedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.disconnectsTotal.WithLabelValues(ReasonPeerClosed)))
}

func TestBroadcastCountsBytesPerRecipient(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Broadcast("light_update", 10, 3)
	m.Broadcast("light", 4, 0)

	assert.Equal(t, 30.0, testutil.ToFloat64(m.bytesQueuedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.broadcastsTotal.WithLabelValues("light")))
}

func TestFeedAndFrames(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.FeedReceived(2, 5)
	m.FrameDecoded("build")
	m.FrameCorrupt()
	m.Command("LIST_LIGHTS", "ok")
	m.SetOutboundBytes(42)
	m.MirrorDropped()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.feedBuffersTotal))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.feedLightsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesDecoded.WithLabelValues("build")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesCorrupt))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commandsTotal.WithLabelValues("LIST_LIGHTS", "ok")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.outboundBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mirrorDropped))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		require.NoError(t, m.Register())
		m.ConnectionOpened()
		m.ConnectionClosed(ReasonShutdown)
		m.FrameDecoded("light")
		m.FrameCorrupt()
		m.Command("BUILD_LIGHT", "ok")
		m.Broadcast("light", 1, 1)
		m.SetOutboundBytes(1)
		m.FeedReceived(1, 1)
		m.MirrorDropped()
	})
}
