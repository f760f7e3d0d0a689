package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/remoteio/pkg/metrics"
)

func TestRemoteIOMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRemoteIOMetricsWith(reg).(*remoteIOMetrics)

	m.RecordConnectionAccepted()
	m.RecordConnectionAccepted()
	m.RecordConnectionClosed()
	m.RecordConnectionForceClosed()
	m.SetActiveConnections(3)
	m.SetPendingConnections(2)
	m.RecordAuthAttempt(true)
	m.RecordAuthAttempt(false)
	m.RecordAuthAttempt(false)
	m.RecordCommand("READ_FILE", metrics.StatusOK, 3*time.Millisecond)
	m.RecordCommand("READ_FILE", metrics.StatusError, time.Millisecond)
	m.RecordBytesTransferred(metrics.DirectionRead, 100)
	m.RecordBytesTransferred(metrics.DirectionWrite, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.connectionsAccepted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionsClosed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionsForceClosed))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.activeConnections))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.pendingConnections))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.authAttempts.WithLabelValues("accepted")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.authAttempts.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commandsTotal.WithLabelValues("READ_FILE", metrics.StatusOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commandsTotal.WithLabelValues("READ_FILE", metrics.StatusError)))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.bytesTransferred.WithLabelValues(metrics.DirectionRead)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.commandDuration))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "remoteio_command_duration_milliseconds")
}

func TestNewRemoteIOMetricsDisabled(t *testing.T) {
	if metrics.IsEnabled() {
		t.Skip("registry already initialized")
	}
	m := NewRemoteIOMetrics()
	assert.Equal(t, metrics.NewNoopRemoteIOMetrics(), m)
}
