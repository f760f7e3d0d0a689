// Package prometheus implements the metrics interfaces with client_golang
// collectors registered on the process registry.
package prometheus

import (
	"time"

	"github.com/marmos91/remoteio/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type remoteIOMetrics struct {
	connectionsAccepted    prometheus.Counter
	connectionsClosed      prometheus.Counter
	connectionsForceClosed prometheus.Counter
	activeConnections      prometheus.Gauge
	pendingConnections     prometheus.Gauge
	authAttempts           *prometheus.CounterVec
	commandsTotal          *prometheus.CounterVec
	commandDuration        *prometheus.HistogramVec
	bytesTransferred       *prometheus.CounterVec
}

// NewRemoteIOMetrics returns collectors on the process registry, or a no-op
// implementation when metrics are disabled.
func NewRemoteIOMetrics() metrics.RemoteIOMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopRemoteIOMetrics()
	}
	return NewRemoteIOMetricsWith(metrics.GetRegistry())
}

// NewRemoteIOMetricsWith registers the collectors on reg.
func NewRemoteIOMetricsWith(reg prometheus.Registerer) metrics.RemoteIOMetrics {
	f := promauto.With(reg)

	return &remoteIOMetrics{
		connectionsAccepted: f.NewCounter(prometheus.CounterOpts{
			Name: "remoteio_connections_accepted_total",
			Help: "Total number of accepted TCP connections",
		}),
		connectionsClosed: f.NewCounter(prometheus.CounterOpts{
			Name: "remoteio_connections_closed_total",
			Help: "Total number of closed connections",
		}),
		connectionsForceClosed: f.NewCounter(prometheus.CounterOpts{
			Name: "remoteio_connections_force_closed_total",
			Help: "Connections closed forcibly after the shutdown timeout",
		}),
		activeConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "remoteio_active_connections",
			Help: "Connections currently served by a worker",
		}),
		pendingConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "remoteio_pending_connections",
			Help: "Accepted connections waiting for a free worker",
		}),
		authAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "remoteio_auth_attempts_total",
			Help: "Credential checks by result",
		}, []string{"result"}),
		commandsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "remoteio_commands_total",
			Help: "Commands served by command and status",
		}, []string{"command", "status"}),
		commandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name: "remoteio_command_duration_milliseconds",
			Help: "Duration of commands in milliseconds",
			Buckets: []float64{
				0.5,   // existence checks
				1,     // stat
				5,     // small reads and writes
				25,    // 25ms
				100,   // large files
				500,   // 500ms
				2500,  // deep listings
				10000, // 10s
			},
		}, []string{"command"}),
		bytesTransferred: f.NewCounterVec(prometheus.CounterOpts{
			Name: "remoteio_bytes_transferred_total",
			Help: "File payload bytes by direction (read: server to client)",
		}, []string{"direction"}),
	}
}

func (m *remoteIOMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *remoteIOMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}

func (m *remoteIOMetrics) RecordConnectionForceClosed() {
	m.connectionsForceClosed.Inc()
}

func (m *remoteIOMetrics) SetActiveConnections(count int32) {
	m.activeConnections.Set(float64(count))
}

func (m *remoteIOMetrics) SetPendingConnections(count int32) {
	m.pendingConnections.Set(float64(count))
}

func (m *remoteIOMetrics) RecordAuthAttempt(success bool) {
	result := "rejected"
	if success {
		result = "accepted"
	}
	m.authAttempts.WithLabelValues(result).Inc()
}

func (m *remoteIOMetrics) RecordCommand(command, status string, duration time.Duration) {
	m.commandsTotal.WithLabelValues(command, status).Inc()
	m.commandDuration.WithLabelValues(command).Observe(float64(duration.Microseconds()) / 1000.0)
}

func (m *remoteIOMetrics) RecordBytesTransferred(direction string, bytes int) {
	if bytes <= 0 {
		return
	}
	m.bytesTransferred.WithLabelValues(direction).Add(float64(bytes))
}
