package metrics

import "time"

// Command outcome labels.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Transfer direction labels, seen from the server.
const (
	DirectionRead  = "read"
	DirectionWrite = "write"
)

// RemoteIOMetrics receives server events. It is a superset of
// adapter.MetricsRecorder so one value serves both the accept loop and the
// command dispatcher.
type RemoteIOMetrics interface {
	RecordConnectionAccepted()
	RecordConnectionClosed()
	RecordConnectionForceClosed()
	SetActiveConnections(count int32)
	SetPendingConnections(count int32)

	// RecordAuthAttempt counts a completed credential check.
	RecordAuthAttempt(success bool)

	// RecordCommand records one served command. status is StatusOK or
	// StatusError.
	RecordCommand(command, status string, duration time.Duration)

	// RecordBytesTransferred counts file payload bytes.
	RecordBytesTransferred(direction string, bytes int)
}

type noopRemoteIOMetrics struct{}

// NewNoopRemoteIOMetrics returns a RemoteIOMetrics that discards everything.
func NewNoopRemoteIOMetrics() RemoteIOMetrics {
	return noopRemoteIOMetrics{}
}

func (noopRemoteIOMetrics) RecordConnectionAccepted() {}
func (noopRemoteIOMetrics) RecordConnectionClosed() {}
func (noopRemoteIOMetrics) RecordConnectionForceClosed() {}
func (noopRemoteIOMetrics) SetActiveConnections(int32) {}
func (noopRemoteIOMetrics) SetPendingConnections(int32) {}
func (noopRemoteIOMetrics) RecordAuthAttempt(bool) {}
func (noopRemoteIOMetrics) RecordCommand(string, string, time.Duration) {}
func (noopRemoteIOMetrics) RecordBytesTransferred(string, int) {}
