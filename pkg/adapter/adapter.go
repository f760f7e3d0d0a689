// Package adapter holds the protocol-independent TCP server lifecycle shared
// by protocol adapters: listener management, bounded connection service and
// graceful shutdown.
package adapter

import "context"

// Adapter is a protocol server managed by the start command.
//
// Serve blocks until ctx is cancelled or Stop is called. When it returns
// before that, the caller treats it as fatal. Stop may be called
// concurrently with Serve and more than once.
type Adapter interface {
	Serve(ctx context.Context) error
	Stop(ctx context.Context) error

	// Protocol is the name used in logs and metrics.
	Protocol() string

	// Port is the configured TCP port; 0 when bound dynamically.
	Port() int

	// MapError converts a domain error into the protocol's error form, or
	// returns nil when err has no protocol mapping.
	MapError(err error) ProtocolError
}
