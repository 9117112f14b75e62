// Package gateway defines the interface for long-running entry points.
package gateway

import "context"

// Gateway is a network entry point served by the process.
type Gateway interface {
	// Start serves until the context is canceled or the listener fails.
	Start(ctx context.Context) error

	// Stop shuts down gracefully. In-flight turns are drained until the
	// context deadline.
	Stop(ctx context.Context) error
}
