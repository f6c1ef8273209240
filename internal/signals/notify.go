// Package signals maps OS shutdown signals onto contexts.
package signals

import (
	"context"
	"os/signal"
)

// NotifyContext returns a copy of parent that is canceled on the first
// shutdown signal or when stop is called.
func NotifyContext(parent context.Context) (ctx context.Context, stop context.CancelFunc) {
	return signal.NotifyContext(parent, ShutdownSignals()...)
}
