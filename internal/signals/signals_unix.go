//go:build unix

package signals

import (
	"os"
	"syscall"
)

// ShutdownSignals lists the signals that stop the server: Ctrl-C and the
// SIGTERM sent by container runtimes and service managers.
func ShutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}
