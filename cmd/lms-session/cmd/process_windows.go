//go:build windows

package cmd

import "os"

// gracefulSignals returns the OS signals to capture for graceful shutdown.
// SIGTERM does not exist on Windows; only os.Interrupt is delivered.
func gracefulSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
