// Package port abstracts the byte transports telemetry links run on.
// A link owns at most two ports and re-evaluates per transmission
// which one is active, so implementations report availability rather
// than fail hard when their peer is gone.
package port

import (
	"errors"
	"time"
)

// ErrClosed indicates the port was closed.
var ErrClosed = errors.New("port: closed")

// Port is a bidirectional byte transport.
type Port interface {
	// Send writes the whole buffer, blocking until accepted.
	Send(p []byte) (int, error)
	// Receive reads up to len(p) bytes, waiting at most timeout for
	// data. It returns 0 with a nil error when the timeout elapses.
	Receive(p []byte, timeout time.Duration) (int, error)
	Close() error
}

// BaudChanger is implemented by ports with a configurable line rate.
type BaudChanger interface {
	ChangeBaud(baud uint32) error
}

// AvailabilityReporter is implemented by ports that can lose and
// regain their peer, like a pluggable device or an accepted socket.
type AvailabilityReporter interface {
	Available() bool
}

// Available reports whether p is usable right now. Ports that cannot
// tell are assumed usable.
func Available(p Port) bool {
	if p == nil {
		return false
	}
	if a, ok := p.(AvailabilityReporter); ok {
		return a.Available()
	}
	return true
}

// ChangeBaud applies baud to p when supported and is a no-op
// otherwise.
func ChangeBaud(p Port, baud uint32) error {
	if c, ok := p.(BaudChanger); ok {
		return c.ChangeBaud(baud)
	}
	return nil
}
