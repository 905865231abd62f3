// Package talk defines the telemetry protocol session consumed by the
// dispatch core. The flight wire protocol itself is owned by session
// implementations; linetalk provides a line-framed reference dialect.
package talk

import (
	"errors"
	"time"

	"github.com/uavtalks/telem.go/pkg/uavobj"
)

var (
	// ErrTimeout indicates no acknowledge or reply arrived in time.
	ErrTimeout = errors.New("talk: reply timeout")
	// ErrClosed indicates the session is no longer usable.
	ErrClosed = errors.New("talk: session closed")
)

// Stats counts session activity since the last collection.
type Stats struct {
	TxBytes      uint32
	RxBytes      uint32
	RxErrors     uint32
	RxSyncErrors uint32
	RxCrcErrors  uint32
	RxObjects    uint32
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.TxBytes += o.TxBytes
	s.RxBytes += o.RxBytes
	s.RxErrors += o.RxErrors
	s.RxSyncErrors += o.RxSyncErrors
	s.RxCrcErrors += o.RxCrcErrors
	s.RxObjects += o.RxObjects
}

// TransmitFunc sends raw protocol bytes toward the peer and returns
// the byte count written.
type TransmitFunc func(p []byte) (int, error)

// Session is one end of a telemetry conversation. Implementations are
// bound to a TransmitFunc at creation and must be safe for use from
// the transmit and receive tasks concurrently.
type Session interface {
	// SendObject transmits the instance value. With acked set it
	// blocks until the peer acknowledges or timeout elapses.
	SendObject(obj uavobj.Object, inst uavobj.InstID, acked bool, timeout time.Duration) error
	// RequestObject asks the peer for its value of the instance and
	// blocks until it is served or timeout elapses.
	RequestObject(obj uavobj.Object, inst uavobj.InstID, timeout time.Duration) error
	// ProcessByte feeds one inbound byte into frame reconstruction.
	ProcessByte(b byte) error
	// Stats returns the counters accumulated since the last clearing
	// call, clearing them again when clear is set.
	Stats(clear bool) Stats
}
