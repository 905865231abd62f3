package mqtt

import (
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/uavtalks/telem.go/pkg/port"
)

const portDepth = 16

// UpTopic returns a vehicle's ground-to-vehicle topic.
func UpTopic(vehicle string) string { return vehicle + "/up" }

// DownTopic returns a vehicle's vehicle-to-ground topic.
func DownTopic(vehicle string) string { return vehicle + "/down" }

// Port is a byte transport over a topic pair. Inbound payloads beyond
// the buffer are dropped; the telemetry session resynchronizes on the
// next frame boundary.
type Port struct {
	q        *Queue
	pubTopic string
	sub      *Subscription
	rx       chan []byte

	closeOnce sync.Once
	closed    chan struct{}

	mu      sync.Mutex
	pending []byte
}

// NewPort subscribes subTopic for inbound bytes and publishes
// outbound bytes to pubTopic.
func NewPort(q *Queue, subTopic, pubTopic string) *Port {
	p := &Port{
		q:        q,
		pubTopic: pubTopic,
		rx:       make(chan []byte, portDepth),
		closed:   make(chan struct{}),
	}
	p.sub = q.Sub(subTopic, p.handle)
	return p
}

// Send implements port.Port.
func (p *Port) Send(buf []byte) (int, error) {
	select {
	case <-p.closed:
		return 0, port.ErrClosed
	default:
	}
	if err := p.q.Pub(p.pubTopic, buf); err != nil {
		return 0, err
	}
	return len(buf), nil
}

// Receive implements port.Port.
func (p *Port) Receive(buf []byte, timeout time.Duration) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		select {
		case payload := <-p.rx:
			p.pending = payload
		case <-t.C:
			return 0, nil
		case <-p.closed:
			return 0, port.ErrClosed
		}
	}
	n := copy(buf, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

// Available implements port.AvailabilityReporter.
func (p *Port) Available() bool {
	select {
	case <-p.closed:
		return false
	default:
		return p.q.Connected()
	}
}

// Close implements port.Port.
func (p *Port) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closed)
		err = p.sub.Close()
	})
	return err
}

func (p *Port) handle(_ string, payload []byte) {
	buf := make([]byte, len(payload))
	copy(buf, payload)
	select {
	case p.rx <- buf:
	default:
		glog.Warningf("mqtt: port %s: inbound burst dropped", p.pubTopic)
	}
}
