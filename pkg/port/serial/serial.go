// Package serial adapts a serial device to port.Port.
package serial

import (
	"io"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/jacobsa/go-serial/serial"

	"github.com/uavtalks/telem.go/pkg/port"
)

// readSlice is the tty poll granularity. With a zero minimum read
// size the device read returns empty after this long, letting Receive
// honor its own timeout.
const readSlice = 100 * time.Millisecond

// Port is a serial device port. ChangeBaud reopens the device at the
// new rate.
type Port struct {
	mu   sync.Mutex
	opts serial.OpenOptions
	conn io.ReadWriteCloser
}

// Open opens a serial device in 8N1 framing at the given rate.
func Open(device string, baud uint) (*Port, error) {
	opts := serial.OpenOptions{
		PortName:              device,
		BaudRate:              baud,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       0,
		InterCharacterTimeout: uint(readSlice / time.Millisecond),
	}
	conn, err := serial.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Port{opts: opts, conn: conn}, nil
}

// Send implements port.Port.
func (p *Port) Send(buf []byte) (int, error) {
	conn := p.current()
	if conn == nil {
		return 0, port.ErrClosed
	}
	return conn.Write(buf)
}

// Receive implements port.Port. The device is polled in readSlice
// intervals until data arrives or timeout elapses.
func (p *Port) Receive(buf []byte, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	for {
		conn := p.current()
		if conn == nil {
			return 0, port.ErrClosed
		}
		n, err := conn.Read(buf)
		if n > 0 {
			return n, nil
		}
		// an empty read is the poll interval elapsing
		if err != nil && err != io.EOF {
			return 0, err
		}
		if !time.Now().Before(deadline) {
			return 0, nil
		}
	}
}

// ChangeBaud implements port.BaudChanger by reopening the device.
func (p *Port) ChangeBaud(baud uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	p.opts.BaudRate = uint(baud)
	conn, err := serial.Open(p.opts)
	if err != nil {
		glog.Errorf("serial: reopen %s at %d: %v", p.opts.PortName, baud, err)
		return err
	}
	glog.V(2).Infof("serial: %s now at %d baud", p.opts.PortName, baud)
	p.conn = conn
	return nil
}

// Close implements port.Port.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}

func (p *Port) current() io.ReadWriteCloser {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn
}
