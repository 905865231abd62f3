package port

import (
	"sync"
	"time"
)

const pipeDepth = 64

// Pipe creates two connected in-memory ports. Writes on one end are
// readable on the other. Closing either end closes both.
func Pipe() (Port, Port) {
	ab := make(chan []byte, pipeDepth)
	ba := make(chan []byte, pipeDepth)
	closed := make(chan struct{})
	once := new(sync.Once)
	a := &pipeEnd{out: ab, in: ba, closed: closed, once: once}
	b := &pipeEnd{out: ba, in: ab, closed: closed, once: once}
	return a, b
}

type pipeEnd struct {
	out    chan<- []byte
	in     <-chan []byte
	closed chan struct{}
	once   *sync.Once

	mu      sync.Mutex
	pending []byte
}

// Send implements Port.
func (e *pipeEnd) Send(p []byte) (int, error) {
	buf := make([]byte, len(p))
	copy(buf, p)
	select {
	case e.out <- buf:
		return len(p), nil
	case <-e.closed:
		return 0, ErrClosed
	}
}

// Receive implements Port.
func (e *pipeEnd) Receive(p []byte, timeout time.Duration) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.pending) == 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		select {
		case buf := <-e.in:
			e.pending = buf
		case <-t.C:
			return 0, nil
		case <-e.closed:
			return 0, ErrClosed
		}
	}
	n := copy(p, e.pending)
	e.pending = e.pending[n:]
	return n, nil
}

// Close implements Port.
func (e *pipeEnd) Close() error {
	e.once.Do(func() { close(e.closed) })
	return nil
}
