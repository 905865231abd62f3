// Package ws carries telemetry bytes over a websocket, either dialed
// out or accepted from a peer that attaches at runtime.
package ws

import (
	"errors"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang/glog"
	"golang.org/x/net/websocket"
)

// ErrNotAttached indicates no peer is currently attached.
var ErrNotAttached = errors.New("ws: no peer attached")

const attachPoll = 100 * time.Millisecond

// Port is a dialed websocket byte transport.
type Port struct {
	conn *websocket.Conn

	mu      sync.Mutex
	pending []byte
}

// Dial connects to a websocket URL (ws:// or wss://).
func Dial(wsURL string) (*Port, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, err
	}
	origin := *u
	if origin.Scheme == "wss" {
		origin.Scheme = "https"
	} else {
		origin.Scheme = "http"
	}
	origin.Path = "/"
	conn, err := websocket.Dial(wsURL, "", origin.String())
	if err != nil {
		return nil, err
	}
	return &Port{conn: conn}, nil
}

// Send implements port.Port.
func (p *Port) Send(buf []byte) (int, error) {
	if err := websocket.Message.Send(p.conn, buf); err != nil {
		return 0, err
	}
	return len(buf), nil
}

// Receive implements port.Port.
func (p *Port) Receive(buf []byte, timeout time.Duration) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		n, data, err := receiveFrom(p.conn, timeout)
		if n == 0 || err != nil {
			return 0, err
		}
		p.pending = data
	}
	n := copy(buf, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

// Close implements port.Port.
func (p *Port) Close() error {
	return p.conn.Close()
}

// Acceptor is a websocket byte transport whose peer attaches by
// connecting to an HTTP endpoint. A new connection replaces the
// current one. It reports availability, so a link preferring it only
// selects it while a peer is attached.
type Acceptor struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	gone    chan struct{}
	closed  bool
	pending []byte
}

// NewAcceptor creates an Acceptor with no peer.
func NewAcceptor() *Acceptor {
	return &Acceptor{}
}

// Handler returns the HTTP handler peers connect to.
func (a *Acceptor) Handler() http.Handler {
	return websocket.Handler(a.serve)
}

// Send implements port.Port.
func (a *Acceptor) Send(buf []byte) (int, error) {
	conn := a.current()
	if conn == nil {
		return 0, ErrNotAttached
	}
	if err := websocket.Message.Send(conn, buf); err != nil {
		a.detach(conn)
		return 0, err
	}
	return len(buf), nil
}

// Receive implements port.Port. With no peer attached it idles for at
// most timeout and reports no data. Only one reader at a time is
// supported.
func (a *Acceptor) Receive(buf []byte, timeout time.Duration) (int, error) {
	conn := a.current()
	if conn == nil {
		wait := timeout
		if wait > attachPoll {
			wait = attachPoll
		}
		time.Sleep(wait)
		return 0, nil
	}
	a.mu.Lock()
	if len(a.pending) > 0 {
		n := copy(buf, a.pending)
		a.pending = a.pending[n:]
		a.mu.Unlock()
		return n, nil
	}
	a.mu.Unlock()

	n, data, err := receiveFrom(conn, timeout)
	if err != nil {
		a.detach(conn)
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != conn {
		// replaced mid-read, the leftover belongs to the old peer
		return 0, nil
	}
	nc := copy(buf, data)
	a.pending = data[nc:]
	return nc, nil
}

// Available implements port.AvailabilityReporter.
func (a *Acceptor) Available() bool {
	return a.current() != nil
}

// Close implements port.Port. Pending and future peers are rejected.
func (a *Acceptor) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.detachLocked(a.conn)
	return nil
}

func (a *Acceptor) serve(conn *websocket.Conn) {
	gone := make(chan struct{})
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		conn.Close()
		return
	}
	prev := a.conn
	if a.gone != nil {
		close(a.gone)
	}
	a.conn, a.gone = conn, gone
	a.pending = nil
	a.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
	glog.V(2).Infof("ws: peer attached from %s", conn.Request().RemoteAddr)

	// hold the handler open while this connection is in use
	<-gone
	conn.Close()
	glog.V(2).Info("ws: peer detached")
}

func (a *Acceptor) current() *websocket.Conn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn
}

func (a *Acceptor) detach(conn *websocket.Conn) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.detachLocked(conn)
}

func (a *Acceptor) detachLocked(conn *websocket.Conn) {
	if conn == nil || a.conn != conn {
		return
	}
	close(a.gone)
	a.conn, a.gone = nil, nil
	a.pending = nil
}

// receiveFrom reads one message, waiting at most timeout. A timeout
// is reported as zero bytes with no error.
func receiveFrom(conn *websocket.Conn, timeout time.Duration) (int, []byte, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, nil, err
	}
	var data []byte
	if err := websocket.Message.Receive(conn, &data); err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, nil, nil
		}
		return 0, nil, err
	}
	return len(data), data, nil
}
