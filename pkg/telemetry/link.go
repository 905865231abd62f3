package telemetry

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/golang/glog"

	fx "github.com/uavtalks/telem.go/pkg/framework"
	"github.com/uavtalks/telem.go/pkg/port"
	"github.com/uavtalks/telem.go/pkg/talk"
	"github.com/uavtalks/telem.go/pkg/uavobj"
)

// errNoPort indicates a transmission with no usable port on the link.
var errNoPort = errors.New("telemetry: link has no usable port")

// activePort wraps the port for atomic.Value, which wants one
// consistent concrete type.
type activePort struct {
	p port.Port
}

// Link is one telemetry link: its event queues, its protocol session,
// and its ports. Both links of a vehicle are instances of this type.
type Link struct {
	name    string
	m       *Module
	session talk.Session
	mainQ   *uavobj.Queue
	prioQ   *uavobj.Queue // nil in the single-queue configuration
	ports   []port.Port
	active  atomic.Value

	// counters owned by this link's transmit task; the monitor reads
	// and clears them from the main link's transmit task
	txErrors  uint32
	txRetries uint32

	// throttle automaton state, one entry per Throttled object;
	// touched only while subscriptions are (re)built
	txThrottle  map[uavobj.Object]throttlePhase
	logThrottle map[uavobj.Object]throttlePhase
}

func newLink(m *Module, cfg LinkConfig) *Link {
	l := &Link{
		name:        cfg.Name,
		m:           m,
		mainQ:       uavobj.NewQueue(m.cfg.QueueSize),
		ports:       cfg.Ports,
		txThrottle:  make(map[uavobj.Object]throttlePhase),
		logThrottle: make(map[uavobj.Object]throttlePhase),
	}
	if !m.cfg.NoPriorityQueue {
		l.prioQ = uavobj.NewQueue(m.cfg.QueueSize)
	}
	l.session = cfg.Session(m.reg, l.transmit)
	l.active.Store(activePort{l.pickPort()})
	return l
}

// registerObject wires one object to this link. Meta-objects are only
// watched for changes; data objects go through the update-mode
// engine.
func (l *Link) registerObject(obj uavobj.Object) {
	if obj.IsMeta() {
		obj.Connect(l.statusQueue(), uavobj.MaskAllUpdates)
		return
	}
	l.updateObject(obj, uavobj.EventNone)
}

// queueFor routes priority objects to the priority queue when one
// exists.
func (l *Link) queueFor(obj uavobj.Object) *uavobj.Queue {
	if l.prioQ != nil && obj.IsPriority() {
		return l.prioQ
	}
	return l.mainQ
}

// statusQueue is where meta-objects, the peer status object, and the
// stats tick go.
func (l *Link) statusQueue() *uavobj.Queue {
	if l.prioQ != nil {
		return l.prioQ
	}
	return l.mainQ
}

// transmit writes protocol bytes on the first usable port. The chosen
// port is published first, so the receive task anticipates the reply
// on the port this output occurs on.
func (l *Link) transmit(p []byte) (int, error) {
	out := l.pickPort()
	l.active.Store(activePort{out})
	if out == nil {
		return 0, errNoPort
	}
	return out.Send(p)
}

func (l *Link) pickPort() port.Port {
	for _, p := range l.ports {
		if port.Available(p) {
			return p
		}
	}
	return nil
}

func (l *Link) activePort() port.Port {
	return l.active.Load().(activePort).p
}

// txTask dispatches queued events. Within one cycle the priority
// queue is fully drained before one normal event is serviced, so
// priority events are never starved while the normal queue is still
// visited every cycle it has data.
type txTask struct {
	link *Link
}

// Name implements framework.Named.
func (t txTask) Name() string { return t.link.name + "-tx" }

// Run implements framework.Runnable.
func (t txTask) Run(ctx context.Context) error {
	l := t.link
	for ctx.Err() == nil {
		if l.prioQ == nil {
			if ev, ok := l.mainQ.Receive(l.m.cfg.TxTick); ok {
				l.processEvent(ev)
			}
			continue
		}
		for {
			ev, ok := l.prioQ.TryReceive()
			if !ok {
				break
			}
			l.processEvent(ev)
		}
		if ev, ok := l.mainQ.TryReceive(); ok {
			l.processEvent(ev)
		} else if ev, ok := l.prioQ.Receive(l.m.cfg.TxTick); ok {
			l.processEvent(ev)
		}
	}
	return ctx.Err()
}

// rxTask feeds bytes from the link's active port into the protocol
// session, one byte at a time.
type rxTask struct {
	link *Link
}

// Name implements framework.Named.
func (t rxTask) Name() string { return t.link.name + "-rx" }

// Run implements framework.Runnable.
func (t rxTask) Run(ctx context.Context) error {
	l := t.link
	buf := make([]byte, 1)
	for ctx.Err() == nil {
		in := l.activePort()
		if in == nil {
			fx.Sleep(ctx, l.m.cfg.IdleSleep)
			continue
		}
		n, err := in.Receive(buf, l.m.cfg.RxTimeout)
		if err != nil {
			glog.V(2).Infof("%s: receive: %v", t.Name(), err)
			fx.Sleep(ctx, l.m.cfg.IdleSleep)
			continue
		}
		for i := 0; i < n; i++ {
			if err := l.session.ProcessByte(buf[i]); err != nil {
				glog.V(2).Infof("%s: process: %v", t.Name(), err)
			}
		}
	}
	return ctx.Err()
}
