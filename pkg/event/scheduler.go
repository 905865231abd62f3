// Package event provides the periodic scheduler feeding timed object
// events into telemetry queues.
package event

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/uavtalks/telem.go/pkg/uavobj"
)

// idleWait bounds the sleep when no binding is armed.
const idleWait = time.Second

type bindingKey struct {
	obj  uavobj.Object
	q    *uavobj.Queue
	kind uavobj.EventKind
}

type binding struct {
	ev     uavobj.Event
	q      *uavobj.Queue
	period time.Duration
	next   time.Time
}

// Scheduler posts recurring object events into queues. Bindings are
// keyed by (object, queue, event kind); at most one exists per key.
type Scheduler struct {
	mu       sync.Mutex
	bindings map[bindingKey]*binding
	wake     chan struct{}
}

// NewScheduler creates a Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		bindings: make(map[bindingKey]*binding),
		wake:     make(chan struct{}, 1),
	}
}

// UpdateOrCreate sets the recurrence period of the binding for
// (ev.Obj, q, ev.Kind), creating it when absent. A zero period keeps
// the binding but disables recurrence. The phase restarts from now.
func (s *Scheduler) UpdateOrCreate(ev uavobj.Event, q *uavobj.Queue, period time.Duration) {
	key := bindingKey{obj: ev.Obj, q: q, kind: ev.Kind}
	s.mu.Lock()
	b := s.bindings[key]
	if b == nil {
		b = &binding{ev: ev, q: q}
		s.bindings[key] = b
	}
	b.period = period
	if period > 0 {
		b.next = time.Now().Add(period)
	} else {
		b.next = time.Time{}
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// PeriodFor returns the recurrence period of the binding for
// (obj, q, kind), if one exists.
func (s *Scheduler) PeriodFor(obj uavobj.Object, q *uavobj.Queue, kind uavobj.EventKind) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bindings[bindingKey{obj: obj, q: q, kind: kind}]
	if b == nil {
		return 0, false
	}
	return b.period, true
}

// Run fires due bindings until the context ends.
func (s *Scheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(idleWait)
	defer timer.Stop()
	for {
		wait := s.fireDue(time.Now())
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		case <-timer.C:
		}
	}
}

// fireDue posts events for all due bindings and returns the wait until
// the earliest upcoming one.
func (s *Scheduler) fireDue(now time.Time) time.Duration {
	var due []*binding
	wait := idleWait
	s.mu.Lock()
	for _, b := range s.bindings {
		if b.period <= 0 {
			continue
		}
		if !b.next.After(now) {
			due = append(due, b)
			b.next = now.Add(b.period)
		}
		if d := b.next.Sub(now); d < wait {
			wait = d
		}
	}
	s.mu.Unlock()

	for _, b := range due {
		if !b.q.Post(b.ev) && bool(glog.V(2)) {
			name := "tick"
			if b.ev.Obj != nil {
				name = b.ev.Obj.Name()
			}
			glog.Infof("periodic %s event dropped for %s", b.ev.Kind, name)
		}
	}
	return wait
}
