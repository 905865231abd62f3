package uavobj

import (
	"sync/atomic"
	"time"
)

// EventKind identifies a single notification cause. Kinds are bit
// values so an EventMask is the union of kinds.
type EventKind uint8

const (
	// EventNone marks initial setup or a metadata change.
	EventNone EventKind = 0
	// EventUpdated fires when an instance value is written.
	EventUpdated EventKind = 0x01
	// EventUpdatedManual fires on an explicit transmit request.
	EventUpdatedManual EventKind = 0x02
	// EventUpdatedPeriodic fires when the transmit timer elapses.
	EventUpdatedPeriodic EventKind = 0x04
	// EventUpdateReq fires when the peer's value is wanted.
	EventUpdateReq EventKind = 0x08
	// EventLoggingManual fires on an explicit log request.
	EventLoggingManual EventKind = 0x10
	// EventLoggingPeriodic fires when the logging timer elapses.
	EventLoggingPeriodic EventKind = 0x20
	// EventUnpacked fires when a value written by a remote peer is
	// applied. Distinct from EventUpdated so links do not echo
	// received objects back to their sender.
	EventUnpacked EventKind = 0x40
)

func (k EventKind) String() string {
	switch k {
	case EventNone:
		return "none"
	case EventUpdated:
		return "updated"
	case EventUpdatedManual:
		return "updated-manual"
	case EventUpdatedPeriodic:
		return "updated-periodic"
	case EventUpdateReq:
		return "update-req"
	case EventLoggingManual:
		return "logging-manual"
	case EventLoggingPeriodic:
		return "logging-periodic"
	case EventUnpacked:
		return "unpacked"
	}
	return "invalid"
}

// EventMask selects which event kinds a subscription receives.
type EventMask uint8

// MaskAllUpdates selects every update notification, local or remote.
// Meta-objects are subscribed with this mask so both local metadata
// writes and writes arriving over a link are dispatched.
const MaskAllUpdates = EventMask(EventUnpacked | EventUpdated |
	EventUpdatedManual | EventUpdatedPeriodic | EventUpdateReq)

// Mask combines event kinds into a subscription mask.
func Mask(kinds ...EventKind) EventMask {
	var m EventMask
	for _, k := range kinds {
		m |= EventMask(k)
	}
	return m
}

// In reports whether the kind is selected by mask.
func (k EventKind) In(mask EventMask) bool {
	return EventMask(k)&mask != 0
}

// Event is a single dispatchable notification. A nil Obj marks the
// periodic stats tick. Events are immutable values consumed exactly
// once by the dispatcher of their link.
type Event struct {
	Obj     Object
	InstID  InstID
	Kind    EventKind
	LowPrio bool
}

// Queue is a bounded event queue. Posting never blocks: events posted
// to a full queue are dropped and counted.
type Queue struct {
	ch    chan Event
	drops uint32
}

// lowPrioReserve is the tail capacity a low priority post must leave
// free for direct notifications.
const lowPrioReserve = 2

// NewQueue creates a queue holding up to capacity events.
func NewQueue(capacity int) *Queue {
	return &Queue{ch: make(chan Event, capacity)}
}

// Post enqueues ev without blocking. It reports false when the queue
// is full and the event was dropped. Low priority events are dropped
// earlier, once the queue is within lowPrioReserve slots of capacity.
func (q *Queue) Post(ev Event) bool {
	if ev.LowPrio && len(q.ch) >= cap(q.ch)-lowPrioReserve {
		atomic.AddUint32(&q.drops, 1)
		return false
	}
	select {
	case q.ch <- ev:
		return true
	default:
		atomic.AddUint32(&q.drops, 1)
		return false
	}
}

// TryReceive pops one event without blocking.
func (q *Queue) TryReceive() (Event, bool) {
	select {
	case ev := <-q.ch:
		return ev, true
	default:
		return Event{}, false
	}
}

// Receive pops one event, waiting up to timeout.
func (q *Queue) Receive(timeout time.Duration) (Event, bool) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case ev := <-q.ch:
		return ev, true
	case <-t.C:
		return Event{}, false
	}
}

// C exposes the receive channel for select loops.
func (q *Queue) C() <-chan Event {
	return q.ch
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Drops returns the number of events dropped on overflow.
func (q *Queue) Drops() uint32 {
	return atomic.LoadUint32(&q.drops)
}
