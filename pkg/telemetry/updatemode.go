package telemetry

import (
	"time"

	"github.com/uavtalks/telem.go/pkg/uavobj"
)

// throttlePhase is the state of one Throttled object on one link.
type throttlePhase uint8

const (
	// onChangeArmed transmits (or logs) the next change immediately.
	onChangeArmed throttlePhase = iota
	// periodicSuppression holds further changes back until the
	// object's timer fires.
	periodicSuppression
)

// updateObject rebuilds the link's subscription mask and timer
// bindings for obj from its metadata. trigger is the event that
// caused the rebuild: EventNone on registration and metadata change,
// otherwise the event just dispatched, which steps the throttle
// automaton. Meta-objects have no update modes and must never get
// here.
func (l *Link) updateObject(obj uavobj.Object, trigger uavobj.EventKind) {
	if obj.IsMeta() {
		panic("telemetry: update-mode engine invoked on meta-object " + obj.Name())
	}
	md := obj.Metadata()
	var mask uavobj.EventMask

	switch md.TelemetryUpdateMode {
	case uavobj.Periodic:
		delete(l.txThrottle, obj)
		l.setUpdatePeriod(obj, md.TelemetryPeriod)
		mask |= uavobj.Mask(uavobj.EventUpdatedPeriodic, uavobj.EventUpdatedManual, uavobj.EventUpdateReq)
	case uavobj.OnChange:
		delete(l.txThrottle, obj)
		l.setUpdatePeriod(obj, 0)
		mask |= uavobj.Mask(uavobj.EventUpdated, uavobj.EventUpdatedManual, uavobj.EventUpdateReq)
	case uavobj.Throttled:
		phase := periodicSuppression
		switch trigger {
		case uavobj.EventNone:
			// registration or metadata change rearms and restarts
			// the timer
			phase = onChangeArmed
			l.setUpdatePeriod(obj, md.TelemetryPeriod)
		case uavobj.EventUpdatedPeriodic:
			// the timer fired, changes may flow again
			phase = onChangeArmed
		}
		l.txThrottle[obj] = phase
		if phase == onChangeArmed {
			mask |= uavobj.Mask(uavobj.EventUpdated, uavobj.EventUpdatedManual, uavobj.EventUpdateReq)
		} else {
			mask |= uavobj.Mask(uavobj.EventUpdatedPeriodic, uavobj.EventUpdatedManual, uavobj.EventUpdateReq)
		}
	default: // Manual
		delete(l.txThrottle, obj)
		l.setUpdatePeriod(obj, 0)
		mask |= uavobj.Mask(uavobj.EventUpdatedManual, uavobj.EventUpdateReq)
	}

	switch md.LoggingUpdateMode {
	case uavobj.Periodic:
		delete(l.logThrottle, obj)
		l.setLoggingPeriod(obj, md.LoggingPeriod)
		mask |= uavobj.Mask(uavobj.EventLoggingPeriodic, uavobj.EventLoggingManual)
	case uavobj.OnChange:
		delete(l.logThrottle, obj)
		l.setLoggingPeriod(obj, 0)
		mask |= uavobj.Mask(uavobj.EventUpdated, uavobj.EventLoggingManual)
	case uavobj.Throttled:
		phase := periodicSuppression
		switch trigger {
		case uavobj.EventNone:
			phase = onChangeArmed
			l.setLoggingPeriod(obj, md.LoggingPeriod)
		case uavobj.EventLoggingPeriodic:
			phase = onChangeArmed
		}
		l.logThrottle[obj] = phase
		if phase == onChangeArmed {
			mask |= uavobj.Mask(uavobj.EventUpdated, uavobj.EventLoggingManual)
		} else {
			mask |= uavobj.Mask(uavobj.EventLoggingPeriodic, uavobj.EventLoggingManual)
		}
	default: // Manual
		delete(l.logThrottle, obj)
		l.setLoggingPeriod(obj, 0)
		mask |= uavobj.Mask(uavobj.EventLoggingManual)
	}

	obj.Connect(l.queueFor(obj), mask)
}

// setUpdatePeriod binds the transmit timer of obj on this link. A
// zero period disables it.
func (l *Link) setUpdatePeriod(obj uavobj.Object, period time.Duration) {
	ev := uavobj.Event{
		Obj:     obj,
		InstID:  uavobj.AllInstances,
		Kind:    uavobj.EventUpdatedPeriodic,
		LowPrio: true,
	}
	l.m.sched.UpdateOrCreate(ev, l.queueFor(obj), period)
}

// setLoggingPeriod binds the logging timer of obj on this link.
func (l *Link) setLoggingPeriod(obj uavobj.Object, period time.Duration) {
	ev := uavobj.Event{
		Obj:     obj,
		InstID:  uavobj.AllInstances,
		Kind:    uavobj.EventLoggingPeriodic,
		LowPrio: true,
	}
	l.m.sched.UpdateOrCreate(ev, l.queueFor(obj), period)
}
