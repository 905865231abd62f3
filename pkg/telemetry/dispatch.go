package telemetry

import (
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/uavtalks/telem.go/pkg/uavobj"
)

// processEvent acts on one queued event. A nil object is the stats
// tick; the peer's status object kicks the handshake; everything else
// runs the send or request path, then the logging track.
//
// The logging track deliberately sees the metadata loaded by the send
// path, which stays zero for status kickoff events. Zero metadata
// logs in Manual mode, so those events never reach the log.
func (l *Link) processEvent(ev uavobj.Event) {
	if ev.Obj == nil {
		l.m.updateTelemetryStats()
		return
	}

	var md uavobj.Metadata
	if ev.Obj == l.m.objs.GCSStats {
		l.m.gcsStatsUpdated()
	} else {
		md = ev.Obj.Metadata()
		mode := md.TelemetryUpdateMode

		switch {
		case ev.Kind == uavobj.EventUpdated && (mode == uavobj.OnChange || mode == uavobj.Throttled),
			ev.Kind == uavobj.EventUpdatedManual,
			ev.Kind == uavobj.EventUpdatedPeriodic && mode != uavobj.Throttled:
			l.sendWithRetry(ev.Obj, ev.InstID, md.TelemetryAcked)
		case ev.Kind == uavobj.EventUpdateReq:
			l.requestWithRetry(ev.Obj, ev.InstID)
		}

		if ev.Obj.IsMeta() {
			// the metadata changed, rewire the described object
			l.updateObject(ev.Obj.Linked(), uavobj.EventNone)
		} else if mode == uavobj.Throttled {
			l.updateObject(ev.Obj, ev.Kind)
		}
	}

	logMode := md.LoggingUpdateMode
	if (ev.Kind == uavobj.EventUpdated && (logMode == uavobj.OnChange || logMode == uavobj.Throttled)) ||
		ev.Kind == uavobj.EventLoggingManual ||
		(ev.Kind == uavobj.EventLoggingPeriodic && logMode != uavobj.Throttled) {
		l.logObject(ev.Obj, ev.InstID)
	}
	if logMode == uavobj.Throttled {
		l.updateObject(ev.Obj, ev.Kind)
	}
}

// sendWithRetry pushes one instance (or all of them) to the peer,
// retrying failed attempts up to the retry ceiling. Failures only
// surface in the link counters.
func (l *Link) sendWithRetry(obj uavobj.Object, inst uavobj.InstID, acked bool) {
	retries := 0
	err := l.session.SendObject(obj, inst, acked, l.m.cfg.ReqTimeout)
	for err != nil && retries < maxRetries {
		retries++
		err = l.session.SendObject(obj, inst, acked, l.m.cfg.ReqTimeout)
	}
	atomic.AddUint32(&l.txRetries, uint32(retries))
	if err != nil {
		glog.V(2).Infof("%s: send %s: %v", l.name, obj.Name(), err)
		atomic.AddUint32(&l.txErrors, 1)
	}
}

// requestWithRetry asks the peer for its value of one instance.
func (l *Link) requestWithRetry(obj uavobj.Object, inst uavobj.InstID) {
	retries := 0
	err := l.session.RequestObject(obj, inst, l.m.cfg.ReqTimeout)
	for err != nil && retries < maxRetries {
		retries++
		err = l.session.RequestObject(obj, inst, l.m.cfg.ReqTimeout)
	}
	atomic.AddUint32(&l.txRetries, uint32(retries))
	if err != nil {
		glog.V(2).Infof("%s: request %s: %v", l.name, obj.Name(), err)
		atomic.AddUint32(&l.txErrors, 1)
	}
}

// logObject hands the instance to the object log, fanning out when
// the event addresses all instances.
func (l *Link) logObject(obj uavobj.Object, inst uavobj.InstID) {
	if l.m.log == nil {
		return
	}
	if inst == uavobj.AllInstances {
		n := obj.NumInstances()
		for i := 0; i < n; i++ {
			l.m.log.Record(obj, uavobj.InstID(i))
		}
		return
	}
	l.m.log.Record(obj, inst)
}
