package telemetry

import (
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/uavtalks/telem.go/pkg/talk"
)

// gcsStatsUpdated runs on every event of the peer's status object. It
// drives the handshake forward immediately instead of waiting for the
// next stats tick, unless both sides already report Connected.
func (m *Module) gcsStatsUpdated() {
	fs := m.flightStatsValue()
	gs := m.gcsStatsValue()
	if fs.Status != Connected || gs.Status != Connected {
		m.updateTelemetryStats()
	}
}

// updateTelemetryStats folds both sessions' counters into the
// published status object and steps the connection state machine. It
// normally runs on the main link's transmit task, but the handshake
// kickoff may call it from the radio link's, hence the lock.
func (m *Module) updateTelemetryStats() {
	m.monMu.Lock()
	defer m.monMu.Unlock()

	var stats talk.Stats
	var txErrors, txRetries uint32
	for _, l := range m.links() {
		stats.Add(l.session.Stats(true))
		txErrors += atomic.SwapUint32(&l.txErrors, 0)
		txRetries += atomic.SwapUint32(&l.txRetries, 0)
	}

	fs := m.flightStatsValue()
	gs := m.gcsStatsValue()

	if fs.Status == Connected {
		interval := m.cfg.StatsInterval.Seconds()
		fs.TxDataRate = float64(stats.TxBytes) / interval
		fs.TxBytes += stats.TxBytes
		fs.TxFailures += txErrors
		fs.TxRetries += txRetries

		fs.RxDataRate = float64(stats.RxBytes) / interval
		fs.RxBytes += stats.RxBytes
		fs.RxFailures += stats.RxErrors
		fs.RxSyncErrors += stats.RxSyncErrors
		fs.RxCrcErrors += stats.RxCrcErrors
	} else {
		fs.TxDataRate = 0
		fs.TxBytes = 0
		fs.TxFailures = 0
		fs.TxRetries = 0

		fs.RxDataRate = 0
		fs.RxBytes = 0
		fs.RxFailures = 0
		fs.RxSyncErrors = 0
		fs.RxCrcErrors = 0
	}

	now := m.now()
	if stats.RxObjects > 0 {
		m.lastRx = now
	}
	timedOut := now.Sub(m.lastRx) > m.cfg.ConnTimeout

	forceUpdate := true
	switch fs.Status {
	case Disconnected:
		// wait for a connection request
		if gs.Status == HandshakeReq {
			fs.Status = HandshakeAck
		}
	case HandshakeAck:
		// wait for the peer to confirm, or give up with it
		if gs.Status == Connected {
			fs.Status = Connected
		} else if gs.Status == Disconnected {
			fs.Status = Disconnected
		}
	case Connected:
		if gs.Status != Connected || timedOut {
			fs.Status = Disconnected
		} else {
			forceUpdate = false
		}
	default:
		fs.Status = Disconnected
	}

	// disconnection is a normal resting state, only health is alarmed
	if fs.Status == Connected && m.alarms != nil {
		m.alarms.ClearAlarm(AlarmTelemetryLink)
	}

	if err := m.objs.FlightStats.Set(0, fs); err != nil {
		glog.Errorf("telemetry: publish flight stats: %v", err)
		return
	}
	if forceUpdate {
		m.objs.FlightStats.Updated(0)
	}
}

func (m *Module) flightStatsValue() FlightStats {
	v, err := m.objs.FlightStats.Get(0)
	if err != nil {
		return FlightStats{}
	}
	fs, _ := v.(FlightStats)
	return fs
}

func (m *Module) gcsStatsValue() GroundStats {
	v, err := m.objs.GCSStats.Get(0)
	if err != nil {
		return GroundStats{}
	}
	gs, _ := v.(GroundStats)
	return gs
}
