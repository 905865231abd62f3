// Package gcs drives the ground side of a telemetry conversation:
// the connection handshake, the ground statistics object, and bulk
// retrieval of the vehicle's objects.
package gcs

import (
	"context"
	"errors"
	"time"

	"github.com/golang/glog"

	"github.com/uavtalks/telem.go/pkg/talk"
	"github.com/uavtalks/telem.go/pkg/telemetry"
	"github.com/uavtalks/telem.go/pkg/uavobj"
)

const (
	defaultInterval    = time.Second
	defaultConnTimeout = 8 * time.Second
	defaultReqTimeout  = 250 * time.Millisecond
)

// Config assembles a Monitor.
type Config struct {
	Registry uavobj.Registry
	Session  talk.Session
	// FlightStats is the vehicle's status object, written by the peer.
	FlightStats uavobj.Object
	// GroundStats is the local status object, pushed to the vehicle.
	GroundStats uavobj.Object

	// Interval paces the keepalive and handshake ticks.
	Interval time.Duration
	// ConnTimeout declares the vehicle gone when nothing arrived for
	// this long.
	ConnTimeout time.Duration
	// ReqTimeout bounds one object retrieval attempt.
	ReqTimeout time.Duration
	// OnConnect runs once per established connection.
	OnConnect func()
	// Now substitutes the clock, for tests.
	Now func() time.Time
}

// Monitor is the ground connection driver. It keeps asking for a
// connection while there is none and keeps the vehicle fed with
// ground statistics while there is one.
type Monitor struct {
	cfg    Config
	q      *uavobj.Queue
	lastRx time.Time
	now    func() time.Time
}

// NewMonitor creates a Monitor and subscribes it to the vehicle's
// status object.
func NewMonitor(cfg Config) (*Monitor, error) {
	if cfg.Registry == nil || cfg.Session == nil {
		return nil, errors.New("gcs: registry and session are required")
	}
	if cfg.FlightStats == nil || cfg.GroundStats == nil {
		return nil, errors.New("gcs: status objects are required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.ConnTimeout <= 0 {
		cfg.ConnTimeout = defaultConnTimeout
	}
	if cfg.ReqTimeout <= 0 {
		cfg.ReqTimeout = defaultReqTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	m := &Monitor{cfg: cfg, q: uavobj.NewQueue(8), now: cfg.Now}
	cfg.FlightStats.Connect(m.q, uavobj.MaskAllUpdates)
	return m, nil
}

// Name implements framework.Named.
func (m *Monitor) Name() string { return "gcs-monitor" }

// Run implements framework.Runnable.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.q.C():
			// peer status arrived, move the handshake along now
			if fs, gs := m.flight(), m.ground(); fs.Status != telemetry.Connected || gs.Status != telemetry.Connected {
				m.step()
			}
		case <-ticker.C:
			m.step()
		}
	}
}

// step folds session statistics into the ground status object, runs
// the handshake, and pushes the object to the vehicle.
func (m *Monitor) step() {
	stats := m.cfg.Session.Stats(true)
	fs := m.flight()
	gs := m.ground()

	if gs.Status == telemetry.Connected {
		interval := m.cfg.Interval.Seconds()
		gs.TxDataRate = float64(stats.TxBytes) / interval
		gs.TxBytes += stats.TxBytes
		gs.RxDataRate = float64(stats.RxBytes) / interval
		gs.RxBytes += stats.RxBytes
		gs.RxFailures += stats.RxErrors + stats.RxSyncErrors + stats.RxCrcErrors
	} else {
		gs.TxDataRate = 0
		gs.TxBytes = 0
		gs.TxFailures = 0
		gs.TxRetries = 0
		gs.RxDataRate = 0
		gs.RxBytes = 0
		gs.RxFailures = 0
	}

	now := m.now()
	if stats.RxObjects > 0 {
		m.lastRx = now
	}
	timedOut := now.Sub(m.lastRx) > m.cfg.ConnTimeout

	prev := gs.Status
	switch gs.Status {
	case telemetry.Disconnected:
		gs.Status = telemetry.HandshakeReq
	case telemetry.HandshakeReq:
		if fs.Status == telemetry.HandshakeAck || fs.Status == telemetry.Connected {
			gs.Status = telemetry.Connected
		}
	case telemetry.Connected:
		if timedOut || fs.Status == telemetry.Disconnected {
			gs.Status = telemetry.Disconnected
		}
	default:
		gs.Status = telemetry.Disconnected
	}

	if err := m.cfg.GroundStats.Set(0, gs); err != nil {
		glog.Errorf("gcs: publish ground stats: %v", err)
		return
	}
	if err := m.cfg.Session.SendObject(m.cfg.GroundStats, 0, false, m.cfg.ReqTimeout); err != nil {
		gs.TxFailures++
		m.cfg.GroundStats.Set(0, gs)
		glog.V(2).Infof("gcs: push ground stats: %v", err)
	}

	if gs.Status == telemetry.Connected && prev != telemetry.Connected {
		glog.Infof("gcs: connected")
		if m.cfg.OnConnect != nil {
			m.cfg.OnConnect()
		}
	} else if gs.Status != telemetry.Connected && prev == telemetry.Connected {
		glog.Warning("gcs: connection lost")
	}
}

// RetrieveAll asks the vehicle for every data object once, skipping
// the status objects the handshake already moves.
func (m *Monitor) RetrieveAll(ctx context.Context) {
	m.cfg.Registry.ForEach(func(obj uavobj.Object) {
		if ctx.Err() != nil {
			return
		}
		if obj.IsMeta() || obj == m.cfg.FlightStats || obj == m.cfg.GroundStats {
			return
		}
		if err := m.cfg.Session.RequestObject(obj, uavobj.AllInstances, m.cfg.ReqTimeout); err != nil {
			glog.V(2).Infof("gcs: retrieve %s: %v", obj.Name(), err)
		}
	})
}

func (m *Monitor) flight() telemetry.FlightStats {
	v, err := m.cfg.FlightStats.Get(0)
	if err != nil {
		return telemetry.FlightStats{}
	}
	fs, _ := v.(telemetry.FlightStats)
	return fs
}

func (m *Monitor) ground() telemetry.GroundStats {
	v, err := m.cfg.GroundStats.Get(0)
	if err != nil {
		return telemetry.GroundStats{}
	}
	gs, _ := v.(telemetry.GroundStats)
	return gs
}
