// Package telemetry implements the object dispatch core between the
// object store and the telemetry links. Every registered object is
// subscribed according to its update mode; link tasks pump the
// resulting events to the peer, log them, and keep the connection
// state object honest.
package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/uavtalks/telem.go/pkg/event"
	fx "github.com/uavtalks/telem.go/pkg/framework"
	"github.com/uavtalks/telem.go/pkg/port"
	"github.com/uavtalks/telem.go/pkg/talk"
	"github.com/uavtalks/telem.go/pkg/uavobj"
)

const (
	defaultQueueSize     = 20
	defaultReqTimeout    = 250 * time.Millisecond
	defaultStatsInterval = 4 * time.Second
	defaultConnTimeout   = 8 * time.Second
	defaultRxTimeout     = 500 * time.Millisecond
	defaultTxTick        = 10 * time.Millisecond
	defaultIdleSleep     = 100 * time.Millisecond

	// maxRetries bounds the retries after a failed send or request
	// attempt, so an event costs at most maxRetries+1 attempts.
	maxRetries = 2
)

// SessionFactory builds the protocol session of one link around the
// link's transmit function.
type SessionFactory func(reg uavobj.Registry, tx talk.TransmitFunc) talk.Session

// ObjectLog receives object snapshots from the logging track.
type ObjectLog interface {
	Record(obj uavobj.Object, inst uavobj.InstID)
}

// AlarmTelemetryLink names the alarm cleared while the ground
// connection is healthy.
const AlarmTelemetryLink = "telemetry-link"

// AlarmClearer clears a named alarm on the surrounding alarm
// subsystem.
type AlarmClearer interface {
	ClearAlarm(name string)
}

// AlarmClearerFunc adapts a func to AlarmClearer.
type AlarmClearerFunc func(name string)

// ClearAlarm implements AlarmClearer.
func (f AlarmClearerFunc) ClearAlarm(name string) { f(name) }

// LinkConfig describes one physical link.
type LinkConfig struct {
	// Name tags the link's tasks in logs.
	Name string
	// Ports are the byte transports in preference order. Every
	// transmission picks the first usable one and the receive task
	// follows it.
	Ports []port.Port
	// Session builds the link's protocol session.
	Session SessionFactory
}

// Config assembles a Module.
type Config struct {
	Registry uavobj.Registry
	Objects  StatusObjects
	// Main is the always-present primary link.
	Main LinkConfig
	// Radio is the optional secondary link.
	Radio *LinkConfig
	// Log receives logged object snapshots. Optional.
	Log ObjectLog
	// Alarms is cleared while the connection is healthy. Optional.
	Alarms AlarmClearer

	// NoPriorityQueue selects the single-queue configuration, where
	// priority objects share the normal queue.
	NoPriorityQueue bool
	QueueSize       int
	// ReqTimeout bounds one acknowledged send or request attempt.
	ReqTimeout time.Duration
	// StatsInterval is the health monitor tick.
	StatsInterval time.Duration
	// ConnTimeout declares the peer gone when nothing arrived for
	// this long.
	ConnTimeout time.Duration
	// RxTimeout bounds one port read.
	RxTimeout time.Duration
	// TxTick is the transmit task's block on an empty queue.
	TxTick time.Duration
	// IdleSleep is the receive task's sleep without a usable port.
	IdleSleep time.Duration

	// Now substitutes the monitor clock, for tests.
	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.ReqTimeout <= 0 {
		c.ReqTimeout = defaultReqTimeout
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = defaultStatsInterval
	}
	if c.ConnTimeout <= 0 {
		c.ConnTimeout = defaultConnTimeout
	}
	if c.RxTimeout <= 0 {
		c.RxTimeout = defaultRxTimeout
	}
	if c.TxTick <= 0 {
		c.TxTick = defaultTxTick
	}
	if c.IdleSleep <= 0 {
		c.IdleSleep = defaultIdleSleep
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Module is the telemetry dispatch core.
type Module struct {
	cfg    Config
	reg    uavobj.Registry
	objs   StatusObjects
	sched  *event.Scheduler
	main   *Link
	radio  *Link
	log    ObjectLog
	alarms AlarmClearer
	now    func() time.Time

	// monitor state, guarded because the handshake kickoff may run
	// on either link's transmit task
	monMu  sync.Mutex
	lastRx time.Time

	watcher *settingsWatcher
}

// New creates a Module and wires every registered object to the
// links. The registry must already hold the status objects.
func New(cfg Config) (*Module, error) {
	if cfg.Registry == nil {
		return nil, errors.New("telemetry: no registry")
	}
	if cfg.Objects.FlightStats == nil || cfg.Objects.GCSStats == nil {
		return nil, errors.New("telemetry: status objects not registered")
	}
	if cfg.Main.Session == nil {
		return nil, errors.New("telemetry: main link has no session factory")
	}
	cfg.applyDefaults()

	m := &Module{
		cfg:    cfg,
		reg:    cfg.Registry,
		objs:   cfg.Objects,
		sched:  event.NewScheduler(),
		log:    cfg.Log,
		alarms: cfg.Alarms,
		now:    cfg.Now,
	}
	m.main = newLink(m, cfg.Main)
	if cfg.Radio != nil {
		if cfg.Radio.Session == nil {
			return nil, errors.New("telemetry: radio link has no session factory")
		}
		m.radio = newLink(m, *cfg.Radio)
	}
	if cfg.Objects.Settings != nil {
		m.watcher = newSettingsWatcher(m)
	}
	m.setup()
	return m, nil
}

// Name implements framework.Named.
func (m *Module) Name() string { return "telemetry" }

// Run implements framework.Runnable. It pumps the link tasks and the
// periodic scheduler until ctx ends.
func (m *Module) Run(ctx context.Context) error {
	r := fx.NewRunnerWith(ctx)
	r.Go(fx.NamedRun("scheduler", m.sched))
	for _, l := range m.links() {
		r.Go(txTask{l}, rxTask{l})
	}
	if m.watcher != nil {
		r.Go(m.watcher)
	}
	return r.Wait()
}

// Scheduler exposes the periodic scheduler, letting callers add their
// own timed events.
func (m *Module) Scheduler() *event.Scheduler {
	return m.sched
}

func (m *Module) links() []*Link {
	links := []*Link{m.main}
	if m.radio != nil {
		links = append(links, m.radio)
	}
	return links
}

// setup subscribes every object on every link, listens to the peer's
// status object, and arms the stats tick on the main link.
func (m *Module) setup() {
	for _, l := range m.links() {
		l := l
		m.reg.ForEach(func(obj uavobj.Object) { l.registerObject(obj) })
	}
	for _, l := range m.links() {
		m.objs.GCSStats.Connect(l.statusQueue(), uavobj.MaskAllUpdates)
	}
	m.sched.UpdateOrCreate(uavobj.Event{}, m.main.statusQueue(), m.cfg.StatsInterval)
	if m.watcher != nil {
		m.watcher.apply()
	}
}
