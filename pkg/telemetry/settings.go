package telemetry

import (
	"context"

	"github.com/golang/glog"

	"github.com/uavtalks/telem.go/pkg/port"
	"github.com/uavtalks/telem.go/pkg/uavobj"
)

// settingsWatcher applies the settings object to the main link's
// ports at startup and again whenever the object changes, locally or
// from the peer.
type settingsWatcher struct {
	m *Module
	q *uavobj.Queue
}

func newSettingsWatcher(m *Module) *settingsWatcher {
	w := &settingsWatcher{m: m, q: uavobj.NewQueue(4)}
	m.objs.Settings.Connect(w.q, uavobj.Mask(
		uavobj.EventUpdated, uavobj.EventUpdatedManual, uavobj.EventUnpacked))
	return w
}

// Name implements framework.Named.
func (w *settingsWatcher) Name() string { return "settings-watcher" }

// Run implements framework.Runnable.
func (w *settingsWatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.q.C():
			w.apply()
		}
	}
}

// apply pushes the configured line rate to every main link port that
// supports one.
func (w *settingsWatcher) apply() {
	v, err := w.m.objs.Settings.Get(0)
	if err != nil {
		return
	}
	ls, ok := v.(LinkSettings)
	if !ok {
		return
	}
	baud := ls.Speed.Baud()
	if baud == 0 {
		glog.Warningf("telemetry: settings hold an invalid link speed %d", ls.Speed)
		return
	}
	for _, p := range w.m.main.ports {
		if err := port.ChangeBaud(p, baud); err != nil {
			glog.Errorf("telemetry: apply %d baud: %v", baud, err)
		}
	}
}
