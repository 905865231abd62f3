package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/uavtalks/telem.go/pkg/uavobj"
	"github.com/uavtalks/telem.go/pkg/uavobj/memstore"
)

func TestUpdateObjectMasks(t *testing.T) {
	const period = 100 * time.Millisecond
	testCases := []struct {
		name       string
		meta       uavobj.Metadata
		expect     uavobj.EventMask
		txPeriod   time.Duration
		logPeriod  time.Duration
	}{
		{
			name:   "manual",
			meta:   uavobj.Metadata{},
			expect: uavobj.Mask(uavobj.EventUpdatedManual, uavobj.EventUpdateReq, uavobj.EventLoggingManual),
		},
		{
			name: "periodic",
			meta: uavobj.Metadata{TelemetryUpdateMode: uavobj.Periodic, TelemetryPeriod: period},
			expect: uavobj.Mask(
				uavobj.EventUpdatedPeriodic, uavobj.EventUpdatedManual,
				uavobj.EventUpdateReq, uavobj.EventLoggingManual),
			txPeriod: period,
		},
		{
			name: "onchange",
			meta: uavobj.Metadata{TelemetryUpdateMode: uavobj.OnChange},
			expect: uavobj.Mask(
				uavobj.EventUpdated, uavobj.EventUpdatedManual,
				uavobj.EventUpdateReq, uavobj.EventLoggingManual),
		},
		{
			name: "throttled starts armed",
			meta: uavobj.Metadata{TelemetryUpdateMode: uavobj.Throttled, TelemetryPeriod: period},
			expect: uavobj.Mask(
				uavobj.EventUpdated, uavobj.EventUpdatedManual,
				uavobj.EventUpdateReq, uavobj.EventLoggingManual),
			txPeriod: period,
		},
		{
			name: "logging periodic",
			meta: uavobj.Metadata{LoggingUpdateMode: uavobj.Periodic, LoggingPeriod: period},
			expect: uavobj.Mask(
				uavobj.EventUpdatedManual, uavobj.EventUpdateReq,
				uavobj.EventLoggingPeriodic, uavobj.EventLoggingManual),
			logPeriod: period,
		},
		{
			name: "logging onchange",
			meta: uavobj.Metadata{LoggingUpdateMode: uavobj.OnChange},
			expect: uavobj.Mask(
				uavobj.EventUpdatedManual, uavobj.EventUpdateReq,
				uavobj.EventUpdated, uavobj.EventLoggingManual),
		},
		{
			name: "logging throttled starts armed",
			meta: uavobj.Metadata{LoggingUpdateMode: uavobj.Throttled, LoggingPeriod: period},
			expect: uavobj.Mask(
				uavobj.EventUpdatedManual, uavobj.EventUpdateReq,
				uavobj.EventUpdated, uavobj.EventLoggingManual),
			logPeriod: period,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEnv(t, []memstore.Spec{{Name: "Attitude", Meta: tc.meta}})
			l := e.m.main
			obj := e.obj("Attitude")

			mask, ok := obj.MaskFor(l.mainQ)
			require.True(t, ok)
			require.Equal(t, tc.expect, mask)

			p, _ := e.m.sched.PeriodFor(obj, l.mainQ, uavobj.EventUpdatedPeriodic)
			require.Equal(t, tc.txPeriod, p)
			p, _ = e.m.sched.PeriodFor(obj, l.mainQ, uavobj.EventLoggingPeriodic)
			require.Equal(t, tc.logPeriod, p)

			// rewiring with unchanged metadata lands in the same state
			l.updateObject(obj, uavobj.EventNone)
			mask, ok = obj.MaskFor(l.mainQ)
			require.True(t, ok)
			require.Equal(t, tc.expect, mask)
			p, _ = e.m.sched.PeriodFor(obj, l.mainQ, uavobj.EventUpdatedPeriodic)
			require.Equal(t, tc.txPeriod, p)
		})
	}
}

func TestUpdateObjectTriggerInsensitive(t *testing.T) {
	// outside Throttled mode the triggering event never changes the
	// resulting subscription
	modes := []uavobj.UpdateMode{uavobj.Manual, uavobj.Periodic, uavobj.OnChange}
	kinds := []uavobj.EventKind{
		uavobj.EventNone, uavobj.EventUpdated,
		uavobj.EventUpdatedPeriodic, uavobj.EventUpdatedManual,
	}
	for _, mode := range modes {
		e := newTestEnv(t, []memstore.Spec{{
			Name: "Attitude",
			Meta: uavobj.Metadata{TelemetryUpdateMode: mode, TelemetryPeriod: time.Second},
		}})
		l := e.m.main
		obj := e.obj("Attitude")
		want, ok := obj.MaskFor(l.mainQ)
		require.True(t, ok)

		for _, kind := range kinds {
			l.updateObject(obj, kind)
			mask, _ := obj.MaskFor(l.mainQ)
			require.Equal(t, want, mask, "mode %v trigger %v", mode, kind)
		}
	}
}

func TestThrottleAutomaton(t *testing.T) {
	e := newTestEnv(t, []memstore.Spec{{
		Name:  "Position",
		Value: 0.0,
		Meta: uavobj.Metadata{
			TelemetryUpdateMode: uavobj.Throttled,
			TelemetryPeriod:     time.Second,
		},
	}})
	l := e.m.main
	obj := e.obj("Position")
	changeMask := uavobj.Mask(
		uavobj.EventUpdated, uavobj.EventUpdatedManual,
		uavobj.EventUpdateReq, uavobj.EventLoggingManual)
	suppressedMask := uavobj.Mask(
		uavobj.EventUpdatedPeriodic, uavobj.EventUpdatedManual,
		uavobj.EventUpdateReq, uavobj.EventLoggingManual)

	mask, _ := obj.MaskFor(l.mainQ)
	require.Equal(t, changeMask, mask)
	require.Equal(t, onChangeArmed, l.txThrottle[uavobj.Object(obj)])

	// a change is sent and further changes are suppressed
	l.processEvent(uavobj.Event{Obj: obj, Kind: uavobj.EventUpdated})
	require.Equal(t, []sessionCall{{"send", obj, 0, false}}, e.session.took())
	mask, _ = obj.MaskFor(l.mainQ)
	require.Equal(t, suppressedMask, mask)
	require.Equal(t, periodicSuppression, l.txThrottle[uavobj.Object(obj)])

	// a manual update is sent but does not lift the suppression
	l.processEvent(uavobj.Event{Obj: obj, Kind: uavobj.EventUpdatedManual})
	require.Equal(t, []sessionCall{{"send", obj, 0, false}}, e.session.took())
	mask, _ = obj.MaskFor(l.mainQ)
	require.Equal(t, suppressedMask, mask)

	// the timer firing sends nothing and rearms change sends
	l.processEvent(uavobj.Event{Obj: obj, InstID: uavobj.AllInstances, Kind: uavobj.EventUpdatedPeriodic})
	require.Empty(t, e.session.took())
	mask, _ = obj.MaskFor(l.mainQ)
	require.Equal(t, changeMask, mask)
	require.Equal(t, onChangeArmed, l.txThrottle[uavobj.Object(obj)])

	// the two phases keep alternating cycle after cycle
	for i := 0; i < 5; i++ {
		l.processEvent(uavobj.Event{Obj: obj, Kind: uavobj.EventUpdated})
		require.Equal(t, []sessionCall{{"send", obj, 0, false}}, e.session.took())
		mask, _ = obj.MaskFor(l.mainQ)
		require.Equal(t, suppressedMask, mask)

		l.processEvent(uavobj.Event{Obj: obj, InstID: uavobj.AllInstances, Kind: uavobj.EventUpdatedPeriodic})
		require.Empty(t, e.session.took())
		mask, _ = obj.MaskFor(l.mainQ)
		require.Equal(t, changeMask, mask)
	}
}

func TestLoggingThrottleAutomaton(t *testing.T) {
	e := newTestEnv(t, []memstore.Spec{{
		Name:  "Position",
		Value: 0.0,
		Meta: uavobj.Metadata{
			LoggingUpdateMode: uavobj.Throttled,
			LoggingPeriod:     time.Second,
		},
	}})
	l := e.m.main
	obj := e.obj("Position")

	// armed: the change is logged, then suppressed
	l.processEvent(uavobj.Event{Obj: obj, Kind: uavobj.EventUpdated})
	require.Equal(t, []logRecord{{obj, 0}}, e.log.took())
	require.Empty(t, e.session.took(), "manual transmit mode stays quiet")
	require.Equal(t, periodicSuppression, l.logThrottle[uavobj.Object(obj)])
	mask, _ := obj.MaskFor(l.mainQ)
	require.True(t, uavobj.EventLoggingPeriodic.In(mask))
	require.False(t, uavobj.EventUpdated.In(mask))

	// suppressed: the timer logs nothing and rearms
	l.processEvent(uavobj.Event{Obj: obj, InstID: uavobj.AllInstances, Kind: uavobj.EventLoggingPeriodic})
	require.Empty(t, e.log.took())
	require.Equal(t, onChangeArmed, l.logThrottle[uavobj.Object(obj)])
	mask, _ = obj.MaskFor(l.mainQ)
	require.True(t, uavobj.EventUpdated.In(mask))
}

func TestMetadataChangeRestartsTimer(t *testing.T) {
	e := newTestEnv(t, []memstore.Spec{{
		Name: "Attitude",
		Meta: uavobj.Metadata{TelemetryUpdateMode: uavobj.Periodic, TelemetryPeriod: time.Second},
	}})
	l := e.m.main
	obj := e.obj("Attitude")

	md := obj.Metadata()
	md.TelemetryPeriod = 2 * time.Second
	require.NoError(t, obj.SetMetadata(md))
	l.processEvent(uavobj.Event{Obj: obj.Meta(), Kind: uavobj.EventUpdated})

	p, ok := e.m.sched.PeriodFor(obj, l.mainQ, uavobj.EventUpdatedPeriodic)
	require.True(t, ok)
	require.Equal(t, 2*time.Second, p)

	// switching to manual disables the timer
	md.TelemetryUpdateMode = uavobj.Manual
	require.NoError(t, obj.SetMetadata(md))
	l.processEvent(uavobj.Event{Obj: obj.Meta(), Kind: uavobj.EventUpdated})
	p, ok = e.m.sched.PeriodFor(obj, l.mainQ, uavobj.EventUpdatedPeriodic)
	require.True(t, ok)
	require.Zero(t, p)
}

func TestUpdateObjectRejectsMeta(t *testing.T) {
	e := newTestEnv(t, []memstore.Spec{{Name: "Attitude"}})
	require.Panics(t, func() {
		e.m.main.updateObject(e.obj("Attitude.Meta"), uavobj.EventNone)
	})
}
