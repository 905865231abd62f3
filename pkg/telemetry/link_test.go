package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/uavtalks/telem.go/pkg/port"
	"github.com/uavtalks/telem.go/pkg/uavobj"
	"github.com/uavtalks/telem.go/pkg/uavobj/memstore"
)

// fakePort records sends and reports a switchable availability.
type fakePort struct {
	mu   sync.Mutex
	up   bool
	sent [][]byte
}

func (p *fakePort) Send(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, append([]byte(nil), b...))
	return len(b), nil
}

func (p *fakePort) Receive([]byte, time.Duration) (int, error) { return 0, nil }

func (p *fakePort) Close() error { return nil }

func (p *fakePort) Available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.up
}

func (p *fakePort) setUp(up bool) {
	p.mu.Lock()
	p.up = up
	p.mu.Unlock()
}

func (p *fakePort) sends() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func TestTransmitPriorityDrain(t *testing.T) {
	e := newTestEnv(t, []memstore.Spec{
		{Name: "Nav", Value: 0.0},
		{Name: "Attitude", Value: 0.0},
	})
	l := e.m.main
	nav := e.obj("Nav")
	att := e.obj("Attitude")

	// both queues are loaded before the task starts
	for i := 0; i < 3; i++ {
		require.True(t, l.mainQ.Post(uavobj.Event{
			Obj: att, InstID: uavobj.InstID(i), Kind: uavobj.EventUpdatedManual,
		}))
	}
	for i := 0; i < 3; i++ {
		require.True(t, l.prioQ.Post(uavobj.Event{
			Obj: nav, InstID: uavobj.InstID(i), Kind: uavobj.EventUpdatedManual,
		}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- (txTask{l}).Run(ctx) }()

	waitFor(t, "queued events dispatched", func() bool { return e.session.count() == 6 })

	// a late priority event still wakes the idle task
	require.True(t, l.prioQ.Post(uavobj.Event{
		Obj: nav, InstID: 3, Kind: uavobj.EventUpdatedManual,
	}))
	waitFor(t, "late priority event dispatched", func() bool { return e.session.count() == 7 })

	cancel()
	require.Equal(t, context.Canceled, <-done)

	// every priority event goes out before the first normal one
	require.Equal(t, []sessionCall{
		{"send", nav, 0, false},
		{"send", nav, 1, false},
		{"send", nav, 2, false},
		{"send", att, 0, false},
		{"send", att, 1, false},
		{"send", att, 2, false},
		{"send", nav, 3, false},
	}, e.session.took())
}

func TestTransmitSingleQueueDrain(t *testing.T) {
	e := newTestEnv(t, []memstore.Spec{{Name: "Attitude", Value: 0.0}},
		func(e *testEnv, cfg *Config) { cfg.NoPriorityQueue = true })
	l := e.m.main
	att := e.obj("Attitude")
	for i := 0; i < 2; i++ {
		require.True(t, l.mainQ.Post(uavobj.Event{
			Obj: att, InstID: uavobj.InstID(i), Kind: uavobj.EventUpdatedManual,
		}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- (txTask{l}).Run(ctx) }()
	waitFor(t, "queued events dispatched", func() bool { return e.session.count() == 2 })
	cancel()
	require.Equal(t, context.Canceled, <-done)

	require.Equal(t, []sessionCall{
		{"send", att, 0, false},
		{"send", att, 1, false},
	}, e.session.took())
}

func TestTransmitFollowsFirstUsablePort(t *testing.T) {
	serial := &fakePort{}
	radio := &fakePort{up: true}
	e := newTestEnv(t, nil, func(e *testEnv, cfg *Config) {
		cfg.Main.Ports = []port.Port{serial, radio}
	})
	l := e.m.main

	// the preferred port is down, the fallback carries the bytes
	n, err := l.transmit([]byte("abc"))
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, 1, radio.sends())
	require.Equal(t, radio, l.activePort())

	// once the preferred port comes back it wins again
	serial.setUp(true)
	_, err = l.transmit([]byte("d"))
	require.NoError(t, err)
	require.Equal(t, 1, serial.sends())
	require.Equal(t, serial, l.activePort())
}

func TestTransmitWithoutPort(t *testing.T) {
	down := &fakePort{}
	e := newTestEnv(t, nil, func(e *testEnv, cfg *Config) {
		cfg.Main.Ports = []port.Port{down}
	})
	l := e.m.main

	_, err := l.transmit([]byte("x"))
	require.Equal(t, errNoPort, err)
	require.Nil(t, l.activePort())
	require.Zero(t, down.sends())
}

func TestRxTaskFeedsSession(t *testing.T) {
	local, remote := port.Pipe()
	defer local.Close()
	e := newTestEnv(t, nil, func(e *testEnv, cfg *Config) {
		cfg.Main.Ports = []port.Port{local}
		cfg.RxTimeout = 10 * time.Millisecond
		cfg.IdleSleep = 5 * time.Millisecond
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- (rxTask{e.m.main}).Run(ctx) }()

	_, err := remote.Send([]byte("ok"))
	require.NoError(t, err)
	waitFor(t, "bytes fed to the session", func() bool {
		return string(e.session.received()) == "ok"
	})

	cancel()
	require.Equal(t, context.Canceled, <-done)
}
