package telemetry

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/uavtalks/telem.go/pkg/talk"
	"github.com/uavtalks/telem.go/pkg/uavobj"
)

func TestHandshake(t *testing.T) {
	testCases := []struct {
		name   string
		fs     ConnState
		gs     ConnState
		expect ConnState
	}{
		{"request is acknowledged", Disconnected, HandshakeReq, HandshakeAck},
		{"idle stays disconnected", Disconnected, Disconnected, Disconnected},
		{"connected peer is ignored while down", Disconnected, Connected, Disconnected},
		{"ack is confirmed", HandshakeAck, Connected, Connected},
		{"ack is withdrawn", HandshakeAck, Disconnected, Disconnected},
		{"ack waits for the peer", HandshakeAck, HandshakeReq, HandshakeAck},
		{"peer loss disconnects", Connected, Disconnected, Disconnected},
		{"unknown state resets", ConnState(9), Connected, Disconnected},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEnv(t, nil)
			e.setFlight(FlightStats{Status: tc.fs})
			e.setGCS(GroundStats{Status: tc.gs})
			e.m.updateTelemetryStats()
			require.Equal(t, tc.expect, e.flight().Status)
		})
	}
}

func TestHandshakeSequence(t *testing.T) {
	e := newTestEnv(t, nil)

	// the ground asks, the vehicle acknowledges
	e.setGCS(GroundStats{Status: HandshakeReq})
	e.m.updateTelemetryStats()
	require.Equal(t, HandshakeAck, e.flight().Status)

	// the ground confirms and traffic flows
	e.setGCS(GroundStats{Status: Connected})
	e.session.setStats(talk.Stats{RxObjects: 1})
	e.m.updateTelemetryStats()
	require.Equal(t, Connected, e.flight().Status)

	// silence for the timeout window tears the connection down
	e.now = e.now.Add(2 * defaultConnTimeout)
	e.m.updateTelemetryStats()
	require.Equal(t, Disconnected, e.flight().Status)

	// the next request starts the ladder again
	e.setGCS(GroundStats{Status: HandshakeReq})
	e.m.updateTelemetryStats()
	require.Equal(t, HandshakeAck, e.flight().Status)
}

func TestConnectedStaysWithTraffic(t *testing.T) {
	e := newTestEnv(t, nil)
	e.setFlight(FlightStats{Status: Connected})
	e.setGCS(GroundStats{Status: Connected})
	e.session.setStats(talk.Stats{RxObjects: 1})
	drain(e.m.main.prioQ)

	e.m.updateTelemetryStats()
	require.Equal(t, Connected, e.flight().Status)

	// a held connection publishes no forced update
	for _, ev := range drain(e.m.main.prioQ) {
		require.NotEqual(t, uavobj.EventUpdatedManual, ev.Kind)
	}

	// the alarm is cleared only while connected
	require.Equal(t, []string{AlarmTelemetryLink}, e.cleared)
}

func TestConnectionTimeout(t *testing.T) {
	e := newTestEnv(t, nil)
	e.setFlight(FlightStats{Status: Connected})
	e.setGCS(GroundStats{Status: Connected})

	// traffic now, silence later
	e.session.setStats(talk.Stats{RxObjects: 1})
	e.m.updateTelemetryStats()
	require.Equal(t, Connected, e.flight().Status)

	e.now = e.now.Add(defaultConnTimeout / 2)
	e.m.updateTelemetryStats()
	require.Equal(t, Connected, e.flight().Status)

	e.now = e.now.Add(defaultConnTimeout)
	e.m.updateTelemetryStats()
	require.Equal(t, Disconnected, e.flight().Status)
}

func TestStatsAccumulateWhileConnected(t *testing.T) {
	e := newTestEnv(t, nil)
	e.setFlight(FlightStats{Status: Connected, TxBytes: 10, RxBytes: 5})
	e.setGCS(GroundStats{Status: Connected})
	e.session.setStats(talk.Stats{
		TxBytes:      100,
		RxBytes:      50,
		RxErrors:     1,
		RxSyncErrors: 2,
		RxCrcErrors:  3,
		RxObjects:    4,
	})
	atomic.StoreUint32(&e.m.main.txErrors, 7)
	atomic.StoreUint32(&e.m.main.txRetries, 5)

	e.m.updateTelemetryStats()

	fs := e.flight()
	interval := defaultStatsInterval.Seconds()
	require.Equal(t, float64(100)/interval, fs.TxDataRate)
	require.Equal(t, uint32(110), fs.TxBytes)
	require.Equal(t, uint32(7), fs.TxFailures)
	require.Equal(t, uint32(5), fs.TxRetries)
	require.Equal(t, float64(50)/interval, fs.RxDataRate)
	require.Equal(t, uint32(55), fs.RxBytes)
	require.Equal(t, uint32(1), fs.RxFailures)
	require.Equal(t, uint32(2), fs.RxSyncErrors)
	require.Equal(t, uint32(3), fs.RxCrcErrors)

	// the link counters and session stats are drained by the read
	require.Zero(t, atomic.LoadUint32(&e.m.main.txErrors))
	require.Zero(t, atomic.LoadUint32(&e.m.main.txRetries))
	require.Equal(t, talk.Stats{}, e.session.Stats(false))
}

func TestStatsResetWhileDisconnected(t *testing.T) {
	e := newTestEnv(t, nil)
	e.setFlight(FlightStats{
		Status:     HandshakeAck,
		TxDataRate: 9,
		TxBytes:    10,
		TxFailures: 2,
		RxBytes:    5,
	})
	e.setGCS(GroundStats{Status: HandshakeReq})
	e.session.setStats(talk.Stats{TxBytes: 100, RxBytes: 50})

	e.m.updateTelemetryStats()

	fs := e.flight()
	require.Equal(t, HandshakeAck, fs.Status)
	require.Zero(t, fs.TxDataRate)
	require.Zero(t, fs.TxBytes)
	require.Zero(t, fs.TxFailures)
	require.Zero(t, fs.TxRetries)
	require.Zero(t, fs.RxDataRate)
	require.Zero(t, fs.RxBytes)
	require.Zero(t, fs.RxFailures)
	require.Empty(t, e.cleared, "no alarm clearing without a connection")
}

func TestStatsFoldBothLinks(t *testing.T) {
	e := newTestEnv(t, nil, withRadio)
	e.setFlight(FlightStats{Status: Connected})
	e.setGCS(GroundStats{Status: Connected})
	e.session.setStats(talk.Stats{TxBytes: 100, RxObjects: 1})
	e.radio.setStats(talk.Stats{TxBytes: 40, RxBytes: 8})
	atomic.StoreUint32(&e.m.radio.txErrors, 2)

	e.m.updateTelemetryStats()

	fs := e.flight()
	require.Equal(t, uint32(140), fs.TxBytes)
	require.Equal(t, uint32(8), fs.RxBytes)
	require.Equal(t, uint32(2), fs.TxFailures)
	require.Equal(t, talk.Stats{}, e.radio.Stats(false))
}

func TestPeerStatusGating(t *testing.T) {
	e := newTestEnv(t, nil)
	e.setFlight(FlightStats{Status: Connected})
	e.setGCS(GroundStats{Status: Connected})
	e.session.setStats(talk.Stats{TxBytes: 100, RxObjects: 1})

	// with both sides connected the kickoff defers to the stats tick
	e.m.gcsStatsUpdated()
	require.Equal(t, talk.Stats{TxBytes: 100, RxObjects: 1}, e.session.Stats(false))

	e.setGCS(GroundStats{Status: HandshakeReq})
	e.m.gcsStatsUpdated()
	require.Equal(t, talk.Stats{}, e.session.Stats(false), "the kickoff ran a stats pass")
}
