package linetalk

import (
	"fmt"
	"hash/crc32"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/uavtalks/telem.go/pkg/talk"
	"github.com/uavtalks/telem.go/pkg/uavobj"
	"github.com/uavtalks/telem.go/pkg/uavobj/memstore"
)

type attitude struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
}

// testEnv cross-wires two sessions: bytes transmitted by one are fed
// straight into the other. Outbound frames of the local session can be
// dropped or mangled to exercise the loss paths.
type testEnv struct {
	t           *testing.T
	local       *Session
	remote      *Session
	localStore  *memstore.Store
	remoteStore *memstore.Store

	dropOutbound bool
	mangle       func([]byte) []byte
}

func newTestEnv(t *testing.T) *testEnv {
	e := &testEnv{t: t, localStore: memstore.New(), remoteStore: memstore.New()}
	e.local = New(e.localStore, func(p []byte) (int, error) {
		if e.dropOutbound {
			return len(p), nil
		}
		if e.mangle != nil {
			p = e.mangle(p)
		}
		return e.feed(e.remote, p)
	})
	e.remote = New(e.remoteStore, func(p []byte) (int, error) {
		return e.feed(e.local, p)
	})
	return e
}

func (e *testEnv) feed(s *Session, p []byte) (int, error) {
	for _, b := range p {
		if err := s.ProcessByte(b); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (e *testEnv) register(spec memstore.Spec) (local, remote *memstore.Object) {
	local = e.localStore.MustRegister(spec)
	remote = e.remoteStore.MustRegister(spec)
	require.Equal(e.t, local.ID(), remote.ID())
	return local, remote
}

// rawLine frames body the way the peer would.
func rawLine(body string) []byte {
	return []byte(fmt.Sprintf("%08x%s\n", crc32.ChecksumIEEE([]byte(body)), body))
}

func TestSendUnacked(t *testing.T) {
	e := newTestEnv(t)
	lObj, rObj := e.register(memstore.Spec{Name: "Attitude", Value: attitude{}})

	q := uavobj.NewQueue(4)
	require.NoError(t, rObj.Connect(q, uavobj.MaskAllUpdates))

	want := attitude{Roll: 1.5, Pitch: -0.25}
	require.NoError(t, lObj.Set(0, want))
	require.NoError(t, e.local.SendObject(lObj, 0, false, time.Second))

	v, err := rObj.Get(0)
	require.NoError(t, err)
	require.Equal(t, want, v, "typed values survive the round trip")

	ev, ok := q.TryReceive()
	require.True(t, ok)
	require.Equal(t, uavobj.EventUnpacked, ev.Kind, "link writes must not look like local ones")

	ls, rs := e.local.Stats(false), e.remote.Stats(false)
	require.NotZero(t, ls.TxBytes)
	require.Equal(t, ls.TxBytes, rs.RxBytes)
	require.Equal(t, uint32(1), rs.RxObjects)
	require.Zero(t, rs.RxErrors)
}

func TestSendAcked(t *testing.T) {
	e := newTestEnv(t)
	lObj, rObj := e.register(memstore.Spec{Name: "Attitude", Value: attitude{}})

	require.NoError(t, lObj.Set(0, attitude{Roll: 2}))
	require.NoError(t, e.local.SendObject(lObj, 0, true, time.Second))

	v, err := rObj.Get(0)
	require.NoError(t, err)
	require.Equal(t, attitude{Roll: 2}, v)

	// the ack is not an object
	require.Zero(t, e.local.Stats(false).RxObjects)
	require.Empty(t, e.local.acks)
}

func TestSendAckTimeout(t *testing.T) {
	e := newTestEnv(t)
	lObj, _ := e.register(memstore.Spec{Name: "Attitude", Value: attitude{}})
	e.dropOutbound = true

	err := e.local.SendObject(lObj, 0, true, 10*time.Millisecond)
	require.Equal(t, talk.ErrTimeout, err)
	require.Empty(t, e.local.acks, "abandoned acks must not leak")
}

func TestRequest(t *testing.T) {
	e := newTestEnv(t)
	lObj, rObj := e.register(memstore.Spec{Name: "Attitude", Value: attitude{}})

	want := attitude{Roll: 3, Pitch: 1}
	require.NoError(t, rObj.Set(0, want))
	require.NoError(t, e.local.RequestObject(lObj, 0, time.Second))

	v, err := lObj.Get(0)
	require.NoError(t, err)
	require.Equal(t, want, v)
	require.Equal(t, uint32(1), e.local.Stats(false).RxObjects)
}

func TestRequestTimeout(t *testing.T) {
	e := newTestEnv(t)
	lObj, _ := e.register(memstore.Spec{Name: "Attitude", Value: attitude{}})
	e.dropOutbound = true
	err := e.local.RequestObject(lObj, 0, 10*time.Millisecond)
	require.Equal(t, talk.ErrTimeout, err)
}

func TestAllInstances(t *testing.T) {
	e := newTestEnv(t)
	lObj, rObj := e.register(memstore.Spec{Name: "Cell", Instances: 3, Value: attitude{}})

	for i := 0; i < 3; i++ {
		require.NoError(t, lObj.Set(uavobj.InstID(i), attitude{Roll: float64(i)}))
	}
	require.NoError(t, e.local.SendObject(lObj, uavobj.AllInstances, false, time.Second))

	for i := 0; i < 3; i++ {
		v, err := rObj.Get(uavobj.InstID(i))
		require.NoError(t, err)
		require.Equal(t, attitude{Roll: float64(i)}, v)
	}
	require.Equal(t, uint32(1), e.remote.Stats(false).RxObjects)

	// requesting all instances serves them all in one frame
	require.NoError(t, rObj.Set(1, attitude{Pitch: 9}))
	require.NoError(t, e.local.RequestObject(lObj, uavobj.AllInstances, time.Second))
	v, err := lObj.Get(1)
	require.NoError(t, err)
	require.Equal(t, attitude{Pitch: 9}, v)
}

func TestMetaRoundtrip(t *testing.T) {
	e := newTestEnv(t)
	lObj, rObj := e.register(memstore.Spec{Name: "Attitude", Value: attitude{}})

	md := uavobj.Metadata{
		TelemetryAcked:      true,
		TelemetryUpdateMode: uavobj.Throttled,
		TelemetryPeriod:     2 * time.Second,
	}
	require.NoError(t, lObj.SetMetadata(md))
	require.NoError(t, e.local.SendObject(lObj.Meta(), 0, true, time.Second))
	require.Equal(t, md, rObj.Metadata())
}

func TestCorruptFrame(t *testing.T) {
	e := newTestEnv(t)
	lObj, rObj := e.register(memstore.Spec{Name: "Attitude", Value: attitude{}})
	e.mangle = func(p []byte) []byte {
		out := make([]byte, len(p))
		copy(out, p)
		out[crcLen+1] ^= 0xff
		return out
	}

	require.NoError(t, lObj.Set(0, attitude{Roll: 4}))
	require.NoError(t, e.local.SendObject(lObj, 0, false, time.Second))

	require.Equal(t, uint32(1), e.remote.Stats(false).RxCrcErrors)
	v, err := rObj.Get(0)
	require.NoError(t, err)
	require.Equal(t, attitude{}, v, "corrupt frames must not be applied")
}

func TestMalformedInput(t *testing.T) {
	testCases := []struct {
		name  string
		line  []byte
		check func(st talk.Stats)
	}{
		{"empty line", []byte("\n"), func(st talk.Stats) {
			require.Equal(t, talk.Stats{RxBytes: 1}, st)
		}},
		{"short line", []byte("abc\n"), func(st talk.Stats) {
			require.Equal(t, uint32(1), st.RxSyncErrors)
		}},
		{"bad crc digits", []byte("zzzzzzzz{}\n"), func(st talk.Stats) {
			require.Equal(t, uint32(1), st.RxSyncErrors)
		}},
		{"crc mismatch", []byte("00000000{\"op\":\"set\"}\n"), func(st talk.Stats) {
			require.Equal(t, uint32(1), st.RxCrcErrors)
		}},
		{"not json", rawLine("notjson"), func(st talk.Stats) {
			require.Equal(t, uint32(1), st.RxErrors)
		}},
		{"unknown op", rawLine(`{"op":"nop"}`), func(st talk.Stats) {
			require.Equal(t, uint32(1), st.RxErrors)
		}},
		{"unknown object", rawLine(`{"op":"set","id":3735928558,"inst":0,"data":{}}`), func(st talk.Stats) {
			require.Equal(t, uint32(1), st.RxErrors)
		}},
		{"request for unknown object", rawLine(`{"op":"req","id":3735928558,"inst":0}`), func(st talk.Stats) {
			require.Equal(t, uint32(1), st.RxErrors)
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEnv(t)
			e.register(memstore.Spec{Name: "Attitude", Value: attitude{}})
			_, err := e.feed(e.remote, tc.line)
			require.NoError(t, err)
			tc.check(e.remote.Stats(false))
		})
	}
}

func TestResync(t *testing.T) {
	e := newTestEnv(t)
	lObj, rObj := e.register(memstore.Spec{Name: "Attitude", Value: attitude{}})

	// overrun the frame buffer, then garbage until the next newline
	junk := make([]byte, crcLen+maxFrame+16)
	for i := range junk {
		junk[i] = 'a'
	}
	_, err := e.feed(e.remote, junk)
	require.NoError(t, err)
	require.Equal(t, uint32(1), e.remote.Stats(false).RxSyncErrors)

	_, err = e.feed(e.remote, []byte("moregarbage\n"))
	require.NoError(t, err)

	// framing recovers on the newline
	require.NoError(t, lObj.Set(0, attitude{Pitch: 2}))
	require.NoError(t, e.local.SendObject(lObj, 0, false, time.Second))
	v, err := rObj.Get(0)
	require.NoError(t, err)
	require.Equal(t, attitude{Pitch: 2}, v)
	require.Equal(t, uint32(1), e.remote.Stats(false).RxSyncErrors, "the dropped line is one sync error, not many")
}

func TestStatsClear(t *testing.T) {
	e := newTestEnv(t)
	lObj, _ := e.register(memstore.Spec{Name: "Attitude", Value: attitude{}})
	require.NoError(t, e.local.SendObject(lObj, 0, false, time.Second))

	st := e.local.Stats(false)
	require.NotZero(t, st.TxBytes)
	require.Equal(t, st, e.local.Stats(true), "peeking does not clear")
	require.Equal(t, talk.Stats{}, e.local.Stats(false))
}
