package telemetry

import (
	"time"

	"github.com/uavtalks/telem.go/pkg/uavobj"
	"github.com/uavtalks/telem.go/pkg/uavobj/memstore"
)

// Names of the bookkeeping objects in the store.
const (
	FlightStatsName = "FlightTelemetryStats"
	GCSStatsName    = "GCSTelemetryStats"
	SettingsName    = "TelemetrySettings"
)

// ConnState is the connection handshake state published in the status
// objects.
type ConnState uint8

const (
	// Disconnected is the resting state with no peer.
	Disconnected ConnState = iota
	// HandshakeReq is reported by a ground peer asking to connect.
	HandshakeReq
	// HandshakeAck is the vehicle's answer to HandshakeReq.
	HandshakeAck
	// Connected is the established state on both sides.
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case HandshakeReq:
		return "handshake-req"
	case HandshakeAck:
		return "handshake-ack"
	case Connected:
		return "connected"
	}
	return "invalid"
}

// FlightStats is the vehicle-side status object value. Lifetime
// counters accumulate only while Connected and restart from zero on
// every disconnect.
type FlightStats struct {
	Status       ConnState
	TxDataRate   float64
	TxBytes      uint32
	TxFailures   uint32
	TxRetries    uint32
	RxDataRate   float64
	RxBytes      uint32
	RxFailures   uint32
	RxSyncErrors uint32
	RxCrcErrors  uint32
}

// GroundStats is the ground-side status object value, written by the
// peer over the link.
type GroundStats struct {
	Status     ConnState
	TxDataRate float64
	TxBytes    uint32
	TxFailures uint32
	TxRetries  uint32
	RxDataRate float64
	RxBytes    uint32
	RxFailures uint32
}

// LinkSpeed enumerates the selectable main link line rates.
type LinkSpeed uint8

const (
	Speed2400 LinkSpeed = iota
	Speed4800
	Speed9600
	Speed19200
	Speed38400
	Speed57600
	Speed115200
)

// Baud returns the line rate in baud, or 0 for an invalid speed.
func (s LinkSpeed) Baud() uint32 {
	switch s {
	case Speed2400:
		return 2400
	case Speed4800:
		return 4800
	case Speed9600:
		return 9600
	case Speed19200:
		return 19200
	case Speed38400:
		return 38400
	case Speed57600:
		return 57600
	case Speed115200:
		return 115200
	}
	return 0
}

// LinkSettings is the settings object value applied to the main link.
type LinkSettings struct {
	Speed LinkSpeed
}

// StatusObjects are the bookkeeping objects the module publishes and
// watches.
type StatusObjects struct {
	// FlightStats is the local side, published to the peer.
	FlightStats uavobj.Object
	// GCSStats is the peer side, written by the peer.
	GCSStats uavobj.Object
	// Settings selects the main link line rate. Optional.
	Settings uavobj.Object
}

// flightStatsPeriod is the status object's own periodic send, a
// heartbeat beside the forced updates of the monitor.
const flightStatsPeriod = 5 * time.Second

// RegisterStatusObjects creates the bookkeeping objects in store.
func RegisterStatusObjects(store *memstore.Store) (StatusObjects, error) {
	flight, err := store.Register(memstore.Spec{
		Name:     FlightStatsName,
		Priority: true,
		Value:    FlightStats{},
		Meta: uavobj.Metadata{
			TelemetryAcked:      true,
			TelemetryUpdateMode: uavobj.Periodic,
			TelemetryPeriod:     flightStatsPeriod,
			LoggingUpdateMode:   uavobj.Manual,
		},
	})
	if err != nil {
		return StatusObjects{}, err
	}
	gcs, err := store.Register(memstore.Spec{
		Name:     GCSStatsName,
		Priority: true,
		Value:    GroundStats{},
		Meta: uavobj.Metadata{
			TelemetryAcked:      true,
			TelemetryUpdateMode: uavobj.Manual,
			LoggingUpdateMode:   uavobj.Manual,
		},
	})
	if err != nil {
		return StatusObjects{}, err
	}
	settings, err := store.Register(memstore.Spec{
		Name:     SettingsName,
		Priority: true,
		Value:    LinkSettings{Speed: Speed57600},
		Meta: uavobj.Metadata{
			TelemetryAcked:      true,
			TelemetryUpdateMode: uavobj.OnChange,
			LoggingUpdateMode:   uavobj.Manual,
		},
	})
	if err != nil {
		return StatusObjects{}, err
	}
	return StatusObjects{FlightStats: flight, GCSStats: gcs, Settings: settings}, nil
}
