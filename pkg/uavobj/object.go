package uavobj

import (
	"errors"
	"time"
)

// ID identifies an object type.
type ID uint32

// InstID identifies one instance of an object.
type InstID uint16

// AllInstances addresses every instance of an object at once.
const AllInstances InstID = 0xffff

// UpdateMode governs when an object's value is automatically
// transmitted or logged. The zero value is Manual, which never
// produces automatic updates.
type UpdateMode uint8

const (
	// Manual sends only on explicit notification.
	Manual UpdateMode = iota
	// Periodic sends on a fixed timer.
	Periodic
	// OnChange sends whenever the value is written.
	OnChange
	// Throttled sends on change, then suppresses further change
	// sends until the object's timer fires.
	Throttled
)

func (m UpdateMode) String() string {
	switch m {
	case Manual:
		return "manual"
	case Periodic:
		return "periodic"
	case OnChange:
		return "onchange"
	case Throttled:
		return "throttled"
	}
	return "invalid"
}

// Metadata is the per-object dispatch policy.
type Metadata struct {
	// TelemetryAcked requires the peer to acknowledge transmitted values.
	TelemetryAcked bool
	// TelemetryUpdateMode governs automatic transmission.
	TelemetryUpdateMode UpdateMode
	// LoggingUpdateMode governs automatic log writes.
	LoggingUpdateMode UpdateMode
	// TelemetryPeriod is the transmit timer period for Periodic and
	// Throttled modes.
	TelemetryPeriod time.Duration
	// LoggingPeriod is the logging timer period.
	LoggingPeriod time.Duration
}

var (
	// ErrMetaObject indicates an operation not applicable to meta-objects.
	ErrMetaObject = errors.New("uavobj: meta-object")
	// ErrNoSuchInstance indicates an instance id out of range.
	ErrNoSuchInstance = errors.New("uavobj: no such instance")
	// ErrUnknownObject indicates an object id not in the registry.
	ErrUnknownObject = errors.New("uavobj: unknown object")
)

// Object is one shared state object held by the object store.
//
// A meta-object is the companion describing another object's Metadata;
// writing metadata through SetMetadata notifies the meta-object's
// subscribers, never the described object's.
type Object interface {
	ID() ID
	Name() string
	// IsMeta reports whether this is a meta-object.
	IsMeta() bool
	// Linked returns the object a meta-object describes, nil otherwise.
	Linked() Object
	// Meta returns the companion meta-object, nil for meta-objects.
	Meta() Object
	// IsPriority reports whether events for this object go to the
	// priority queue.
	IsPriority() bool
	NumInstances() int

	Metadata() Metadata
	SetMetadata(Metadata) error

	// Connect subscribes q to this object's events selected by mask,
	// replacing the mask of an existing subscription of q.
	Connect(q *Queue, mask EventMask) error
	// Disconnect removes q's subscription.
	Disconnect(q *Queue) error

	// Get returns the value of an instance.
	Get(inst InstID) (interface{}, error)
	// Set writes the value of an instance and notifies subscribers
	// with EventUpdated.
	Set(inst InstID, value interface{}) error
	// Unpack writes a value received from a remote peer and notifies
	// subscribers with EventUnpacked.
	Unpack(inst InstID, value interface{}) error
	// Updated notifies subscribers with EventUpdatedManual, forcing
	// transmission regardless of the update mode.
	Updated(inst InstID) error
	// RequestUpdate notifies subscribers with EventUpdateReq, asking
	// the peer for its value.
	RequestUpdate(inst InstID) error
}

// Registry is the object store view consumed by the dispatch core.
type Registry interface {
	// ForEach visits every registered object, meta-objects included.
	ForEach(fn func(Object))
	// Get finds an object by id.
	Get(id ID) (Object, bool)
	// GetByName finds an object by name.
	GetByName(name string) (Object, bool)
}
