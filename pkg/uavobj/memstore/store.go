package memstore

import (
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/uavtalks/telem.go/pkg/uavobj"
)

// Spec describes one object to register.
type Spec struct {
	Name string
	// ID is derived from Name when zero.
	ID uavobj.ID
	// Priority routes the object's events to the priority queue.
	Priority bool
	// Instances is the instance count, at least 1.
	Instances int
	// Value is the initial value of every instance.
	Value interface{}
	// Meta is the initial dispatch policy.
	Meta uavobj.Metadata
}

// Store is an in-memory object registry. It implements uavobj.Registry.
type Store struct {
	mu      sync.RWMutex
	byID    map[uavobj.ID]*Object
	byName  map[string]*Object
	ordered []*Object
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		byID:   make(map[uavobj.ID]*Object),
		byName: make(map[string]*Object),
	}
}

// Register creates an object and its meta-object companion.
func (s *Store) Register(spec Spec) (*Object, error) {
	if spec.Instances <= 0 {
		spec.Instances = 1
	}
	id := spec.ID
	if id == 0 {
		id = nameID(spec.Name)
	}
	id &^= 1 // low bit marks the meta companion

	obj := &Object{
		store:    s,
		id:       id,
		name:     spec.Name,
		priority: spec.Priority,
		meta:     spec.Meta,
		values:   make([]interface{}, spec.Instances),
	}
	for i := range obj.values {
		obj.values[i] = spec.Value
	}
	obj.metaObj = &Object{
		store:  s,
		id:     id | 1,
		name:   spec.Name + ".Meta",
		linked: obj,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byName[spec.Name]; exists {
		return nil, fmt.Errorf("memstore: object %q already registered", spec.Name)
	}
	if _, exists := s.byID[id]; exists {
		return nil, fmt.Errorf("memstore: object id %08x already registered", id)
	}
	s.byID[id] = obj
	s.byID[obj.metaObj.id] = obj.metaObj
	s.byName[obj.name] = obj
	s.byName[obj.metaObj.name] = obj.metaObj
	s.ordered = append(s.ordered, obj, obj.metaObj)
	return obj, nil
}

// MustRegister is Register, panicking on error.
func (s *Store) MustRegister(spec Spec) *Object {
	obj, err := s.Register(spec)
	if err != nil {
		panic(err)
	}
	return obj
}

// ForEach implements Registry. Objects are visited in registration
// order, each followed by its meta-object.
func (s *Store) ForEach(fn func(uavobj.Object)) {
	s.mu.RLock()
	objs := make([]*Object, len(s.ordered))
	copy(objs, s.ordered)
	s.mu.RUnlock()
	for _, obj := range objs {
		fn(obj)
	}
}

// Get implements Registry.
func (s *Store) Get(id uavobj.ID) (uavobj.Object, bool) {
	s.mu.RLock()
	obj, ok := s.byID[id]
	s.mu.RUnlock()
	return obj, ok
}

// GetByName implements Registry.
func (s *Store) GetByName(name string) (uavobj.Object, bool) {
	s.mu.RLock()
	obj, ok := s.byName[name]
	s.mu.RUnlock()
	return obj, ok
}

func nameID(name string) uavobj.ID {
	h := fnv.New32a()
	h.Write([]byte(name))
	return uavobj.ID(h.Sum32())
}

// Object implements uavobj.Object. A meta-object's single instance
// value is the described object's Metadata.
type Object struct {
	store    *Store
	id       uavobj.ID
	name     string
	priority bool
	linked   *Object // set on meta-objects only
	metaObj  *Object

	mu     sync.Mutex
	meta   uavobj.Metadata
	values []interface{}
	subs   map[*uavobj.Queue]uavobj.EventMask
}

// ID implements Object.
func (o *Object) ID() uavobj.ID { return o.id }

// Name implements Object.
func (o *Object) Name() string { return o.name }

// IsMeta implements Object.
func (o *Object) IsMeta() bool { return o.linked != nil }

// Linked implements Object.
func (o *Object) Linked() uavobj.Object {
	if o.linked == nil {
		return nil
	}
	return o.linked
}

// Meta implements Object.
func (o *Object) Meta() uavobj.Object {
	if o.metaObj == nil {
		return nil
	}
	return o.metaObj
}

// IsPriority implements Object. Meta-objects share the described
// object's priority.
func (o *Object) IsPriority() bool {
	if o.linked != nil {
		return o.linked.priority
	}
	return o.priority
}

// NumInstances implements Object.
func (o *Object) NumInstances() int {
	if o.linked != nil {
		return 1
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.values)
}

// metaObjectMetadata is the fixed policy of every meta-object:
// metadata changes are transmitted reliably as they happen.
var metaObjectMetadata = uavobj.Metadata{
	TelemetryAcked:      true,
	TelemetryUpdateMode: uavobj.OnChange,
	LoggingUpdateMode:   uavobj.Manual,
}

// Metadata implements Object.
func (o *Object) Metadata() uavobj.Metadata {
	if o.linked != nil {
		return metaObjectMetadata
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.meta
}

// SetMetadata implements Object. The write notifies the meta-object's
// subscribers.
func (o *Object) SetMetadata(m uavobj.Metadata) error {
	return o.setMetadata(m, uavobj.EventUpdated)
}

func (o *Object) setMetadata(m uavobj.Metadata, kind uavobj.EventKind) error {
	if o.linked != nil {
		return uavobj.ErrMetaObject
	}
	o.mu.Lock()
	o.meta = m
	o.mu.Unlock()
	o.metaObj.notify(0, kind)
	return nil
}

// Connect implements Object.
func (o *Object) Connect(q *uavobj.Queue, mask uavobj.EventMask) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.subs == nil {
		o.subs = make(map[*uavobj.Queue]uavobj.EventMask)
	}
	o.subs[q] = mask
	return nil
}

// Disconnect implements Object.
func (o *Object) Disconnect(q *uavobj.Queue) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.subs, q)
	return nil
}

// MaskFor returns the event mask of q's subscription, if any.
func (o *Object) MaskFor(q *uavobj.Queue) (uavobj.EventMask, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	mask, ok := o.subs[q]
	return mask, ok
}

// Get implements Object. For meta-objects the value is the described
// object's Metadata.
func (o *Object) Get(inst uavobj.InstID) (interface{}, error) {
	if o.linked != nil {
		if inst != 0 {
			return nil, uavobj.ErrNoSuchInstance
		}
		return o.linked.Metadata(), nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if int(inst) >= len(o.values) {
		return nil, uavobj.ErrNoSuchInstance
	}
	return o.values[inst], nil
}

// Set implements Object. Writing a meta-object's value replaces the
// described object's Metadata.
func (o *Object) Set(inst uavobj.InstID, value interface{}) error {
	return o.apply(inst, value, uavobj.EventUpdated)
}

// Unpack implements Object. It is the write path for values received
// over a link.
func (o *Object) Unpack(inst uavobj.InstID, value interface{}) error {
	return o.apply(inst, value, uavobj.EventUnpacked)
}

func (o *Object) apply(inst uavobj.InstID, value interface{}, kind uavobj.EventKind) error {
	if o.linked != nil {
		if inst != 0 {
			return uavobj.ErrNoSuchInstance
		}
		m, ok := value.(uavobj.Metadata)
		if !ok {
			return fmt.Errorf("memstore: %s: metadata value expected", o.name)
		}
		return o.linked.setMetadata(m, kind)
	}
	o.mu.Lock()
	if int(inst) >= len(o.values) {
		o.mu.Unlock()
		return uavobj.ErrNoSuchInstance
	}
	o.values[inst] = value
	o.mu.Unlock()
	o.notify(inst, kind)
	return nil
}

// Updated implements Object.
func (o *Object) Updated(inst uavobj.InstID) error {
	o.notify(inst, uavobj.EventUpdatedManual)
	return nil
}

// RequestUpdate implements Object.
func (o *Object) RequestUpdate(inst uavobj.InstID) error {
	o.notify(inst, uavobj.EventUpdateReq)
	return nil
}

func (o *Object) notify(inst uavobj.InstID, kind uavobj.EventKind) {
	o.mu.Lock()
	queues := make([]*uavobj.Queue, 0, len(o.subs))
	for q, mask := range o.subs {
		if kind.In(mask) {
			queues = append(queues, q)
		}
	}
	o.mu.Unlock()
	ev := uavobj.Event{Obj: o, InstID: inst, Kind: kind}
	for _, q := range queues {
		q.Post(ev)
	}
}
