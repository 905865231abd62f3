// Package linetalk implements a line framed telemetry dialect.
//
// Every frame is one line: an 8 digit lowercase hex CRC32 (IEEE) of
// the body, the JSON body, a trailing newline. Three operations
// exist: "set" carries an object value and optionally demands an
// acknowledge, "req" asks the peer to serve its value, "ack" answers
// an acknowledged set. A request is satisfied by any inbound set of
// the same object and instance; unknown objects are served by
// silence and the requester times out.
package linetalk

import (
	"encoding/json"
	"fmt"
	"hash/crc32"
	"reflect"
	"strconv"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/uavtalks/telem.go/pkg/talk"
	"github.com/uavtalks/telem.go/pkg/uavobj"
)

const (
	opSet = "set"
	opReq = "req"
	opAck = "ack"

	crcLen = 8
	// maxFrame bounds the body length accepted before the decoder
	// declares loss of framing and resynchronizes on a newline.
	maxFrame = 16 << 10
)

type frame struct {
	Op   string          `json:"op"`
	ID   uint32          `json:"id"`
	Inst uint16          `json:"inst"`
	Seq  uint32          `json:"seq,omitempty"`
	Ack  bool            `json:"ack,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type reqKey struct {
	id   uavobj.ID
	inst uavobj.InstID
}

// Session implements talk.Session over a line transport. It is safe
// for concurrent use by one transmit and one receive task.
type Session struct {
	reg uavobj.Registry
	tx  talk.TransmitFunc

	txMu sync.Mutex

	mu     sync.Mutex
	stats  talk.Stats
	seq    uint32
	acks   map[uint32]chan struct{}
	reqs   map[reqKey]chan struct{}
	rxBuf  []byte
	rxDrop bool
}

// New creates a session resolving inbound objects in reg and writing
// outbound frames through tx.
func New(reg uavobj.Registry, tx talk.TransmitFunc) *Session {
	return &Session{
		reg:  reg,
		tx:   tx,
		acks: make(map[uint32]chan struct{}),
		reqs: make(map[reqKey]chan struct{}),
	}
}

// SendObject implements talk.Session. With inst set to AllInstances
// the frame carries an array of every instance value.
func (s *Session) SendObject(obj uavobj.Object, inst uavobj.InstID, acked bool, timeout time.Duration) error {
	data, err := s.marshalValue(obj, inst)
	if err != nil {
		return err
	}
	f := frame{Op: opSet, ID: uint32(obj.ID()), Inst: uint16(inst), Ack: acked, Data: data}
	if !acked {
		return s.send(f)
	}

	ch := make(chan struct{})
	s.mu.Lock()
	s.seq++
	f.Seq = s.seq
	s.acks[f.Seq] = ch
	s.mu.Unlock()

	if err := s.send(f); err != nil {
		s.dropAck(f.Seq)
		return err
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ch:
		return nil
	case <-t.C:
		s.dropAck(f.Seq)
		return talk.ErrTimeout
	}
}

// RequestObject implements talk.Session.
func (s *Session) RequestObject(obj uavobj.Object, inst uavobj.InstID, timeout time.Duration) error {
	key := reqKey{obj.ID(), inst}
	s.mu.Lock()
	ch, ok := s.reqs[key]
	if !ok {
		ch = make(chan struct{})
		s.reqs[key] = ch
	}
	s.mu.Unlock()

	if err := s.send(frame{Op: opReq, ID: uint32(obj.ID()), Inst: uint16(inst)}); err != nil {
		return err
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ch:
		return nil
	case <-t.C:
		return talk.ErrTimeout
	}
}

// ProcessByte implements talk.Session. The returned error reports a
// transmit failure while answering the frame; malformed input is
// counted, never returned.
func (s *Session) ProcessByte(b byte) error {
	s.mu.Lock()
	s.stats.RxBytes++
	if s.rxDrop {
		if b == '\n' {
			s.rxDrop = false
			s.rxBuf = s.rxBuf[:0]
		}
		s.mu.Unlock()
		return nil
	}
	if b != '\n' {
		s.rxBuf = append(s.rxBuf, b)
		if len(s.rxBuf) > crcLen+maxFrame {
			s.rxDrop = true
			s.rxBuf = s.rxBuf[:0]
			s.stats.RxSyncErrors++
		}
		s.mu.Unlock()
		return nil
	}
	line := make([]byte, len(s.rxBuf))
	copy(line, s.rxBuf)
	s.rxBuf = s.rxBuf[:0]
	s.mu.Unlock()
	if len(line) == 0 {
		return nil
	}
	return s.handleLine(line)
}

// Stats implements talk.Session.
func (s *Session) Stats(clear bool) talk.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	if clear {
		s.stats = talk.Stats{}
	}
	return st
}

func (s *Session) handleLine(line []byte) error {
	if len(line) <= crcLen {
		s.count(func(st *talk.Stats) { st.RxSyncErrors++ })
		return nil
	}
	want, err := strconv.ParseUint(string(line[:crcLen]), 16, 32)
	if err != nil {
		s.count(func(st *talk.Stats) { st.RxSyncErrors++ })
		return nil
	}
	body := line[crcLen:]
	if crc32.ChecksumIEEE(body) != uint32(want) {
		s.count(func(st *talk.Stats) { st.RxCrcErrors++ })
		return nil
	}
	var f frame
	if err := json.Unmarshal(body, &f); err != nil {
		glog.V(2).Infof("linetalk: bad frame: %v", err)
		s.count(func(st *talk.Stats) { st.RxErrors++ })
		return nil
	}
	glog.V(4).Infof("linetalk: RCV %s %08x/%d", f.Op, f.ID, f.Inst)
	switch f.Op {
	case opSet:
		return s.handleSet(&f)
	case opReq:
		return s.handleReq(&f)
	case opAck:
		s.mu.Lock()
		if ch, ok := s.acks[f.Seq]; ok {
			close(ch)
			delete(s.acks, f.Seq)
		}
		s.mu.Unlock()
		return nil
	default:
		s.count(func(st *talk.Stats) { st.RxErrors++ })
		return nil
	}
}

func (s *Session) handleSet(f *frame) error {
	obj, ok := s.reg.Get(uavobj.ID(f.ID))
	if !ok {
		s.count(func(st *talk.Stats) { st.RxErrors++ })
		return nil
	}
	inst := uavobj.InstID(f.Inst)
	if err := s.applyValue(obj, inst, f.Data); err != nil {
		glog.V(2).Infof("linetalk: apply %s: %v", obj.Name(), err)
		s.count(func(st *talk.Stats) { st.RxErrors++ })
		return nil
	}
	s.mu.Lock()
	s.stats.RxObjects++
	key := reqKey{obj.ID(), inst}
	if ch, ok := s.reqs[key]; ok {
		close(ch)
		delete(s.reqs, key)
	}
	s.mu.Unlock()
	if f.Ack {
		return s.send(frame{Op: opAck, ID: f.ID, Inst: f.Inst, Seq: f.Seq})
	}
	return nil
}

func (s *Session) handleReq(f *frame) error {
	obj, ok := s.reg.Get(uavobj.ID(f.ID))
	if !ok {
		s.count(func(st *talk.Stats) { st.RxErrors++ })
		return nil
	}
	data, err := s.marshalValue(obj, uavobj.InstID(f.Inst))
	if err != nil {
		s.count(func(st *talk.Stats) { st.RxErrors++ })
		return nil
	}
	return s.send(frame{Op: opSet, ID: f.ID, Inst: f.Inst, Data: data})
}

func (s *Session) send(f frame) error {
	body, err := json.Marshal(&f)
	if err != nil {
		return err
	}
	line := make([]byte, 0, crcLen+len(body)+1)
	line = append(line, fmt.Sprintf("%08x", crc32.ChecksumIEEE(body))...)
	line = append(line, body...)
	line = append(line, '\n')

	glog.V(4).Infof("linetalk: SND %s %08x/%d", f.Op, f.ID, f.Inst)
	s.txMu.Lock()
	n, err := s.tx(line)
	s.txMu.Unlock()
	s.count(func(st *talk.Stats) { st.TxBytes += uint32(n) })
	return err
}

func (s *Session) dropAck(seq uint32) {
	s.mu.Lock()
	delete(s.acks, seq)
	s.mu.Unlock()
}

func (s *Session) count(f func(*talk.Stats)) {
	s.mu.Lock()
	f(&s.stats)
	s.mu.Unlock()
}

func (s *Session) marshalValue(obj uavobj.Object, inst uavobj.InstID) (json.RawMessage, error) {
	if inst == uavobj.AllInstances {
		n := obj.NumInstances()
		vals := make([]interface{}, n)
		for i := 0; i < n; i++ {
			v, err := obj.Get(uavobj.InstID(i))
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		return json.Marshal(vals)
	}
	v, err := obj.Get(inst)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func (s *Session) applyValue(obj uavobj.Object, inst uavobj.InstID, data json.RawMessage) error {
	if inst == uavobj.AllInstances {
		var elems []json.RawMessage
		if err := json.Unmarshal(data, &elems); err != nil {
			return err
		}
		for i, elem := range elems {
			if err := decodeInto(obj, uavobj.InstID(i), elem); err != nil {
				return err
			}
		}
		return nil
	}
	return decodeInto(obj, inst, data)
}

// decodeInto unmarshals data into a fresh value of the instance's
// current type, so registered value types survive the round trip.
func decodeInto(obj uavobj.Object, inst uavobj.InstID, data json.RawMessage) error {
	proto, err := obj.Get(inst)
	if err != nil {
		return err
	}
	if proto == nil {
		var v interface{}
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		return obj.Unpack(inst, v)
	}
	rv := reflect.New(reflect.TypeOf(proto))
	if err := json.Unmarshal(data, rv.Interface()); err != nil {
		return err
	}
	return obj.Unpack(inst, rv.Elem().Interface())
}
