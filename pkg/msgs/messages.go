// Package msgs defines the broker-plane messages: vehicle presence
// and link status records published beside the telemetry byte
// stream. The messages are maintained by hand; field numbers are wire
// contract and must stay stable.
package msgs

import (
	"github.com/golang/protobuf/proto"
)

// Announce is the retained presence record of one vehicle process.
type Announce struct {
	Vehicle     string     `protobuf:"bytes,1,opt,name=vehicle" json:"vehicle,omitempty"`
	Machine     string     `protobuf:"bytes,2,opt,name=machine" json:"machine,omitempty"`
	Session     string     `protobuf:"bytes,3,opt,name=session" json:"session,omitempty"`
	StartedUnix int64      `protobuf:"varint,4,opt,name=started_unix,json=startedUnix" json:"started_unix,omitempty"`
	Topics      *TopicPair `protobuf:"bytes,5,opt,name=topics" json:"topics,omitempty"`
}

// Reset implements proto.Message.
func (m *Announce) Reset() { *m = Announce{} }

// String implements proto.Message.
func (m *Announce) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*Announce) ProtoMessage() {}

// TopicPair names the broker topics carrying the telemetry stream of
// one vehicle, from the vehicle's point of view.
type TopicPair struct {
	Up   string `protobuf:"bytes,1,opt,name=up" json:"up,omitempty"`
	Down string `protobuf:"bytes,2,opt,name=down" json:"down,omitempty"`
}

// Reset implements proto.Message.
func (m *TopicPair) Reset() { *m = TopicPair{} }

// String implements proto.Message.
func (m *TopicPair) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*TopicPair) ProtoMessage() {}

// LinkStatus is the periodic connection digest published for
// dashboards and the ground monitor.
type LinkStatus struct {
	Vehicle string  `protobuf:"bytes,1,opt,name=vehicle" json:"vehicle,omitempty"`
	State   string  `protobuf:"bytes,2,opt,name=state" json:"state,omitempty"`
	TxBytes uint32  `protobuf:"varint,3,opt,name=tx_bytes,json=txBytes" json:"tx_bytes,omitempty"`
	RxBytes uint32  `protobuf:"varint,4,opt,name=rx_bytes,json=rxBytes" json:"rx_bytes,omitempty"`
	TxRate  float64 `protobuf:"fixed64,5,opt,name=tx_rate,json=txRate" json:"tx_rate,omitempty"`
	RxRate  float64 `protobuf:"fixed64,6,opt,name=rx_rate,json=rxRate" json:"rx_rate,omitempty"`
}

// Reset implements proto.Message.
func (m *LinkStatus) Reset() { *m = LinkStatus{} }

// String implements proto.Message.
func (m *LinkStatus) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*LinkStatus) ProtoMessage() {}
