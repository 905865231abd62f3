package mqtt

import (
	"context"
	"time"

	"github.com/golang/glog"
	"github.com/golang/protobuf/proto"

	"github.com/uavtalks/telem.go/pkg/msgs"
)

// AnnounceTopic returns the retained presence topic for a vehicle.
func AnnounceTopic(vehicle string) string {
	return vehicle + "/meta"
}

// Announcer keeps a retained presence record on the broker so ground
// tools can discover the vehicle. The record is republished after
// every reconnect and cleared on shutdown; the queue's client options
// should carry a will clearing the same topic for unclean drops.
type Announcer struct {
	queue   *Queue
	topic   string
	payload []byte
}

// NewAnnouncer creates an Announcer on an existing queue.
func NewAnnouncer(q *Queue, ann *msgs.Announce) (*Announcer, error) {
	payload, err := proto.Marshal(ann)
	if err != nil {
		return nil, err
	}
	a := &Announcer{queue: q, topic: AnnounceTopic(ann.Vehicle), payload: payload}
	q.OnConnect = func(*Queue) { a.publish() }
	return a, nil
}

// Name implements framework.Named.
func (a *Announcer) Name() string { return "announcer" }

// Run implements framework.Runnable. It publishes the presence record,
// waits for shutdown, and clears the record.
func (a *Announcer) Run(ctx context.Context) error {
	a.publish()
	<-ctx.Done()
	if err := a.queue.Announce(a.topic, nil); err != nil {
		glog.V(2).Infof("mqtt: clear announce: %v", err)
	}
	return nil
}

func (a *Announcer) publish() {
	if err := a.queue.Announce(a.topic, a.payload); err != nil {
		glog.Errorf("mqtt: announce: %v", err)
	}
}

// DefaultDiscoverTimeout bounds one Discover pass.
const DefaultDiscoverTimeout = 500 * time.Millisecond

// Discover collects the vehicles currently announced on the broker.
func Discover(ctx context.Context, brokerURL string, timeout time.Duration) ([]*msgs.Announce, error) {
	q, err := NewQueue(brokerURL)
	if err != nil {
		return nil, err
	}
	if err := q.Connect(); err != nil {
		return nil, err
	}
	defer q.Close()

	if timeout <= 0 {
		timeout = DefaultDiscoverTimeout
	}
	resCh := make(chan *msgs.Announce, 8)
	sub := q.Sub("+/meta", func(topic string, payload []byte) {
		if len(payload) == 0 {
			// cleared record of a departed vehicle
			return
		}
		var ann msgs.Announce
		if err := proto.Unmarshal(payload, &ann); err != nil {
			glog.V(2).Infof("mqtt: bad announce on %q: %v", topic, err)
			return
		}
		select {
		case resCh <- &ann:
		case <-time.After(time.Second):
		}
	})
	defer sub.Close()

	var res []*msgs.Announce
	deadline := time.After(timeout)
	for {
		select {
		case ann := <-resCh:
			res = append(res, ann)
		case <-deadline:
			return res, nil
		case <-ctx.Done():
			return res, ctx.Err()
		}
	}
}
