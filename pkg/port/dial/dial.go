// Package dial opens telemetry ports from URL-style addresses, the
// ground-tool counterpart of the vehicle's configured port list.
//
// Supported forms:
//
//	serial:///dev/ttyUSB0?baud=57600
//	ws://host:8080/telemetry
//	mqtt://host:1883/prefix?vehicle=quad-1
//
// An MQTT address names the vehicle whose topic pair to join; the
// dialing side subscribes the down topic and publishes the up topic.
package dial

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/uavtalks/telem.go/pkg/port"
	"github.com/uavtalks/telem.go/pkg/port/mqtt"
	"github.com/uavtalks/telem.go/pkg/port/serial"
	"github.com/uavtalks/telem.go/pkg/port/ws"
)

// DefaultBaud is the serial line rate when the address names none.
const DefaultBaud = 57600

// Open opens the port an address describes.
func Open(addr string) (port.Port, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "serial":
		baud := uint(DefaultBaud)
		if s := u.Query().Get("baud"); s != "" {
			v, err := strconv.ParseUint(s, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("dial: bad baud %q: %v", s, err)
			}
			baud = uint(v)
		}
		return serial.Open(u.Path, baud)
	case "ws", "wss":
		return ws.Dial(addr)
	case "mqtt", "tcp", "ssl":
		vehicle := u.Query().Get("vehicle")
		if vehicle == "" {
			return nil, fmt.Errorf("dial: %q names no vehicle", addr)
		}
		q, err := mqtt.NewQueue(addr)
		if err != nil {
			return nil, err
		}
		if err := q.Connect(); err != nil {
			return nil, err
		}
		p := mqtt.NewPort(q, mqtt.DownTopic(vehicle), mqtt.UpTopic(vehicle))
		return &mqttPort{Port: p, queue: q}, nil
	}
	return nil, fmt.Errorf("dial: unsupported address %q", addr)
}

// mqttPort owns the queue it dialed and closes it with the port.
type mqttPort struct {
	*mqtt.Port
	queue *mqtt.Queue
}

func (p *mqttPort) Close() error {
	err := p.Port.Close()
	p.queue.Close()
	return err
}
