// Package ground carries the shared configuration of ground-side
// tools: which broker announces vehicles, and how to reach one.
package ground

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"

	"github.com/uavtalks/telem.go/pkg/msgs"
	"github.com/uavtalks/telem.go/pkg/port"
	"github.com/uavtalks/telem.go/pkg/port/dial"
	"github.com/uavtalks/telem.go/pkg/port/mqtt"
)

// Config provides common options for connecting a vehicle.
type Config struct {
	// Vehicle names the vehicle to connect.
	Vehicle string
	// Address dials the vehicle directly, bypassing discovery.
	// e.g. ws://host:8080/telemetry or serial:///dev/ttyUSB0?baud=57600
	Address string
	// BrokerURL is the MQTT broker carrying vehicle announces.
	// e.g. mqtt://host:1883/uav/
	BrokerURL string
	// ObjectsFile optionally loads the vehicle's object set.
	ObjectsFile string
}

var defaultConfig = Config{
	BrokerURL: "mqtt://localhost:1883/uav/",
}

func init() {
	if val := os.Getenv("TELEM_VEHICLE"); val != "" {
		defaultConfig.Vehicle = val
	}
	if val := os.Getenv("TELEM_ADDRESS"); val != "" {
		defaultConfig.Address = val
	}
	if val := os.Getenv("TELEM_BROKER_URL"); val != "" {
		defaultConfig.BrokerURL = val
	}
	if val := os.Getenv("TELEM_OBJECTS"); val != "" {
		defaultConfig.ObjectsFile = val
	}
}

// SetupFlags sets up command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.Vehicle, "vehicle", defaultConfig.Vehicle, "Vehicle to connect.")
	flag.StringVar(&defaultConfig.Address, "addr", defaultConfig.Address, "Vehicle address, bypassing discovery.")
	flag.StringVar(&defaultConfig.BrokerURL, "broker", defaultConfig.BrokerURL, "MQTT broker URL for discovery.")
	flag.StringVar(&defaultConfig.ObjectsFile, "objects", defaultConfig.ObjectsFile, "Object set definition file.")
}

// Default gets the default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// Discover lists the vehicles announced on the broker.
func (c *Config) Discover(ctx context.Context) ([]*msgs.Announce, error) {
	return mqtt.Discover(ctx, c.BrokerURL, 0)
}

// Dial opens the telemetry port of a vehicle, preferring the direct
// address when one is configured.
func (c *Config) Dial(vehicle string) (port.Port, error) {
	if c.Address != "" {
		return dial.Open(c.Address)
	}
	if vehicle == "" {
		return nil, fmt.Errorf("no vehicle selected")
	}
	u, err := url.Parse(c.BrokerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid broker URL: %v", err)
	}
	q := u.Query()
	q.Set("vehicle", vehicle)
	u.RawQuery = q.Encode()
	return dial.Open(u.String())
}
