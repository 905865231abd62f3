// Package objcfg loads object set definitions from YAML files, so the
// vehicle daemon and the ground tools can share one description of the
// objects a vehicle carries.
//
// A definition file looks like:
//
//	objects:
//	  - name: AttitudeState
//	    telemetry: { mode: periodic, period: 1s }
//	    logging: { mode: manual }
//	  - name: ManualControlCommand
//	    priority: true
//	    telemetry: { mode: throttled, period: 250ms, acked: true }
package objcfg

import (
	"fmt"
	"io/ioutil"
	"time"

	yaml "gopkg.in/yaml.v2"

	"github.com/uavtalks/telem.go/pkg/uavobj"
	"github.com/uavtalks/telem.go/pkg/uavobj/memstore"
)

// File is the top level of a definition file.
type File struct {
	Objects []Entry `yaml:"objects"`
}

// Entry describes one object.
type Entry struct {
	Name string `yaml:"name"`
	// ID overrides the name-derived object id.
	ID        uint32 `yaml:"id,omitempty"`
	Priority  bool   `yaml:"priority,omitempty"`
	Instances int    `yaml:"instances,omitempty"`
	Telemetry Policy `yaml:"telemetry,omitempty"`
	Logging   Policy `yaml:"logging,omitempty"`
}

// Policy is one update policy of an object.
type Policy struct {
	Mode   string        `yaml:"mode,omitempty"`
	Period time.Duration `yaml:"period,omitempty"`
	Acked  bool          `yaml:"acked,omitempty"`
}

// Load reads a definition file.
func Load(path string) (*File, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse reads a definition from bytes.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, fmt.Errorf("objcfg: %v", err)
	}
	for i, e := range f.Objects {
		if e.Name == "" {
			return nil, fmt.Errorf("objcfg: object %d has no name", i)
		}
		if _, err := parseMode(e.Telemetry.Mode); err != nil {
			return nil, fmt.Errorf("objcfg: %s: telemetry: %v", e.Name, err)
		}
		if _, err := parseMode(e.Logging.Mode); err != nil {
			return nil, fmt.Errorf("objcfg: %s: logging: %v", e.Name, err)
		}
	}
	return &f, nil
}

// Register creates every object of the file in store. Values start
// nil and take whatever shape the peer sends.
func (f *File) Register(store *memstore.Store) error {
	for _, e := range f.Objects {
		tmode, _ := parseMode(e.Telemetry.Mode)
		lmode, _ := parseMode(e.Logging.Mode)
		_, err := store.Register(memstore.Spec{
			Name:      e.Name,
			ID:        uavobj.ID(e.ID),
			Priority:  e.Priority,
			Instances: e.Instances,
			Meta: uavobj.Metadata{
				TelemetryAcked:      e.Telemetry.Acked,
				TelemetryUpdateMode: tmode,
				TelemetryPeriod:     e.Telemetry.Period,
				LoggingUpdateMode:   lmode,
				LoggingPeriod:       e.Logging.Period,
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func parseMode(s string) (uavobj.UpdateMode, error) {
	switch s {
	case "", "manual":
		return uavobj.Manual, nil
	case "periodic":
		return uavobj.Periodic, nil
	case "onchange":
		return uavobj.OnChange, nil
	case "throttled":
		return uavobj.Throttled, nil
	}
	return 0, fmt.Errorf("unknown update mode %q", s)
}
