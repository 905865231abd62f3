// Package env reads facts about the process environment.
package env

import (
	"os"

	"github.com/denisbrodbeck/machineid"
)

// MachineID identifies the host machine stably across restarts,
// falling back to the hostname when the machine id is unreadable.
func MachineID() string {
	if id, err := machineid.ID(); err == nil {
		return id
	}
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}
