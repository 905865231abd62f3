// Package objlog persists object snapshots as JSON lines in a
// size-rotated file. Every line carries the log session id, so flights
// of one process stay attributable after rotation.
package objlog

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	uuid "github.com/satori/go.uuid"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/uavtalks/telem.go/pkg/uavobj"
)

// Config tunes the log file rotation.
type Config struct {
	// Path is the log file location.
	Path string
	// MaxSizeMB rotates the file beyond this size. Default 10.
	MaxSizeMB int
	// MaxBackups bounds the rotated files kept. Default 5.
	MaxBackups int
}

type record struct {
	Time    time.Time   `json:"t"`
	Session string      `json:"session"`
	Object  string      `json:"object"`
	ID      string      `json:"id"`
	Inst    uint16      `json:"inst"`
	Value   interface{} `json:"value,omitempty"`
}

// Log implements the telemetry object log.
type Log struct {
	session string

	mu  sync.Mutex
	out *lumberjack.Logger
	enc *json.Encoder
}

// New creates a Log writing to cfg.Path.
func New(cfg Config) *Log {
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 10
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}
	out := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
	}
	return &Log{
		session: uuid.NewV4().String(),
		out:     out,
		enc:     json.NewEncoder(out),
	}
}

// Session returns the log session id.
func (l *Log) Session() string {
	return l.session
}

// Record implements telemetry.ObjectLog.
func (l *Log) Record(obj uavobj.Object, inst uavobj.InstID) {
	value, err := obj.Get(inst)
	if err != nil {
		return
	}
	rec := record{
		Time:    time.Now(),
		Session: l.session,
		Object:  obj.Name(),
		ID:      fmt.Sprintf("%08x", uint32(obj.ID())),
		Inst:    uint16(inst),
		Value:   value,
	}
	l.mu.Lock()
	err = l.enc.Encode(&rec)
	l.mu.Unlock()
	if err != nil {
		glog.Warningf("objlog: write %s: %v", obj.Name(), err)
	}
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.out.Close()
}
