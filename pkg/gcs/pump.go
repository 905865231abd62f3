package gcs

import (
	"context"
	"time"

	"github.com/golang/glog"

	fx "github.com/uavtalks/telem.go/pkg/framework"
	"github.com/uavtalks/telem.go/pkg/port"
	"github.com/uavtalks/telem.go/pkg/talk"
)

const (
	pumpRxTimeout = 500 * time.Millisecond
	pumpIdleSleep = 100 * time.Millisecond
)

// Pump feeds inbound port bytes into a session.
type Pump struct {
	Session talk.Session
	Port    port.Port
	// Timeout bounds one blocking read, default 500ms.
	Timeout time.Duration
}

// Name implements framework.Named.
func (p *Pump) Name() string { return "gcs-rx" }

// Run implements framework.Runnable.
func (p *Pump) Run(ctx context.Context) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = pumpRxTimeout
	}
	buf := make([]byte, 256)
	for ctx.Err() == nil {
		n, err := p.Port.Receive(buf, timeout)
		if err != nil {
			if err == port.ErrClosed {
				return nil
			}
			glog.V(2).Infof("gcs: receive: %v", err)
			fx.Sleep(ctx, pumpIdleSleep)
			continue
		}
		for _, b := range buf[:n] {
			p.Session.ProcessByte(b)
		}
	}
	return ctx.Err()
}
