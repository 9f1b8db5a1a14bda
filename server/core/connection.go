package core

import (
	"time"

	"github.com/automoto/cubes-mp/input"
	"github.com/automoto/cubes-mp/shared/netconfig"
	"golang.org/x/time/rate"
)

// ConnState is the lifecycle of one client connection.
type ConnState uint8

const (
	Connecting ConnState = iota + 1
	Connected
	Disconnected
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	}
	return "unknown"
}

type connection struct {
	id       netconfig.ClientID
	state    ConnState
	receiver *input.Receiver
	limiter  *rate.Limiter
	dropped  int
}

func newConnection(id netconfig.ClientID, opts Options) *connection {
	return &connection{
		id:       id,
		state:    Connecting,
		receiver: input.NewReceiver(opts.InputBuffer, opts.InputWindow),
		limiter:  rate.NewLimiter(rate.Limit(opts.InputRate), opts.InputBurst),
	}
}

// allowInput reports whether another input message fits the rate limit.
func (c *connection) allowInput(now time.Time) bool {
	if c.limiter.AllowN(now, 1) {
		return true
	}
	c.dropped++
	return false
}
