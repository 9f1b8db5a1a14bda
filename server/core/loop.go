package core

import (
	"context"
	"io"
	"log"
	"time"

	"github.com/automoto/cubes-mp/shared/ticks"
)

// GameLoop drives Server.Tick at a fixed rate until its context ends.
type GameLoop struct {
	server   *Server
	tickRate int
	logger   *log.Logger
}

func NewGameLoop(server *Server, tickRate int, logger *log.Logger) *GameLoop {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &GameLoop{
		server:   server,
		tickRate: tickRate,
		logger:   logger,
	}
}

// Run ticks the server until ctx is cancelled. A late ticker is made up with
// extra ticks, a few at a time. It returns the first fatal tick error.
func (g *GameLoop) Run(ctx context.Context) error {
	clock := ticks.NewClock(g.tickRate, 4, 0)
	ticker := time.NewTicker(clock.StepDuration())
	defer ticker.Stop()

	g.logger.Printf("[server] game loop started at %d ticks/second", g.tickRate)
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			g.logger.Printf("[server] game loop stopped at tick %d", g.server.CurrentTick())
			return nil
		case now := <-ticker.C:
			n := clock.Advance(now.Sub(last))
			last = now
			for i := 0; i < n; i++ {
				if err := g.server.Tick(); err != nil {
					return err
				}
			}
		}
	}
}
