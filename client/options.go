package client

import (
	"log"

	"github.com/automoto/cubes-mp/config"
	"github.com/automoto/cubes-mp/input"
	"github.com/automoto/cubes-mp/shared/leveldata"
	"github.com/automoto/cubes-mp/shared/movement"
	"github.com/automoto/cubes-mp/shared/netconfig"
)

// OptionsFromConfig maps the loaded configuration onto a session for id.
func OptionsFromConfig(cfg config.Config, id netconfig.ClientID, level *leveldata.CollisionData, source input.ActionSource, logger *log.Logger) Options {
	return Options{
		ClientID:                id,
		TickRate:                cfg.Sim.TickRate,
		Level:                   movement.NewLevel(level),
		Tuning:                  cfg.Movement,
		Source:                  source,
		InputHistory:            cfg.Sim.InputBuffer,
		InputWindow:             cfg.Sim.InputWindow,
		KeepaliveTicks:          cfg.Client.KeepaliveTicks,
		LeadMarginTicks:         netconfig.Tick(cfg.Client.LeadMarginTicks),
		MaxCatchUpTicks:         cfg.Client.MaxCatchUpTicks,
		MaxDriftTicks:           netconfig.Tick(cfg.Client.MaxDriftTicks),
		InterpolationDelayTicks: cfg.Client.InterpolationDelayTicks,
		Epsilon:                 cfg.Client.Epsilon,
		Smoothing:               cfg.Client.SmoothingDuration,
		PendingCapacity:         cfg.Net.PendingCapacity,
		PendingHorizon:          netconfig.Tick(cfg.Net.PendingHorizonTicks),
		Logger:                  logger,
	}
}
