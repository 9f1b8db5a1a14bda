package core

import (
	"log"

	"github.com/automoto/cubes-mp/config"
	"github.com/automoto/cubes-mp/shared/leveldata"
)

// OptionsFromConfig maps the loaded configuration onto the authority loop.
func OptionsFromConfig(cfg config.Config, level *leveldata.CollisionData, logger *log.Logger) Options {
	return Options{
		TickRate:          cfg.Sim.TickRate,
		Level:             NewServerLevel(level),
		Tuning:            cfg.Movement,
		SpawnPosition:     cfg.Sim.SpawnPosition.Vec(),
		SendIntervalTicks: cfg.Net.SendIntervalTicks,
		InputBuffer:       cfg.Sim.InputBuffer,
		InputWindow:       cfg.Sim.InputWindow,
		InputRate:         cfg.Net.InputRate,
		InputBurst:        cfg.Net.InputBurst,
		Debug:             cfg.Debug,
		Logger:            logger,
	}
}
