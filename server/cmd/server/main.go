package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/automoto/cubes-mp/assets"
	"github.com/automoto/cubes-mp/config"
	"github.com/automoto/cubes-mp/network"
	"github.com/automoto/cubes-mp/server/core"
	"github.com/automoto/cubes-mp/shared/leveldata"
	"github.com/automoto/cubes-mp/shared/protocol"
)

func main() {
	configPath := flag.String("config", "", "YAML config file")
	addr := flag.String("addr", "", "Listen address (overrides net.listen_addr)")
	tickRate := flag.Int("tickrate", 0, "Server tick rate (overrides sim.tick_rate)")
	level := flag.String("level", "", "Level name, empty for the ground plane only (overrides sim.level)")
	debug := flag.Bool("debug", false, "Log every movement application")
	flag.Parse()

	cfg, err := config.Resolve(*configPath)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if *addr != "" {
		cfg.Net.ListenAddr = *addr
	}
	if *tickRate > 0 {
		cfg.Sim.TickRate = *tickRate
	}
	if *level != "" {
		cfg.Sim.Level = *level
	}
	cfg.Debug = cfg.Debug || *debug

	identity, err := cfg.Identity()
	if err != nil {
		log.Fatalf("Invalid identity: %v", err)
	}
	registry, err := protocol.NewGameRegistry()
	if err != nil {
		log.Fatalf("Failed to register components: %v", err)
	}

	var data *leveldata.CollisionData
	if cfg.Sim.Level != "" {
		if data, err = core.LoadLevel(assets.LevelFS(), assets.LevelsDir, cfg.Sim.Level); err != nil {
			log.Fatalf("Failed to load level: %v", err)
		}
	}

	logger := log.Default()
	transport, err := network.ListenWebsocket(cfg.Net.ListenAddr, identity, cfg.Sim.TickRate, logger)
	if err != nil {
		log.Fatalf("Failed to listen: %v", err)
	}
	server, err := core.NewServer(transport, registry, core.OptionsFromConfig(cfg, data, logger))
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}
	defer server.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("Starting server on %s (tick rate: %d/s, level: %q, send every %d ticks)",
		transport.Addr(), cfg.Sim.TickRate, cfg.Sim.Level, cfg.Net.SendIntervalTicks)
	if err := core.NewGameLoop(server, cfg.Sim.TickRate, logger).Run(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server stopped")
}
