package main

import (
	"context"
	"flag"
	"log"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/automoto/cubes-mp/assets"
	"github.com/automoto/cubes-mp/client"
	"github.com/automoto/cubes-mp/config"
	"github.com/automoto/cubes-mp/input"
	"github.com/automoto/cubes-mp/network"
	"github.com/automoto/cubes-mp/server/core"
	"github.com/automoto/cubes-mp/shared/leveldata"
	"github.com/automoto/cubes-mp/shared/netconfig"
	"github.com/automoto/cubes-mp/shared/protocol"
)

func main() {
	configPath := flag.String("config", "", "YAML config file")
	listenServer := flag.Bool("listen-server", false, "Run the server in this process over an in-memory link")
	url := flag.String("url", "", "Server websocket URL (overrides net.server_url)")
	id := flag.Uint64("id", 0, "Client id (default: the id stored in the local profile)")
	duration := flag.Duration("duration", 0, "Stop after this long (0 runs until interrupted)")
	flag.Parse()

	cfg, err := config.Resolve(*configPath)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if *url != "" {
		cfg.Net.ServerURL = *url
	}

	clientID := netconfig.ClientID(*id)
	if clientID == netconfig.ServerID {
		clientID = profileID(cfg.Client.ClientID)
	}

	var data *leveldata.CollisionData
	if cfg.Sim.Level != "" {
		if data, err = core.LoadLevel(assets.LevelFS(), assets.LevelsDir, cfg.Sim.Level); err != nil {
			log.Fatalf("Failed to load level: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	logger := log.Default()
	var transport network.Transport
	if *listenServer {
		transport, err = startListenServer(ctx, cfg, clientID, data, logger)
	} else {
		transport, err = dial(ctx, cfg, clientID)
	}
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}

	registry, err := protocol.NewGameRegistry()
	if err != nil {
		log.Fatalf("Failed to register components: %v", err)
	}
	c, err := client.New(transport, registry, client.OptionsFromConfig(cfg, clientID, data, wander(cfg.Sim.TickRate), logger))
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}
	defer c.Close()
	c.MarkAssetsLoaded()

	log.Printf("Client %d running at %d ticks/second", clientID, cfg.Sim.TickRate)
	run(ctx, c, cfg.Sim.TickRate)
}

// profileID returns the identity stored in the local profile, creating one
// on first run. fallback is used when no profile can be stored.
func profileID(fallback netconfig.ClientID) netconfig.ClientID {
	store, err := client.OpenProfileStore("cubes-mp")
	if err != nil {
		log.Printf("Warning: Could not open profile store: %v", err)
		return fallback
	}
	p, err := client.LoadProfile(store, func() netconfig.ClientID {
		return netconfig.ClientID(rand.Uint64N(1<<53) + 1)
	})
	if err != nil {
		log.Printf("Warning: Could not load profile: %v", err)
		return fallback
	}
	return p.ClientID
}

func startListenServer(ctx context.Context, cfg config.Config, id netconfig.ClientID, data *leveldata.CollisionData, logger *log.Logger) (network.Transport, error) {
	hub := network.NewLoopbackHub(network.LoopbackOptions{
		Seed:           cfg.Link.Seed,
		ClientToServer: cfg.Link.ClientToServer,
		ServerToClient: cfg.Link.ServerToClient,
	})
	registry, err := protocol.NewGameRegistry()
	if err != nil {
		return nil, err
	}
	server, err := core.NewServer(hub.Server(), registry, core.OptionsFromConfig(cfg, data, logger))
	if err != nil {
		return nil, err
	}
	go func() {
		defer server.Close()
		if err := core.NewGameLoop(server, cfg.Sim.TickRate, logger).Run(ctx); err != nil {
			log.Fatalf("Listen server error: %v", err)
		}
	}()
	return hub.Connect(id)
}

func dial(ctx context.Context, cfg config.Config, id netconfig.ClientID) (network.Transport, error) {
	identity, err := cfg.Identity()
	if err != nil {
		return nil, err
	}
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	conn, err := network.DialWebsocket(dialCtx, cfg.Net.ServerURL, id, identity)
	if err != nil {
		return nil, err
	}
	if conn.TickRate() != cfg.Sim.TickRate {
		log.Printf("Warning: server ticks at %d/s, configured %d/s", conn.TickRate(), cfg.Sim.TickRate)
	}
	return conn, nil
}

// wander is the headless stand-in for a keyboard: it walks back and forth
// and jumps now and then.
func wander(tickRate int) input.ActionSource {
	period := netconfig.Tick(2 * tickRate)
	return input.ActionSourceFunc(func(tick netconfig.Tick) netconfig.ActionState {
		var s netconfig.ActionState
		if (tick/period)%2 == 0 {
			s = s.With(netconfig.ActionRight, true)
		} else {
			s = s.With(netconfig.ActionLeft, true)
		}
		return s.With(netconfig.ActionJump, tick%(period+period/2) < 4)
	})
}

func run(ctx context.Context, c *client.Client, tickRate int) {
	ticker := time.NewTicker(time.Second / time.Duration(tickRate))
	defer ticker.Stop()
	report := time.NewTicker(time.Second)
	defer report.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			stats := c.Engine().Stats()
			log.Printf("Client stopped at tick %d: %d predicted, %d matched, %d rollbacks, %d snaps",
				c.Tick(), stats.Predicted, stats.Matched, stats.Rollbacks, stats.Exhausted)
			return
		case now := <-ticker.C:
			c.Update(now.Sub(last))
			last = now
			if c.State() == client.StateDisconnected {
				log.Println("Disconnected from server")
				return
			}
		case <-report.C:
			for _, v := range c.View() {
				log.Printf("[client] tick %d entity %d owner %d %s pos %.2f",
					c.Tick(), v.NetworkID, v.Owner, v.Source, v.Transform.Translation)
			}
		}
	}
}
