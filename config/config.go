// Package config holds the runtime settings of the server and client
// binaries: built-in defaults, then an optional YAML file, then CUBES_*
// environment variables. Command-line flags are applied by the binaries.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/automoto/cubes-mp/network"
	"github.com/automoto/cubes-mp/shared/movement"
	"github.com/automoto/cubes-mp/shared/netconfig"
	"github.com/caarlos0/env/v11"
	"github.com/go-gl/mathgl/mgl64"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "CUBES_"

// NetConfig contains transport, identity and replication settings.
type NetConfig struct {
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR"`
	ServerURL  string `yaml:"server_url" env:"SERVER_URL"`
	ProtocolID uint64 `yaml:"protocol_id" env:"PROTOCOL_ID"`
	// Key is the hex encoded 32 byte key shared by server and clients.
	Key string `yaml:"key" env:"KEY"`

	SendIntervalTicks   int     `yaml:"send_interval_ticks" env:"SEND_INTERVAL_TICKS"`
	InputRate           float64 `yaml:"input_rate" env:"INPUT_RATE"`
	InputBurst          int     `yaml:"input_burst" env:"INPUT_BURST"`
	PendingCapacity     int     `yaml:"pending_capacity" env:"PENDING_CAPACITY"`
	PendingHorizonTicks int     `yaml:"pending_horizon_ticks" env:"PENDING_HORIZON_TICKS"`
}

type Vec3 struct {
	X float64 `yaml:"x" env:"X"`
	Y float64 `yaml:"y" env:"Y"`
	Z float64 `yaml:"z" env:"Z"`
}

func (v Vec3) Vec() mgl64.Vec3 {
	return mgl64.Vec3{v.X, v.Y, v.Z}
}

// SimConfig contains the fixed-step simulation settings.
type SimConfig struct {
	TickRate      int    `yaml:"tick_rate" env:"TICK_RATE"`
	SpawnPosition Vec3   `yaml:"spawn_position" envPrefix:"SPAWN_"`
	Level         string `yaml:"level" env:"LEVEL"`
	// InputWindow is how many past ticks each input message repeats.
	InputWindow int `yaml:"input_window" env:"INPUT_WINDOW"`
	// InputBuffer is the number of ticks of input retained per peer.
	InputBuffer int `yaml:"input_buffer" env:"INPUT_BUFFER"`
}

// LinkConfig shapes the in-process link of the listen server.
type LinkConfig struct {
	ClientToServer network.LinkConditioner `yaml:"client_to_server" envPrefix:"UP_"`
	ServerToClient network.LinkConditioner `yaml:"server_to_client" envPrefix:"DOWN_"`
	Seed           int64                   `yaml:"seed" env:"SEED"`
}

// ClientConfig contains the prediction and interpolation settings.
type ClientConfig struct {
	ClientID                netconfig.ClientID `yaml:"client_id" env:"CLIENT_ID"`
	LeadMarginTicks         int                `yaml:"lead_margin_ticks" env:"LEAD_MARGIN_TICKS"`
	MaxCatchUpTicks         int                `yaml:"max_catch_up_ticks" env:"MAX_CATCH_UP_TICKS"`
	MaxDriftTicks           int                `yaml:"max_drift_ticks" env:"MAX_DRIFT_TICKS"`
	InterpolationDelayTicks float64            `yaml:"interpolation_delay_ticks" env:"INTERPOLATION_DELAY_TICKS"`
	Epsilon                 float64            `yaml:"epsilon" env:"EPSILON"`
	SmoothingDuration       time.Duration      `yaml:"smoothing_duration" env:"SMOOTHING_DURATION"`
	KeepaliveTicks          int                `yaml:"keepalive_ticks" env:"KEEPALIVE_TICKS"`
}

type Config struct {
	Net      NetConfig       `yaml:"net" envPrefix:"NET_"`
	Sim      SimConfig       `yaml:"sim" envPrefix:"SIM_"`
	Movement movement.Tuning `yaml:"movement" envPrefix:"MOVEMENT_"`
	Link     LinkConfig      `yaml:"link" envPrefix:"LINK_"`
	Client   ClientConfig    `yaml:"client" envPrefix:"CLIENT_"`
	Debug    bool            `yaml:"debug" env:"DEBUG"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Net: NetConfig{
			ListenAddr:          ":5000",
			ServerURL:           "ws://127.0.0.1:5000",
			ProtocolID:          1,
			Key:                 strings.Repeat("00", network.KeySize),
			SendIntervalTicks:   1,
			InputRate:           128,
			InputBurst:          64,
			PendingCapacity:     256,
			PendingHorizonTicks: 64,
		},
		Sim: SimConfig{
			TickRate:      64,
			SpawnPosition: Vec3{Y: 10},
			InputWindow:   8,
			InputBuffer:   128,
		},
		Movement: movement.DefaultTuning(),
		Link: LinkConfig{
			ServerToClient: network.LinkConditioner{Latency: 100 * time.Millisecond},
		},
		Client: ClientConfig{
			ClientID:                1234,
			LeadMarginTicks:         2,
			MaxCatchUpTicks:         4,
			MaxDriftTicks:           16,
			InterpolationDelayTicks: 4,
			Epsilon:                 1e-6,
			SmoothingDuration:       100 * time.Millisecond,
			KeepaliveTicks:          16,
		},
	}
}

// Load reads path over the defaults. Keys missing from the file keep their
// default value.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg from CUBES_* environment variables.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Resolve loads path (when not empty) and applies the environment.
func Resolve(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return cfg, err
		}
	}
	if err := ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// KeyBytes decodes the shared key.
func (c Config) KeyBytes() ([]byte, error) {
	key, err := hex.DecodeString(c.Net.Key)
	if err != nil {
		return nil, fmt.Errorf("net.key: %w", err)
	}
	if len(key) != network.KeySize {
		return nil, fmt.Errorf("net.key: want %d bytes, got %d", network.KeySize, len(key))
	}
	return key, nil
}

// Identity returns the identity material for the transport handshake.
func (c Config) Identity() (network.Identity, error) {
	key, err := c.KeyBytes()
	if err != nil {
		return network.Identity{}, err
	}
	return network.Identity{ProtocolID: c.Net.ProtocolID, Key: key}, nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.Sim.TickRate <= 0 {
		errs = append(errs, fmt.Errorf("sim.tick_rate must be positive, got %d", c.Sim.TickRate))
	}
	if _, err := c.KeyBytes(); err != nil {
		errs = append(errs, err)
	}
	if c.Sim.InputWindow <= 0 {
		errs = append(errs, fmt.Errorf("sim.input_window must be positive, got %d", c.Sim.InputWindow))
	}
	if c.Sim.InputBuffer < c.Sim.InputWindow {
		errs = append(errs, fmt.Errorf("sim.input_buffer %d is smaller than sim.input_window %d", c.Sim.InputBuffer, c.Sim.InputWindow))
	}
	if c.Net.SendIntervalTicks <= 0 {
		errs = append(errs, fmt.Errorf("net.send_interval_ticks must be positive, got %d", c.Net.SendIntervalTicks))
	}
	if c.Client.Epsilon < 0 {
		errs = append(errs, fmt.Errorf("client.epsilon must not be negative, got %v", c.Client.Epsilon))
	}
	if c.Client.ClientID == netconfig.ServerID {
		errs = append(errs, fmt.Errorf("client.client_id %d is reserved", netconfig.ServerID))
	}
	for _, link := range []struct {
		name string
		l    network.LinkConditioner
	}{
		{"link.client_to_server", c.Link.ClientToServer},
		{"link.server_to_client", c.Link.ServerToClient},
	} {
		name, l := link.name, link.l
		if l.Loss < 0 || l.Loss > 1 {
			errs = append(errs, fmt.Errorf("%s.loss must be within [0, 1], got %v", name, l.Loss))
		}
		if l.Latency < 0 || l.Jitter < 0 {
			errs = append(errs, fmt.Errorf("%s: latency and jitter must not be negative", name))
		}
	}
	return errors.Join(errs...)
}
