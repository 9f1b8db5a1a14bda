// Package client is the player side of a session: it decodes replication
// into a local world, predicts the own entity, interpolates the others and
// ships local input to the server.
package client

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"time"

	"github.com/automoto/cubes-mp/input"
	"github.com/automoto/cubes-mp/interpolation"
	"github.com/automoto/cubes-mp/network"
	"github.com/automoto/cubes-mp/prediction"
	"github.com/automoto/cubes-mp/replication"
	"github.com/automoto/cubes-mp/shared/messages"
	"github.com/automoto/cubes-mp/shared/movement"
	"github.com/automoto/cubes-mp/shared/netcomponents"
	"github.com/automoto/cubes-mp/shared/netconfig"
	"github.com/automoto/cubes-mp/shared/protocol"
	"github.com/automoto/cubes-mp/shared/ticks"
	"github.com/leap-fish/necs/esync"
	"github.com/yohamta/donburi"
)

// Options configures a Client.
type Options struct {
	ClientID netconfig.ClientID
	TickRate int
	Level    *movement.Level
	Tuning   movement.Tuning
	Source   input.ActionSource

	InputHistory   int
	InputWindow    int
	KeepaliveTicks int

	LeadMarginTicks netconfig.Tick
	MaxCatchUpTicks int
	MaxDriftTicks   netconfig.Tick

	InterpolationDelayTicks float64
	Epsilon                 float64
	Smoothing               time.Duration

	PendingCapacity int
	PendingHorizon  netconfig.Tick

	Now    func() time.Time
	Logger *log.Logger
}

func (o *Options) setDefaults() {
	if o.TickRate <= 0 {
		o.TickRate = 64
	}
	if o.Level == nil {
		o.Level = movement.NewLevel(nil)
	}
	if o.Source == nil {
		o.Source = input.ActionSourceFunc(func(netconfig.Tick) netconfig.ActionState { return 0 })
	}
	if o.InputHistory <= 0 {
		o.InputHistory = 128
	}
	if o.InputWindow <= 0 {
		o.InputWindow = 8
	}
	if o.KeepaliveTicks <= 0 {
		o.KeepaliveTicks = o.TickRate / 4
	}
	if o.LeadMarginTicks == 0 {
		o.LeadMarginTicks = 2
	}
	if o.MaxCatchUpTicks <= 0 {
		o.MaxCatchUpTicks = 4
	}
	if o.MaxDriftTicks == 0 {
		o.MaxDriftTicks = 16
	}
	if o.InterpolationDelayTicks <= 0 {
		o.InterpolationDelayTicks = 4
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard, "", 0)
	}
}

// Client owns the client world and every client side component. It is not
// safe for concurrent use; Update is expected to run on the game loop.
type Client struct {
	opts   Options
	logger *log.Logger

	endpoint *network.Endpoint
	world    donburi.World
	decoder  *replication.Decoder
	capture  *input.Capture
	engine   *prediction.Engine
	clock    *ticks.Clock
	timeline *interpolation.Timeline
	remote   map[esync.NetworkId]*interpolation.Buffer[netcomponents.TransformData]

	state     State
	sentReady bool
	local     esync.NetworkId
	haveLocal bool
	roster    map[netconfig.ClientID]bool
}

// New creates a client speaking to the server over transport.
func New(transport network.Transport, components *protocol.Registry, opts Options) (*Client, error) {
	opts.setDefaults()
	if opts.ClientID == netconfig.ServerID {
		return nil, fmt.Errorf("client id %d is reserved for the server", netconfig.ServerID)
	}

	endpoint := network.NewEndpoint(transport, network.Options{Now: opts.Now, Logger: opts.Logger})
	if err := network.OpenStandardChannels(endpoint); err != nil {
		return nil, fmt.Errorf("open channels: %w", err)
	}

	world := donburi.NewWorld()
	capture := input.NewCapture(opts.Source, opts.InputHistory, opts.InputWindow, opts.KeepaliveTicks)
	return &Client{
		opts:     opts,
		logger:   opts.Logger,
		endpoint: endpoint,
		world:    world,
		decoder: replication.NewDecoder(world, components, replication.DecoderOptions{
			PendingCapacity: opts.PendingCapacity,
			PendingHorizon:  opts.PendingHorizon,
			Logger:          opts.Logger,
		}),
		capture: capture,
		engine: prediction.NewEngine(capture, prediction.Options{
			Level:     opts.Level,
			Tuning:    opts.Tuning,
			TickRate:  opts.TickRate,
			History:   opts.InputHistory,
			Epsilon:   opts.Epsilon,
			Smoothing: opts.Smoothing,
			Logger:    opts.Logger,
		}),
		clock:    ticks.NewClock(opts.TickRate, opts.MaxCatchUpTicks, opts.MaxDriftTicks),
		timeline: interpolation.NewTimeline(opts.InterpolationDelayTicks),
		remote:   make(map[esync.NetworkId]*interpolation.Buffer[netcomponents.TransformData]),
		state:    StateLoading,
		roster:   make(map[netconfig.ClientID]bool),
	}, nil
}

// MarkAssetsLoaded moves the session from Loading to Connecting. The server
// is told once the transport is up.
func (c *Client) MarkAssetsLoaded() {
	if c.state == StateLoading {
		c.state = StateConnecting
	}
}

// Update runs one frame: it handles network traffic, then runs as many
// fixed steps as dt covers.
func (c *Client) Update(dt time.Duration) {
	deliveries := c.endpoint.Poll()
	c.handleEvents()
	c.sendReady()

	var newest netconfig.Tick
	var received bool
	for _, d := range deliveries {
		switch d.Channel {
		case network.ChannelControl:
			c.handleControl(d.Payload)
		case network.ChannelReplicationActions, network.ChannelReplicationUpdates:
			res, ok := c.decode(d.Payload)
			if !ok {
				continue
			}
			c.route(res)
			if !received || res.Tick > newest {
				newest, received = res.Tick, true
			}
		}
	}
	for _, f := range c.endpoint.Failures() {
		c.logger.Printf("[client] delivery failure: %v", f)
	}

	if received {
		c.timeline.Observe(newest)
		c.clock.Sync(newest, c.clock.LeadFor(c.endpoint.RTT(netconfig.ServerID), c.opts.LeadMarginTicks))
	}
	if !c.clock.Synced() {
		return
	}

	for n := c.clock.Advance(dt); n > 0; n-- {
		c.step(c.clock.Next())
	}
	c.engine.Update(dt.Seconds())
}

func (c *Client) handleEvents() {
	for _, ev := range c.endpoint.Events() {
		if ev.Peer != netconfig.ServerID {
			continue
		}
		switch ev.Kind {
		case network.PeerConnected:
			c.logger.Printf("[client] connected to server")
		case network.PeerLost:
			c.logger.Printf("[client] lost server: %v", ev.Err)
			c.state = StateDisconnected
		}
	}
}

func (c *Client) sendReady() {
	if c.state != StateConnecting || c.sentReady || !c.endpoint.Connected(netconfig.ServerID) {
		return
	}
	if err := c.send(network.ChannelControl, messages.ClientAssetLoadingComplete{}); err != nil {
		c.logger.Printf("[client] asset loading complete: %v", err)
		return
	}
	c.sentReady = true
}

func (c *Client) handleControl(payload []byte) {
	msg, err := protocol.DecodeMessage(payload)
	if err != nil {
		c.logger.Printf("[client] control message dropped: %v", err)
		return
	}
	switch m := msg.(type) {
	case messages.ClientConnect:
		c.roster[m.ID] = true
	case messages.ClientDisconnect:
		delete(c.roster, m.ID)
	default:
		c.logger.Printf("[client] unexpected control message type %d", msg.MessageType())
	}
}

// decode applies one replication payload. Partial failures are logged and
// whatever was applied is still routed.
func (c *Client) decode(payload []byte) (replication.Result, bool) {
	res, err := c.decoder.Decode(payload)
	switch {
	case err == nil:
	case errors.Is(err, protocol.ErrProtocolMismatch) && res.Applied == nil && res.Despawned == nil:
		c.logger.Printf("[client] replication dropped: %v", err)
		return res, false
	case errors.Is(err, replication.ErrEntityNotYetKnown):
		// Buffered until the spawn arrives.
	default:
		c.logger.Printf("[client] replication: %v", err)
	}
	return res, true
}

// route hands decoded updates to prediction or interpolation by role.
func (c *Client) route(res replication.Result) {
	for _, a := range res.Applied {
		if a.Spawned {
			c.onSpawn(a)
		}
		switch a.Role {
		case netconfig.RolePredicted:
			if a.Entity != c.local || !c.haveLocal {
				continue
			}
			confirmed, ok := confirmedState(a)
			if !ok {
				continue
			}
			outcome, err := c.engine.Reconcile(a.Tick, confirmed, c.clock.Tick())
			if err != nil {
				c.logger.Printf("[client] reconcile tick %d: %s: %v", a.Tick, outcome, err)
			}
		case netconfig.RoleInterpolated:
			buf := c.buffer(a.Entity)
			for _, s := range a.Samples {
				if tr, ok := s.Value.(netcomponents.TransformData); ok && s.Kind == netconfig.KindTransform {
					buf.Push(s.Tick, tr)
				}
			}
		}
	}
	for _, id := range res.Despawned {
		delete(c.remote, id)
		if c.haveLocal && id == c.local {
			c.logger.Printf("[client] own entity %d despawned", id)
			c.haveLocal = false
		}
	}
}

func (c *Client) onSpawn(a replication.Applied) {
	entry, ok := c.decoder.Entry(a.Entity)
	if !ok || !entry.HasComponent(netcomponents.PlayerID) {
		return
	}
	if netcomponents.PlayerID.Get(entry).Owner != c.opts.ClientID || a.Role != netconfig.RolePredicted {
		return
	}
	c.local, c.haveLocal = a.Entity, true
	if c.state == StateConnecting {
		c.state = StatePlaying
		c.logger.Printf("[client] playing as entity %d", a.Entity)
	}
}

func (c *Client) buffer(id esync.NetworkId) *interpolation.Buffer[netcomponents.TransformData] {
	buf, ok := c.remote[id]
	if !ok {
		buf = interpolation.NewBuffer[netcomponents.TransformData](netcomponents.LerpTransform)
		c.remote[id] = buf
	}
	return buf
}

// step runs one fixed client tick.
func (c *Client) step(tick netconfig.Tick) {
	c.timeline.Step()
	if c.state != StatePlaying {
		return
	}
	actions, msg, send := c.capture.Sample(tick)
	if send {
		if err := c.send(network.ChannelInput, msg); err != nil {
			c.logger.Printf("[client] input for tick %d: %v", tick, err)
		}
	}
	c.engine.Predict(tick, actions)
}

func (c *Client) send(ch network.ChannelID, m messages.Message) error {
	payload, err := protocol.EncodeMessage(m)
	if err != nil {
		return err
	}
	return c.endpoint.Send(ch, payload, network.Single(netconfig.ServerID))
}

// confirmedState is the authoritative state carried by a, if a wrote both
// the transform and the velocity.
func confirmedState(a replication.Applied) (movement.State, bool) {
	tv, ok := a.Value(netconfig.KindTransform)
	if !ok {
		return movement.State{}, false
	}
	vv, ok := a.Value(netconfig.KindLinearVelocity)
	if !ok {
		return movement.State{}, false
	}
	tr, ok := tv.(netcomponents.TransformData)
	if !ok {
		return movement.State{}, false
	}
	vel, ok := vv.(netcomponents.LinearVelocityData)
	if !ok {
		return movement.State{}, false
	}
	return movement.State{
		Position: tr.Translation,
		Rotation: tr.Rotation,
		Velocity: vel.V,
	}, true
}

// Close disconnects from the server.
func (c *Client) Close() error {
	return c.endpoint.Close()
}

func (c *Client) State() State {
	return c.state
}

// Tick returns the client's current simulation tick.
func (c *Client) Tick() netconfig.Tick {
	return c.clock.Tick()
}

// Engine exposes the prediction engine of the own entity.
func (c *Client) Engine() *prediction.Engine {
	return c.engine
}

// LocalEntity returns the network id of the own entity once spawned.
func (c *Client) LocalEntity() (esync.NetworkId, bool) {
	return c.local, c.haveLocal
}

// Roster returns the connected client ids in ascending order.
func (c *Client) Roster() []netconfig.ClientID {
	out := make([]netconfig.ClientID, 0, len(c.roster))
	for id := range c.roster {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
