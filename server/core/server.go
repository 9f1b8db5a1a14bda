// Package core is the authoritative server: it owns the world, applies
// client inputs with the shared movement function and replicates the result.
package core

import (
	"fmt"
	"io"
	"log"
	"time"

	"github.com/automoto/cubes-mp/network"
	"github.com/automoto/cubes-mp/replication"
	"github.com/automoto/cubes-mp/shared/messages"
	"github.com/automoto/cubes-mp/shared/movement"
	"github.com/automoto/cubes-mp/shared/netcomponents"
	"github.com/automoto/cubes-mp/shared/netconfig"
	"github.com/automoto/cubes-mp/shared/protocol"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/leap-fish/necs/esync"
	"github.com/yohamta/donburi"
)

// Options configures a Server.
type Options struct {
	TickRate      int
	Level         *ServerLevel
	Tuning        movement.Tuning
	SpawnPosition mgl64.Vec3
	// SendIntervalTicks replicates every n-th tick.
	SendIntervalTicks int

	InputBuffer int
	InputWindow int
	// InputRate and InputBurst limit input messages per connection.
	InputRate  float64
	InputBurst int

	// Now is the clock used by the channel layer and the rate limiters.
	Now    func() time.Time
	Debug  bool
	Logger *log.Logger
}

func (o *Options) setDefaults() {
	if o.TickRate <= 0 {
		o.TickRate = 64
	}
	if o.Level == nil {
		o.Level = NewServerLevel(nil)
	}
	if o.SendIntervalTicks <= 0 {
		o.SendIntervalTicks = 1
	}
	if o.InputBuffer <= 0 {
		o.InputBuffer = 128
	}
	if o.InputWindow <= 0 {
		o.InputWindow = 8
	}
	if o.InputRate <= 0 {
		o.InputRate = float64(2 * o.TickRate)
	}
	if o.InputBurst <= 0 {
		o.InputBurst = o.TickRate
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard, "", 0)
	}
}

// Server is the authority. All of its state is owned by the goroutine that
// calls Tick; nothing else touches it.
type Server struct {
	opts     Options
	dt       float64
	logger   *log.Logger
	endpoint *network.Endpoint
	world    donburi.World
	registry *Registry
	conns    map[netconfig.ClientID]*connection
	encoder  *replication.Encoder

	tick      netconfig.Tick
	nextNetID esync.NetworkId
}

// NewServer creates a server speaking over transport.
func NewServer(transport network.Transport, components *protocol.Registry, opts Options) (*Server, error) {
	opts.setDefaults()

	endpoint := network.NewEndpoint(transport, network.Options{Now: opts.Now, Logger: opts.Logger})
	if err := network.OpenStandardChannels(endpoint); err != nil {
		return nil, fmt.Errorf("open channels: %w", err)
	}

	return &Server{
		opts:      opts,
		dt:        1 / float64(opts.TickRate),
		logger:    opts.Logger,
		endpoint:  endpoint,
		world:     donburi.NewWorld(),
		registry:  NewRegistry(),
		conns:     make(map[netconfig.ClientID]*connection),
		encoder:   replication.NewEncoder(components, opts.Logger),
		nextNetID: 1,
	}, nil
}

// Tick runs one fixed step: poll the network, apply inputs, then replicate.
// Only a registry invariant violation is returned; everything else is
// logged and isolated to the message it concerns.
func (s *Server) Tick() error {
	if err := s.pollNetwork(); err != nil {
		return err
	}
	s.tick++
	if err := s.applyAuthority(s.tick); err != nil {
		return err
	}
	if int(s.tick)%s.opts.SendIntervalTicks == 0 {
		out, err := s.encodeReplication(s.tick)
		if err != nil {
			return err
		}
		s.dispatch(out)
	}
	s.drainFailures()
	return nil
}

// CurrentTick returns the last simulated tick.
func (s *Server) CurrentTick() netconfig.Tick {
	return s.tick
}

func (s *Server) Close() error {
	return s.endpoint.Close()
}

func (s *Server) pollNetwork() error {
	deliveries := s.endpoint.Poll()
	for _, ev := range s.endpoint.Events() {
		switch ev.Kind {
		case network.PeerConnected:
			s.onConnect(ev.Peer)
		case network.PeerLost:
			s.onDisconnect(ev.Peer, ev.Err)
		}
	}
	for _, d := range deliveries {
		if err := s.handle(d); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) onConnect(id netconfig.ClientID) {
	if _, ok := s.conns[id]; ok {
		return
	}
	s.logger.Printf("[server] client %d connecting", id)

	// Tell the newcomer who is already here, then tell everyone about it.
	for _, other := range s.connectionIDs() {
		s.sendControl(messages.ClientConnect{ID: other}, network.Single(id))
	}
	s.conns[id] = newConnection(id, s.opts)
	s.sendControl(messages.ClientConnect{ID: id}, network.All())
}

func (s *Server) onDisconnect(id netconfig.ClientID, cause error) {
	conn, ok := s.conns[id]
	if !ok {
		return
	}
	conn.state = Disconnected
	delete(s.conns, id)
	s.encoder.RemoveConnection(id)

	if entity, ok := s.registry.Remove(id); ok && s.world.Valid(entity) {
		s.world.Remove(entity)
	}
	if cause != nil {
		s.logger.Printf("[server] client %d disconnected: %v", id, cause)
	} else {
		s.logger.Printf("[server] client %d disconnected", id)
	}
	s.sendControl(messages.ClientDisconnect{ID: id}, network.All())
}

func (s *Server) handle(d network.Delivery) error {
	conn, ok := s.conns[d.From]
	if !ok {
		return nil
	}
	msg, err := protocol.DecodeMessage(d.Payload)
	if err != nil {
		s.logger.Printf("[server] message from %d dropped: %v", d.From, err)
		return nil
	}

	switch m := msg.(type) {
	case messages.ClientAssetLoadingComplete:
		if d.Channel != network.ChannelControl || conn.state != Connecting {
			return nil
		}
		if err := s.spawnPlayer(conn); err != nil {
			return err
		}
	case messages.Input:
		if conn.state != Connected {
			return nil
		}
		if !conn.allowInput(s.opts.Now()) {
			s.logger.Printf("[server] client %d input rate limited (%d dropped)", d.From, conn.dropped)
			return nil
		}
		if _, err := conn.receiver.Apply(m); err != nil {
			s.logger.Printf("[server] client %d input dropped: %v", d.From, err)
		}
	default:
		s.logger.Printf("[server] unexpected message type %d from %d", msg.MessageType(), d.From)
	}
	return nil
}

// spawnPlayer creates the player entity of conn and moves it to Connected.
// Inputs are applied from the next tick on.
func (s *Server) spawnPlayer(conn *connection) error {
	pos := s.opts.Level.NextSpawn(s.opts.SpawnPosition, s.opts.Tuning)
	entity := s.world.Create(
		esync.NetworkIdComponent,
		netcomponents.PlayerID,
		netcomponents.Transform,
		netcomponents.LinearVelocity,
		netcomponents.ActionState,
		replication.Replicate,
	)
	if err := s.registry.Add(conn.id, entity); err != nil {
		s.world.Remove(entity)
		return err
	}

	entry := s.world.Entry(entity)
	esync.NetworkIdComponent.SetValue(entry, s.nextNetID)
	netcomponents.PlayerID.SetValue(entry, netcomponents.PlayerIDData{Owner: conn.id})
	netcomponents.Transform.SetValue(entry, netcomponents.NewTransform(pos))
	netcomponents.LinearVelocity.SetValue(entry, netcomponents.LinearVelocityData{})
	netcomponents.ActionState.SetValue(entry, netcomponents.ActionStateData{})
	replication.Replicate.SetValue(entry, replication.PlayerTargets(conn.id))

	s.logger.Printf("[server] client %d spawned as entity %d at %v", conn.id, s.nextNetID, pos)
	s.nextNetID++
	conn.state = Connected
	s.encoder.AddConnection(conn.id)
	return nil
}

// applyAuthority steps every player with the actions its client sent for tick.
func (s *Server) applyAuthority(tick netconfig.Tick) error {
	for _, id := range s.registry.IDs() {
		entity, _ := s.registry.Lookup(id)
		conn, ok := s.conns[id]
		if !ok || !s.world.Valid(entity) {
			return fmt.Errorf("%w: client %d has a registry entry but no live connection or entity", ErrRegistryInvariant, id)
		}
		entry := s.world.Entry(entity)
		actions := conn.receiver.ActionsFor(tick)

		before := playerState(entry)
		after := movement.Step(s.opts.Level.Collision, s.opts.Tuning, before, actions, s.dt)
		setPlayerState(entry, after)
		netcomponents.ActionState.SetValue(entry, netcomponents.ActionStateData{Actions: actions})

		if s.opts.Debug {
			s.logger.Printf("[server] tick %d client %d actions %s pos %v vel %v",
				tick, id, actions, after.Position, after.Velocity)
		}
	}
	return nil
}

func (s *Server) encodeReplication(tick netconfig.Tick) ([]replication.Outgoing, error) {
	sources := make([]replication.Source, 0, s.registry.Len())
	for _, id := range s.registry.IDs() {
		entity, _ := s.registry.Lookup(id)
		entry := s.world.Entry(entity)
		nid := esync.GetNetworkId(entry)
		if nid == nil {
			return nil, fmt.Errorf("%w: entity of client %d has no network id", ErrRegistryInvariant, id)
		}
		sources = append(sources, replication.Source{ID: *nid, Entry: entry})
	}
	return s.encoder.Encode(tick, s.endpoint.Peers(), sources), nil
}

func (s *Server) dispatch(out []replication.Outgoing) {
	for _, o := range out {
		if err := s.endpoint.Send(o.Channel, o.Payload, o.Target); err != nil {
			s.logger.Printf("[server] replication to %s: %v", o.Target, err)
		}
	}
}

func (s *Server) drainFailures() {
	for _, f := range s.endpoint.Failures() {
		s.logger.Printf("[server] delivery failure: %v", f)
	}
}

func (s *Server) sendControl(m messages.Message, target network.Target) {
	payload, err := protocol.EncodeMessage(m)
	if err != nil {
		s.logger.Printf("[server] encode control message: %v", err)
		return
	}
	if err := s.endpoint.Send(network.ChannelControl, payload, target); err != nil {
		s.logger.Printf("[server] control message to %s: %v", target, err)
	}
}

func (s *Server) connectionIDs() []netconfig.ClientID {
	var ids []netconfig.ClientID
	for _, id := range s.endpoint.Peers() {
		if _, ok := s.conns[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func playerState(entry *donburi.Entry) movement.State {
	tr := netcomponents.Transform.Get(entry)
	return movement.State{
		Position: tr.Translation,
		Rotation: tr.Rotation,
		Velocity: netcomponents.LinearVelocity.Get(entry).V,
	}
}

func setPlayerState(entry *donburi.Entry, s movement.State) {
	netcomponents.Transform.SetValue(entry, netcomponents.TransformData{Translation: s.Position, Rotation: s.Rotation})
	netcomponents.LinearVelocity.SetValue(entry, netcomponents.LinearVelocityData{V: s.Velocity})
}

// PlayerCount returns the number of spawned players.
func (s *Server) PlayerCount() int {
	return s.registry.Len()
}

// ConnectionState returns the state of id. Unknown ids report Disconnected.
func (s *Server) ConnectionState(id netconfig.ClientID) ConnState {
	if c, ok := s.conns[id]; ok {
		return c.state
	}
	return Disconnected
}

// PlayerState returns the authoritative state of id's entity.
func (s *Server) PlayerState(id netconfig.ClientID) (movement.State, bool) {
	entity, ok := s.registry.Lookup(id)
	if !ok || !s.world.Valid(entity) {
		return movement.State{}, false
	}
	return playerState(s.world.Entry(entity)), true
}

// Owns reports whether id is mapped to an entity.
func (s *Server) Owns(id netconfig.ClientID) bool {
	_, ok := s.registry.Lookup(id)
	return ok
}
