package replication

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sort"

	"github.com/automoto/cubes-mp/shared/messages"
	"github.com/automoto/cubes-mp/shared/netconfig"
	"github.com/automoto/cubes-mp/shared/protocol"
	"github.com/leap-fish/necs/esync"
	"github.com/yohamta/donburi"
)

// Sample is a decoded FullInterpolate value and the tick it was computed at.
type Sample struct {
	Kind  netconfig.ComponentKind
	Tick  netconfig.Tick
	Value any
}

// Applied describes what one entity update did to the client world.
type Applied struct {
	Entity  esync.NetworkId
	Role    netconfig.Role
	Tick    netconfig.Tick
	Spawned bool
	// Kinds lists the components written to the world.
	Kinds []netconfig.ComponentKind
	// Values holds the decoded value of every written component as of Tick.
	// Later updates replayed in the same call do not change it.
	Values map[netconfig.ComponentKind]any
	// Samples lists every FullInterpolate value received, including ones
	// older than the world value.
	Samples []Sample
}

// Wrote reports whether kind was written to the world.
func (a Applied) Wrote(kind netconfig.ComponentKind) bool {
	for _, k := range a.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Value returns the decoded value of kind written by this update.
func (a Applied) Value(kind netconfig.ComponentKind) (any, bool) {
	v, ok := a.Values[kind]
	return v, ok
}

// Result is the outcome of decoding one replication message.
type Result struct {
	Tick      netconfig.Tick
	Applied   []Applied
	Despawned []esync.NetworkId
}

type DecoderOptions struct {
	PendingCapacity int
	// PendingHorizon is how many server ticks an update for an unknown
	// entity is kept.
	PendingHorizon netconfig.Tick
	Logger         *log.Logger
}

type entityState struct {
	entity   donburi.Entity
	role     netconfig.Role
	roleTick netconfig.Tick
	once     map[netconfig.ComponentKind]bool
	lastTick map[netconfig.ComponentKind]netconfig.Tick
}

// Decoder owns the replicated part of a client world.
type Decoder struct {
	world    donburi.World
	registry *protocol.Registry
	logger   *log.Logger
	entities map[esync.NetworkId]*entityState
	pending  pendingBuffer
	newest   netconfig.Tick
}

func NewDecoder(world donburi.World, registry *protocol.Registry, opts DecoderOptions) *Decoder {
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if opts.PendingCapacity <= 0 {
		opts.PendingCapacity = 256
	}
	if opts.PendingHorizon == 0 {
		opts.PendingHorizon = 64
	}
	return &Decoder{
		world:    world,
		registry: registry,
		logger:   opts.Logger,
		entities: make(map[esync.NetworkId]*entityState),
		pending:  pendingBuffer{capacity: opts.PendingCapacity, horizon: opts.PendingHorizon},
	}
}

// Decode parses payload as a replication message and applies it.
func (d *Decoder) Decode(payload []byte) (Result, error) {
	msg, err := protocol.DecodeMessage(payload)
	if err != nil {
		return Result{}, err
	}
	rep, ok := msg.(messages.Replication)
	if !ok {
		return Result{}, fmt.Errorf("%w: expected replication, got message type %d", protocol.ErrProtocolMismatch, msg.MessageType())
	}
	return d.Apply(rep)
}

// Apply applies msg to the world. Failures are isolated per entity and
// component and returned joined; everything else in msg is still applied.
func (d *Decoder) Apply(msg messages.Replication) (Result, error) {
	if msg.Version != netconfig.ProtocolVersion {
		return Result{}, fmt.Errorf("%w: version %d, want %d", protocol.ErrProtocolMismatch, msg.Version, netconfig.ProtocolVersion)
	}
	if msg.Tick > d.newest {
		d.newest = msg.Tick
	}

	res := Result{Tick: msg.Tick}
	var errs []error
	for _, upd := range msg.Entities {
		applied, err := d.applyUpdate(msg.Tick, upd)
		if err != nil {
			errs = append(errs, err)
		}
		res.Applied = append(res.Applied, applied...)
	}

	for _, id := range msg.Despawns {
		d.pending.purge(id)
		st, ok := d.entities[id]
		if !ok {
			continue
		}
		delete(d.entities, id)
		if d.world.Valid(st.entity) {
			d.world.Remove(st.entity)
		}
		res.Despawned = append(res.Despawned, id)
	}

	d.pending.expire(d.newest)
	return res, errors.Join(errs...)
}

func (d *Decoder) applyUpdate(tick netconfig.Tick, upd messages.EntityUpdate) ([]Applied, error) {
	st, known := d.entities[upd.Entity]
	if !known && !upd.Spawn {
		if evicted := d.pending.add(tick, upd); evicted > 0 {
			d.logger.Printf("[replication] pending buffer full, dropped %d updates", evicted)
		}
		return nil, fmt.Errorf("entity %d at tick %d: %w", upd.Entity, tick, ErrEntityNotYetKnown)
	}

	spawned := false
	if !known {
		st = d.spawn(upd.Entity)
		spawned = true
	}

	applied, err := d.applyComponents(st, tick, upd)
	applied.Spawned = spawned
	out := []Applied{applied}

	if spawned {
		for _, p := range d.pending.take(upd.Entity) {
			replayed, perr := d.applyComponents(st, p.tick, p.update)
			out = append(out, replayed)
			err = errors.Join(err, perr)
		}
	}
	return out, err
}

func (d *Decoder) spawn(id esync.NetworkId) *entityState {
	entity := esync.FindByNetworkId(d.world, id)
	if !d.world.Valid(entity) {
		entity = d.world.Create(esync.NetworkIdComponent)
		esync.NetworkIdComponent.SetValue(d.world.Entry(entity), id)
	}
	st := &entityState{
		entity:   entity,
		once:     make(map[netconfig.ComponentKind]bool),
		lastTick: make(map[netconfig.ComponentKind]netconfig.Tick),
	}
	d.entities[id] = st
	return st
}

func (d *Decoder) applyComponents(st *entityState, tick netconfig.Tick, upd messages.EntityUpdate) (Applied, error) {
	if tick >= st.roleTick {
		st.role, st.roleTick = upd.Role, tick
	}
	applied := Applied{Entity: upd.Entity, Role: st.role, Tick: tick}
	entry := d.world.Entry(st.entity)

	var errs []error
	for _, cu := range upd.Components {
		c, err := d.registry.Lookup(cu.Kind)
		if err != nil {
			errs = append(errs, fmt.Errorf("entity %d: %w", upd.Entity, err))
			continue
		}

		if c.Mode() == netconfig.SyncOnce && st.once[cu.Kind] {
			continue
		}
		stale := false
		if last, ok := st.lastTick[cu.Kind]; ok && tick < last {
			stale = true
		}
		if c.Mode() == netconfig.SyncFullNoInterpolate && stale {
			continue
		}

		v, err := c.Decode(cu.Data)
		if err != nil {
			errs = append(errs, fmt.Errorf("entity %d: %w", upd.Entity, err))
			continue
		}
		if c.Mode() == netconfig.SyncFullInterpolate {
			applied.Samples = append(applied.Samples, Sample{Kind: cu.Kind, Tick: tick, Value: v})
			if stale {
				continue
			}
		}

		if err := c.Apply(entry, cu.Data); err != nil {
			errs = append(errs, fmt.Errorf("entity %d: %w", upd.Entity, err))
			continue
		}
		st.once[cu.Kind] = c.Mode() == netconfig.SyncOnce
		st.lastTick[cu.Kind] = tick
		applied.Kinds = append(applied.Kinds, cu.Kind)
		if applied.Values == nil {
			applied.Values = make(map[netconfig.ComponentKind]any, len(upd.Components))
		}
		applied.Values[cu.Kind] = v
	}
	return applied, errors.Join(errs...)
}

// Entry returns the client world entry of id.
func (d *Decoder) Entry(id esync.NetworkId) (*donburi.Entry, bool) {
	st, ok := d.entities[id]
	if !ok || !d.world.Valid(st.entity) {
		return nil, false
	}
	return d.world.Entry(st.entity), true
}

// Role returns the latest role received for id.
func (d *Decoder) Role(id esync.NetworkId) (netconfig.Role, bool) {
	st, ok := d.entities[id]
	if !ok {
		return netconfig.RoleConfirmed, false
	}
	return st.role, true
}

// Entities returns the known network ids in ascending order.
func (d *Decoder) Entities() []esync.NetworkId {
	out := make([]esync.NetworkId, 0, len(d.entities))
	for id := range d.entities {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Pending returns the number of buffered updates for unknown entities.
func (d *Decoder) Pending() int {
	return d.pending.len()
}

// NewestTick returns the newest server tick seen.
func (d *Decoder) NewestTick() netconfig.Tick {
	return d.newest
}
