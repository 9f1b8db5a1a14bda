package replication

import (
	"fmt"
	"io"
	"log"
	"sort"

	"github.com/automoto/cubes-mp/network"
	"github.com/automoto/cubes-mp/shared/messages"
	"github.com/automoto/cubes-mp/shared/netconfig"
	"github.com/automoto/cubes-mp/shared/protocol"
	"github.com/leap-fish/necs/esync"
	"github.com/yohamta/donburi"
)

// Source is one replicated server entity handed to the encoder.
type Source struct {
	ID    esync.NetworkId
	Entry *donburi.Entry
}

// Outgoing is one encoded message and the peers it goes to.
type Outgoing struct {
	Channel network.ChannelID
	Target  network.Target
	Payload []byte
}

// sentEntity is what one connection already knows about an entity.
type sentEntity struct {
	role netconfig.Role
	once map[netconfig.ComponentKind]bool
}

type connView struct {
	known map[esync.NetworkId]*sentEntity
}

// Encoder tracks per-connection visibility and builds one message per
// channel and target partition each time it runs.
type Encoder struct {
	registry *protocol.Registry
	logger   *log.Logger
	conns    map[netconfig.ClientID]*connView
}

func NewEncoder(registry *protocol.Registry, logger *log.Logger) *Encoder {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Encoder{
		registry: registry,
		logger:   logger,
		conns:    make(map[netconfig.ClientID]*connView),
	}
}

// AddConnection starts replicating to id. Everything visible to it is
// spawned on the next Encode.
func (e *Encoder) AddConnection(id netconfig.ClientID) {
	if _, ok := e.conns[id]; ok {
		return
	}
	e.conns[id] = &connView{known: make(map[esync.NetworkId]*sentEntity)}
}

func (e *Encoder) RemoveConnection(id netconfig.ClientID) {
	delete(e.conns, id)
}

// Known reports whether entity has been spawned on connection id.
func (e *Encoder) Known(id netconfig.ClientID, entity esync.NetworkId) bool {
	c, ok := e.conns[id]
	if !ok {
		return false
	}
	_, ok = c.known[entity]
	return ok
}

type partition struct {
	channel network.ChannelID
	payload []byte
	members []netconfig.ClientID
}

// Encode builds the replication for tick. peers is the connected peer set of
// the endpoint the result is sent on; it decides whether a partition can be
// addressed as All or AllExcept.
func (e *Encoder) Encode(tick netconfig.Tick, peers []netconfig.ClientID, sources []Source) []Outgoing {
	sorted := append([]Source(nil), sources...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	connected := make(map[netconfig.ClientID]bool, len(peers))
	for _, p := range peers {
		connected[p] = true
	}

	var parts []*partition
	index := make(map[string]*partition)
	add := func(ch network.ChannelID, payload []byte, member netconfig.ClientID) {
		key := fmt.Sprintf("%d:%s", ch, payload)
		p, ok := index[key]
		if !ok {
			p = &partition{channel: ch, payload: payload}
			index[key] = p
			parts = append(parts, p)
		}
		p.members = append(p.members, member)
	}

	for _, id := range e.connectionIDs() {
		if !connected[id] {
			continue
		}
		actions, updates := e.encodeFor(id, e.conns[id], tick, sorted)
		for _, m := range []struct {
			ch  network.ChannelID
			msg messages.Replication
		}{
			{network.ChannelReplicationActions, actions},
			{network.ChannelReplicationUpdates, updates},
		} {
			if m.msg.Empty() {
				continue
			}
			payload, err := protocol.EncodeMessage(m.msg)
			if err != nil {
				e.logger.Printf("[replication] encode for %d: %v", id, err)
				continue
			}
			add(m.ch, payload, id)
		}
	}

	var out []Outgoing
	for _, p := range parts {
		for _, target := range partitionTargets(p.members, peers) {
			out = append(out, Outgoing{Channel: p.channel, Target: target, Payload: p.payload})
		}
	}
	return out
}

func (e *Encoder) connectionIDs() []netconfig.ClientID {
	ids := make([]netconfig.ClientID, 0, len(e.conns))
	for id := range e.conns {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// encodeFor builds the reliable and unreliable message for one connection
// and updates what it knows.
func (e *Encoder) encodeFor(id netconfig.ClientID, view *connView, tick netconfig.Tick, sources []Source) (messages.Replication, messages.Replication) {
	actions := messages.Replication{Version: netconfig.ProtocolVersion, Tick: tick}
	updates := messages.Replication{Version: netconfig.ProtocolVersion, Tick: tick}

	visible := make(map[esync.NetworkId]bool, len(sources))
	for _, src := range sources {
		if src.Entry == nil || !src.Entry.Valid() || !src.Entry.HasComponent(Replicate) {
			continue
		}
		rep := Replicate.Get(src.Entry)

		var once, full []messages.ComponentUpdate
		for _, c := range e.registry.Components() {
			if !c.Has(src.Entry) || !rep.TargetFor(c.Kind()).Includes(id) {
				continue
			}
			data, err := c.Encode(src.Entry)
			if err != nil {
				e.logger.Printf("[replication] entity %d: %v", src.ID, err)
				continue
			}
			upd := messages.ComponentUpdate{Kind: c.Kind(), Data: data}
			if c.Mode() == netconfig.SyncOnce {
				once = append(once, upd)
			} else {
				full = append(full, upd)
			}
		}
		if len(once) == 0 && len(full) == 0 {
			continue
		}
		visible[src.ID] = true
		role := rep.RoleFor(id)

		sent, known := view.known[src.ID]
		if !known {
			sent = &sentEntity{role: role, once: make(map[netconfig.ComponentKind]bool)}
			view.known[src.ID] = sent
			for _, u := range once {
				sent.once[u.Kind] = true
			}
			actions.Entities = append(actions.Entities, messages.EntityUpdate{
				Entity:     src.ID,
				Spawn:      true,
				Role:       role,
				Components: append(once, full...),
			})
			continue
		}

		var newOnce []messages.ComponentUpdate
		for _, u := range once {
			if !sent.once[u.Kind] {
				sent.once[u.Kind] = true
				newOnce = append(newOnce, u)
			}
		}
		if len(newOnce) > 0 || sent.role != role {
			sent.role = role
			actions.Entities = append(actions.Entities, messages.EntityUpdate{
				Entity:     src.ID,
				Role:       role,
				Components: newOnce,
			})
		}
		if len(full) > 0 {
			updates.Entities = append(updates.Entities, messages.EntityUpdate{
				Entity:     src.ID,
				Role:       role,
				Components: full,
			})
		}
	}

	for nid := range view.known {
		if !visible[nid] {
			actions.Despawns = append(actions.Despawns, nid)
			delete(view.known, nid)
		}
	}
	sort.Slice(actions.Despawns, func(i, j int) bool { return actions.Despawns[i] < actions.Despawns[j] })
	return actions, updates
}

// partitionTargets addresses members with as few targets as possible.
// members and peers are sorted and members is a subset of peers.
func partitionTargets(members, peers []netconfig.ClientID) []network.Target {
	if len(members) == len(peers) {
		return []network.Target{network.All()}
	}
	if len(peers) > 2 && len(members) == len(peers)-1 {
		in := make(map[netconfig.ClientID]bool, len(members))
		for _, m := range members {
			in[m] = true
		}
		for _, p := range peers {
			if !in[p] {
				return []network.Target{network.AllExcept(p)}
			}
		}
	}
	out := make([]network.Target, len(members))
	for i, m := range members {
		out[i] = network.Single(m)
	}
	return out
}
