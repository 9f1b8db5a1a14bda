package network

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/automoto/cubes-mp/shared/netconfig"
)

// LinkConditioner simulates a bad network on one direction of a link.
type LinkConditioner struct {
	Latency time.Duration `yaml:"latency" env:"LATENCY"`
	Jitter  time.Duration `yaml:"jitter" env:"JITTER"`
	// Loss is the probability in [0, 1] that a datagram is dropped.
	Loss float64 `yaml:"loss" env:"LOSS"`
}

// LoopbackOptions configures a LoopbackHub.
type LoopbackOptions struct {
	Now            func() time.Time
	Seed           int64
	ClientToServer LinkConditioner
	ServerToClient LinkConditioner
}

// LoopbackHub connects a server and its clients inside one process. All
// traffic still goes through Transport, so a co-located client behaves like a
// remote one. The hub is safe for concurrent use by the server and client
// goroutines.
type LoopbackHub struct {
	mu      sync.Mutex
	now     func() time.Time
	rng     *rand.Rand
	up      LinkConditioner
	down    LinkConditioner
	seq     uint64
	server  *loopbackEnd
	clients map[netconfig.ClientID]*loopbackEnd
	closed  bool
}

type inflight struct {
	at  time.Time
	seq uint64
	dg  Datagram
}

type loopbackEnd struct {
	hub    *LoopbackHub
	id     netconfig.ClientID
	server bool
	inbox  []inflight
	events []PeerEvent
	closed bool
}

func NewLoopbackHub(opts LoopbackOptions) *LoopbackHub {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	h := &LoopbackHub{
		now:     opts.Now,
		rng:     rand.New(rand.NewSource(opts.Seed)),
		up:      opts.ClientToServer,
		down:    opts.ServerToClient,
		clients: make(map[netconfig.ClientID]*loopbackEnd),
	}
	h.server = &loopbackEnd{hub: h, id: netconfig.ServerID, server: true}
	return h
}

// Server returns the server side transport.
func (h *LoopbackHub) Server() Transport {
	return h.server
}

// Connect attaches a client with identity id and returns its transport.
func (h *LoopbackHub) Connect(id netconfig.ClientID) (Transport, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, errors.New("loopback: hub closed")
	}
	if _, ok := h.clients[id]; ok {
		return nil, fmt.Errorf("loopback: client %d already connected", id)
	}
	end := &loopbackEnd{hub: h, id: id}
	h.clients[id] = end
	end.events = append(end.events, PeerEvent{Peer: netconfig.ServerID, Kind: PeerConnected})
	h.server.events = append(h.server.events, PeerEvent{Peer: id, Kind: PeerConnected})
	return end, nil
}

// Drop simulates the transport losing client id.
func (h *LoopbackHub) Drop(id netconfig.ClientID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(id, errors.New("loopback: link dropped"))
}

func (h *LoopbackHub) dropLocked(id netconfig.ClientID, cause error) {
	end, ok := h.clients[id]
	if !ok {
		return
	}
	delete(h.clients, id)
	end.closed = true
	end.inbox = nil
	end.events = append(end.events, PeerEvent{Peer: netconfig.ServerID, Kind: PeerLost, Err: cause})
	h.server.events = append(h.server.events, PeerEvent{Peer: id, Kind: PeerLost, Err: cause})
}

func (e *loopbackEnd) Send(to netconfig.ClientID, data []byte) error {
	h := e.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if e.closed {
		return fmt.Errorf("loopback: %w", ErrConnectionLost)
	}
	var dst *loopbackEnd
	cond := h.up
	if e.server {
		dst = h.clients[to]
		cond = h.down
	} else if to == netconfig.ServerID {
		dst = h.server
	}
	if dst == nil {
		return fmt.Errorf("loopback: peer %d: %w", to, ErrConnectionLost)
	}

	if cond.Loss > 0 && h.rng.Float64() < cond.Loss {
		return nil
	}
	delay := cond.Latency
	if cond.Jitter > 0 {
		delay += time.Duration(h.rng.Int63n(int64(cond.Jitter)))
	}

	h.seq++
	dst.inbox = append(dst.inbox, inflight{
		at:  h.now().Add(delay),
		seq: h.seq,
		dg:  Datagram{From: e.id, Data: append([]byte(nil), data...)},
	})
	return nil
}

func (e *loopbackEnd) Receive() []Datagram {
	h := e.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	var ready []inflight
	pending := e.inbox[:0]
	for _, in := range e.inbox {
		if !in.at.After(now) {
			ready = append(ready, in)
		} else {
			pending = append(pending, in)
		}
	}
	e.inbox = pending

	sort.Slice(ready, func(i, j int) bool {
		if !ready[i].at.Equal(ready[j].at) {
			return ready[i].at.Before(ready[j].at)
		}
		return ready[i].seq < ready[j].seq
	})
	out := make([]Datagram, len(ready))
	for i, in := range ready {
		out[i] = in.dg
	}
	return out
}

func (e *loopbackEnd) Events() []PeerEvent {
	h := e.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	out := e.events
	e.events = nil
	return out
}

func (e *loopbackEnd) Disconnect(peer netconfig.ClientID) error {
	h := e.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	cause := errors.New("loopback: disconnected")
	if e.server {
		h.dropLocked(peer, cause)
	} else {
		h.dropLocked(e.id, cause)
	}
	return nil
}

func (e *loopbackEnd) Close() error {
	h := e.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	cause := errors.New("loopback: closed")
	if !e.server {
		h.dropLocked(e.id, cause)
		return nil
	}
	h.closed = true
	ids := make([]netconfig.ClientID, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		h.dropLocked(id, cause)
	}
	return nil
}
