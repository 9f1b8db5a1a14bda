package client

import (
	"errors"
	"testing"
	"time"

	"github.com/automoto/cubes-mp/config"
	"github.com/automoto/cubes-mp/input"
	"github.com/automoto/cubes-mp/network"
	"github.com/automoto/cubes-mp/server/core"
	"github.com/automoto/cubes-mp/shared/messages"
	"github.com/automoto/cubes-mp/shared/movement"
	"github.com/automoto/cubes-mp/shared/netcomponents"
	"github.com/automoto/cubes-mp/shared/netconfig"
	"github.com/automoto/cubes-mp/shared/protocol"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/leap-fish/necs/esync"
)

const step = time.Second / 64

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func registry(t *testing.T) *protocol.Registry {
	t.Helper()
	r, err := protocol.NewGameRegistry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return r
}

type session struct {
	t      *testing.T
	clock  *fakeClock
	hub    *network.LoopbackHub
	server *core.Server
}

func newSession(t *testing.T, latency time.Duration, spawn mgl64.Vec3) *session {
	t.Helper()
	clock := &fakeClock{t: time.Unix(0, 0)}
	link := network.LinkConditioner{Latency: latency}
	hub := network.NewLoopbackHub(network.LoopbackOptions{
		Now:            clock.Now,
		ClientToServer: link,
		ServerToClient: link,
	})
	srv, err := core.NewServer(hub.Server(), registry(t), core.Options{
		TickRate:      64,
		Tuning:        movement.DefaultTuning(),
		SpawnPosition: spawn,
		Now:           clock.Now,
	})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	return &session{t: t, clock: clock, hub: hub, server: srv}
}

func (s *session) join(id netconfig.ClientID, source input.ActionSource) *Client {
	s.t.Helper()
	tr, err := s.hub.Connect(id)
	if err != nil {
		s.t.Fatalf("connect: %v", err)
	}
	c, err := New(tr, registry(s.t), Options{
		ClientID: id,
		TickRate: 64,
		Tuning:   movement.DefaultTuning(),
		Source:   source,
		Epsilon:  1e-9,
		Now:      s.clock.Now,
	})
	if err != nil {
		s.t.Fatalf("client: %v", err)
	}
	c.MarkAssetsLoaded()
	return c
}

// run advances the shared clock one step at a time, ticking the server and
// then every client, and calls after once per step.
func (s *session) run(steps int, clients []*Client, after func()) {
	s.t.Helper()
	for i := 0; i < steps; i++ {
		s.clock.t = s.clock.t.Add(step)
		if err := s.server.Tick(); err != nil {
			s.t.Fatalf("server tick: %v", err)
		}
		if after != nil {
			after()
		}
		for _, c := range clients {
			c.Update(step)
		}
	}
}

func TestJumpPredictedWithoutRollback(t *testing.T) {
	const jumpTick netconfig.Tick = 100
	s := newSession(t, 30*time.Millisecond, mgl64.Vec3{0, 10, 0})

	jump := input.ActionSourceFunc(func(tick netconfig.Tick) netconfig.ActionState {
		if tick >= jumpTick {
			return netconfig.ActionsFrom(netconfig.ActionJump)
		}
		return 0
	})
	c := s.join(1234, jump)

	var atJump movement.State
	var seen bool
	s.run(int(jumpTick)+10, []*Client{c}, func() {
		if s.server.CurrentTick() == jumpTick {
			atJump, seen = s.server.PlayerState(1234)
		}
	})

	if c.State() != StatePlaying {
		t.Fatalf("expected playing, got %s", c.State())
	}
	if !seen {
		t.Fatalf("expected server state at tick %d", jumpTick)
	}
	if atJump.Velocity.Y() <= 0 {
		t.Fatalf("expected the server to apply the jump at tick %d, got vy %v", jumpTick, atJump.Velocity.Y())
	}
	if c.Tick() <= s.server.CurrentTick() {
		t.Fatalf("expected client tick %d ahead of server tick %d", c.Tick(), s.server.CurrentTick())
	}

	predicted, ok := c.Engine().StateAt(jumpTick)
	if !ok {
		t.Fatalf("expected a predicted state for tick %d", jumpTick)
	}
	if !predicted.Within(atJump, 1e-9) {
		t.Fatalf("expected prediction %+v to equal authority %+v", predicted, atJump)
	}
	stats := c.Engine().Stats()
	if stats.Rollbacks != 0 {
		t.Fatalf("expected no rollbacks, got %d", stats.Rollbacks)
	}
	if stats.Matched == 0 {
		t.Fatalf("expected confirmed states to match the prediction")
	}
}

func TestRemoteEntityIsInterpolated(t *testing.T) {
	s := newSession(t, 0, mgl64.Vec3{0, 2, 0})
	a := s.join(1, nil)
	walk := input.ActionSourceFunc(func(netconfig.Tick) netconfig.ActionState {
		return netconfig.ActionsFrom(netconfig.ActionRight)
	})
	b := s.join(2, walk)
	s.run(60, []*Client{a, b}, nil)

	if got := a.Roster(); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("expected roster [1 2], got %v", got)
	}

	views := a.View()
	if len(views) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(views))
	}
	sources := map[netconfig.ClientID]Source{}
	for _, v := range views {
		sources[v.Owner] = v.Source
	}
	if sources[1] != SourcePredicted || sources[2] != SourceInterpolated {
		t.Fatalf("expected own predicted and remote interpolated, got %v", sources)
	}

	for _, v := range views {
		if v.Owner == 2 && v.Transform.Translation.X() <= 0 {
			t.Fatalf("expected client 2 to have walked right, got x %v", v.Transform.Translation.X())
		}
	}
}

func TestServerLossDisconnects(t *testing.T) {
	s := newSession(t, 0, mgl64.Vec3{0, 2, 0})
	a := s.join(1, nil)
	b := s.join(2, nil)
	s.run(10, []*Client{a, b}, nil)

	s.hub.Drop(2)
	s.run(3, []*Client{a, b}, nil)

	if b.State() != StateDisconnected {
		t.Fatalf("expected client 2 disconnected, got %s", b.State())
	}
	if got := a.Roster(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("expected roster [1], got %v", got)
	}
	if views := a.View(); len(views) != 1 || views[0].Owner != 1 {
		t.Fatalf("expected only the own entity left, got %+v", views)
	}
}

func TestUpdateBeforeSpawnDoesNotRollBack(t *testing.T) {
	const (
		id    netconfig.ClientID = 1234
		owned esync.NetworkId    = 7
	)
	hub := network.NewLoopbackHub(network.LoopbackOptions{})
	tr, err := hub.Connect(id)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	c, err := New(tr, registry(t), Options{
		ClientID: id,
		TickRate: 64,
		Tuning:   movement.DefaultTuning(),
		Epsilon:  1e-9,
	})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	c.MarkAssetsLoaded()

	// Idle input recorded up to tick 30, with the clock leading at 30.
	for tick := netconfig.Tick(1); tick <= 30; tick++ {
		c.capture.Sample(tick)
	}
	c.clock.Sync(20, 10)

	// A body falling from rest with no input.
	level := movement.NewLevel(nil)
	at10 := movement.State{Position: mgl64.Vec3{0, 10, 0}, Rotation: mgl64.QuatIdent()}
	at20 := at10
	for i := 0; i < 10; i++ {
		at20 = movement.Step(level, movement.DefaultTuning(), at20, 0, 1.0/64)
	}

	update := func(tick netconfig.Tick, spawn bool, s movement.State) []byte {
		t.Helper()
		var comps []messages.ComponentUpdate
		add := func(kind netconfig.ComponentKind, v any) {
			data, err := protocol.Marshal(v)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			comps = append(comps, messages.ComponentUpdate{Kind: kind, Data: data})
		}
		if spawn {
			add(netconfig.KindPlayerID, netcomponents.PlayerIDData{Owner: id})
		}
		add(netconfig.KindTransform, netcomponents.TransformData{Translation: s.Position, Rotation: s.Rotation})
		add(netconfig.KindLinearVelocity, netcomponents.LinearVelocityData{V: s.Velocity})
		payload, err := protocol.EncodeMessage(messages.Replication{
			Version: netconfig.ProtocolVersion,
			Tick:    tick,
			Entities: []messages.EntityUpdate{
				{Entity: owned, Spawn: spawn, Role: netconfig.RolePredicted, Components: comps},
			},
		})
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		return payload
	}

	// The tick 20 update overtakes the tick 10 spawn.
	for _, payload := range [][]byte{update(20, false, at20), update(10, true, at10)} {
		res, ok := c.decode(payload)
		if !ok {
			t.Fatalf("expected payload to decode")
		}
		c.route(res)
	}

	if c.State() != StatePlaying {
		t.Fatalf("expected playing, got %s", c.State())
	}
	seeded, ok := c.Engine().StateAt(10)
	if !ok || !seeded.Within(at10, 1e-9) {
		t.Fatalf("expected tick 10 seeded with %+v, got %+v", at10, seeded)
	}
	stats := c.Engine().Stats()
	if stats.Rollbacks != 0 || stats.Matched != 1 {
		t.Fatalf("expected one match and no rollback, got %+v", stats)
	}
}

func TestReservedClientID(t *testing.T) {
	hub := network.NewLoopbackHub(network.LoopbackOptions{})
	tr, err := hub.Connect(7)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := New(tr, registry(t), Options{ClientID: netconfig.ServerID}); err == nil {
		t.Fatalf("expected the server id to be rejected")
	}
}

type memStore struct {
	items map[string][]byte
	fail  error
}

func (m *memStore) LoadItem(key string) ([]byte, error) {
	if m.fail != nil {
		return nil, m.fail
	}
	return m.items[key], nil
}

func (m *memStore) SaveItem(key string, data []byte) error {
	m.items[key] = data
	return nil
}

func TestProfileIsCreatedOnce(t *testing.T) {
	store := &memStore{items: map[string][]byte{}}
	calls := 0
	newID := func() netconfig.ClientID {
		calls++
		return 4242
	}

	p, err := LoadProfile(store, newID)
	if err != nil || p.ClientID != 4242 {
		t.Fatalf("expected new profile 4242, got %+v %v", p, err)
	}
	p, err = LoadProfile(store, newID)
	if err != nil || p.ClientID != 4242 {
		t.Fatalf("expected stored profile 4242, got %+v %v", p, err)
	}
	if calls != 1 {
		t.Fatalf("expected one id to be generated, got %d", calls)
	}
}

func TestProfileErrors(t *testing.T) {
	boom := errors.New("disk gone")
	if _, err := LoadProfile(&memStore{fail: boom}, nil); !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
	store := &memStore{items: map[string][]byte{profileKey: []byte("{")}}
	if _, err := LoadProfile(store, nil); err == nil {
		t.Fatalf("expected a parse error")
	}
	empty := &memStore{items: map[string][]byte{}}
	if _, err := LoadProfile(empty, func() netconfig.ClientID { return netconfig.ServerID }); err == nil {
		t.Fatalf("expected the reserved id to be rejected")
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	opts := OptionsFromConfig(cfg, 77, nil, nil, nil)
	if opts.ClientID != 77 || opts.TickRate != 64 || opts.Level == nil || opts.Epsilon != cfg.Client.Epsilon {
		t.Fatalf("unexpected client options %+v", opts)
	}
	if opts.InterpolationDelayTicks != cfg.Client.InterpolationDelayTicks {
		t.Fatalf("expected interpolation delay %d, got %d", cfg.Client.InterpolationDelayTicks, opts.InterpolationDelayTicks)
	}
}
