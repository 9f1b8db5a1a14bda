package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/automoto/cubes-mp/shared/netconfig"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1000, 0)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestEndpoint(t *testing.T, tr Transport, clock *fakeClock) *Endpoint {
	t.Helper()
	e := NewEndpoint(tr, Options{Now: clock.Now})
	if err := OpenStandardChannels(e); err != nil {
		t.Fatalf("open channels: %v", err)
	}
	return e
}

func connectClient(t *testing.T, hub *LoopbackHub, id netconfig.ClientID, clock *fakeClock) *Endpoint {
	t.Helper()
	tr, err := hub.Connect(id)
	if err != nil {
		t.Fatalf("connect %d: %v", id, err)
	}
	e := newTestEndpoint(t, tr, clock)
	e.Poll()
	if !e.Connected(netconfig.ServerID) {
		t.Fatalf("client %d: expected server peer after poll", id)
	}
	return e
}

func TestReliableChannelOrderedUnderLossAndJitter(t *testing.T) {
	clock := newFakeClock()
	bad := LinkConditioner{Latency: 20 * time.Millisecond, Jitter: 40 * time.Millisecond, Loss: 0.3}
	hub := NewLoopbackHub(LoopbackOptions{Now: clock.Now, Seed: 7, ClientToServer: bad, ServerToClient: bad})

	server := newTestEndpoint(t, hub.Server(), clock)
	client := connectClient(t, hub, 1, clock)
	server.Poll()

	const count = 50
	for i := 0; i < count; i++ {
		if err := client.Send(ChannelControl, []byte{byte(i)}, Single(netconfig.ServerID)); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	var got []byte
	for step := 0; step < 20000 && len(got) < count; step++ {
		clock.Advance(5 * time.Millisecond)
		for _, d := range server.Poll() {
			if d.Channel != ChannelControl || d.From != 1 {
				t.Fatalf("unexpected delivery %+v", d)
			}
			got = append(got, d.Payload...)
		}
		client.Poll()
	}

	if len(got) != count {
		t.Fatalf("expected %d messages, got %d", count, len(got))
	}
	for i, b := range got {
		if int(b) != i {
			t.Fatalf("expected message %d at position %d, got %d", i, i, b)
		}
	}
}

func TestReliableChannelDeliversExactlyOnce(t *testing.T) {
	clock := newFakeClock()
	// Acks are always lost so every message is retransmitted repeatedly.
	hub := NewLoopbackHub(LoopbackOptions{
		Now:            clock.Now,
		ClientToServer: LinkConditioner{Loss: 1},
	})
	server := newTestEndpoint(t, hub.Server(), clock)
	client := connectClient(t, hub, 1, clock)
	server.Poll()

	for i := 0; i < 3; i++ {
		if err := server.Send(ChannelReplicationActions, []byte{byte(i)}, Single(1)); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	var got []byte
	for step := 0; step < 400; step++ {
		clock.Advance(10 * time.Millisecond)
		server.Poll()
		for _, d := range client.Poll() {
			got = append(got, d.Payload...)
		}
	}
	if !bytes.Equal(got, []byte{0, 1, 2}) {
		t.Fatalf("expected [0 1 2] once, got %v", got)
	}
}

func TestTargetsSelectPeers(t *testing.T) {
	clock := newFakeClock()
	hub := NewLoopbackHub(LoopbackOptions{Now: clock.Now})
	server := newTestEndpoint(t, hub.Server(), clock)
	clients := map[netconfig.ClientID]*Endpoint{}
	for _, id := range []netconfig.ClientID{1, 2, 3} {
		clients[id] = connectClient(t, hub, id, clock)
	}
	server.Poll()

	cases := []struct {
		target Target
		want   map[netconfig.ClientID]bool
	}{
		{All(), map[netconfig.ClientID]bool{1: true, 2: true, 3: true}},
		{AllExcept(2), map[netconfig.ClientID]bool{1: true, 3: true}},
		{Single(3), map[netconfig.ClientID]bool{3: true}},
		{None(), map[netconfig.ClientID]bool{}},
	}
	for _, tc := range cases {
		t.Run(tc.target.String(), func(t *testing.T) {
			if err := server.Send(ChannelReplicationUpdates, []byte("x"), tc.target); err != nil {
				t.Fatalf("send: %v", err)
			}
			for id, c := range clients {
				got := len(c.Poll()) > 0
				if got != tc.want[id] {
					t.Fatalf("client %d: expected delivery %v, got %v", id, tc.want[id], got)
				}
			}
		})
	}
}

func TestTargetResolveSorted(t *testing.T) {
	got := AllExcept(5).Resolve([]netconfig.ClientID{9, 5, 2, 7})
	want := []netconfig.ClientID{2, 7, 9}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestDroppedPeerFailsPendingReliableSends(t *testing.T) {
	clock := newFakeClock()
	hub := NewLoopbackHub(LoopbackOptions{Now: clock.Now, ServerToClient: LinkConditioner{Latency: time.Second}})
	server := newTestEndpoint(t, hub.Server(), clock)
	connectClient(t, hub, 1, clock)
	server.Poll()
	server.Events()

	if err := server.Send(ChannelReplicationActions, []byte("spawn"), Single(1)); err != nil {
		t.Fatalf("send: %v", err)
	}
	hub.Drop(1)
	server.Poll()

	failures := server.Failures()
	if len(failures) != 1 {
		t.Fatalf("expected 1 delivery failure, got %d", len(failures))
	}
	if !errors.Is(failures[0], ErrConnectionLost) {
		t.Fatalf("expected ErrConnectionLost, got %v", failures[0])
	}
	if failures[0].Channel != ChannelReplicationActions || failures[0].Peer != 1 {
		t.Fatalf("unexpected failure %+v", failures[0])
	}

	events := server.Events()
	if len(events) != 1 || events[0].Kind != PeerLost || events[0].Peer != 1 {
		t.Fatalf("expected one PeerLost for 1, got %+v", events)
	}

	if err := server.Send(ChannelControl, []byte("late"), Single(1)); !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("expected ErrConnectionLost for send to gone peer, got %v", err)
	}
	if err := server.Send(ChannelControl, []byte("noop"), All()); err != nil {
		t.Fatalf("expected broadcast to no peers to succeed, got %v", err)
	}
}

func TestChannelErrors(t *testing.T) {
	hub := NewLoopbackHub(LoopbackOptions{})
	e := NewEndpoint(hub.Server(), Options{})

	if err := e.Send(ChannelControl, nil, All()); !errors.Is(err, ErrUnknownChannel) {
		t.Fatalf("expected ErrUnknownChannel, got %v", err)
	}
	if err := e.Open(ChannelControl, OrderedReliable); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := e.Open(ChannelControl, UnorderedUnreliable); !errors.Is(err, ErrChannelExists) {
		t.Fatalf("expected ErrChannelExists, got %v", err)
	}
	if err := e.Open(9, DeliveryMode(0)); err == nil {
		t.Fatalf("expected error for invalid delivery mode")
	}
}

func TestLoopbackLatency(t *testing.T) {
	clock := newFakeClock()
	hub := NewLoopbackHub(LoopbackOptions{Now: clock.Now, ClientToServer: LinkConditioner{Latency: 50 * time.Millisecond}})
	tr, err := hub.Connect(4)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := hub.Connect(4); err == nil {
		t.Fatalf("expected duplicate connect to fail")
	}
	if err := tr.Send(netconfig.ServerID, []byte("hi")); err != nil {
		t.Fatalf("send: %v", err)
	}

	clock.Advance(49 * time.Millisecond)
	if got := hub.Server().Receive(); len(got) != 0 {
		t.Fatalf("expected nothing before latency elapsed, got %d", len(got))
	}
	clock.Advance(time.Millisecond)
	got := hub.Server().Receive()
	if len(got) != 1 || string(got[0].Data) != "hi" || got[0].From != 4 {
		t.Fatalf("expected one datagram from 4, got %+v", got)
	}
}

func TestIdentityToken(t *testing.T) {
	key := bytes.Repeat([]byte{7}, KeySize)
	id := Identity{ProtocolID: 1, Key: key}

	token, err := id.Token(1234)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if err := id.Verify(1, 1234, token); err != nil {
		t.Fatalf("expected valid token, got %v", err)
	}
	if err := id.Verify(1, 1235, token); err == nil {
		t.Fatalf("expected token for another client to be rejected")
	}
	if err := id.Verify(2, 1234, token); err == nil {
		t.Fatalf("expected protocol mismatch to be rejected")
	}

	other := Identity{ProtocolID: 1, Key: bytes.Repeat([]byte{8}, KeySize)}
	if err := other.Verify(1, 1234, token); err == nil {
		t.Fatalf("expected token from another key to be rejected")
	}
	if _, err := (Identity{Key: []byte("short")}).Token(1); err == nil {
		t.Fatalf("expected short key to be rejected")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestWebsocketHandshakeAndTraffic(t *testing.T) {
	identity := Identity{ProtocolID: 1, Key: make([]byte, KeySize)}
	srv, err := ListenWebsocket("127.0.0.1:0", identity, 64, nil)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer srv.Close()
	url := "ws://" + srv.Addr().String()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bad := Identity{ProtocolID: 1, Key: bytes.Repeat([]byte{1}, KeySize)}
	if _, err := DialWebsocket(ctx, url, 99, bad); !errors.Is(err, ErrConnectRejected) {
		t.Fatalf("expected dial with wrong key to be rejected, got %v", err)
	}

	client, err := DialWebsocket(ctx, url, 1234, identity)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	_, err = DialWebsocket(ctx, url, 1234, identity)
	if !errors.Is(err, ErrConnectRejected) || !strings.Contains(err.Error(), "already connected") {
		t.Fatalf("expected duplicate id rejected with a reason, got %v", err)
	}
	if client.TickRate() != 64 {
		t.Fatalf("expected tick rate 64, got %d", client.TickRate())
	}

	var serverEvents []PeerEvent
	waitFor(t, "server connect event", func() bool {
		serverEvents = append(serverEvents, srv.Events()...)
		return len(serverEvents) > 0
	})
	if serverEvents[0].Peer != 1234 || serverEvents[0].Kind != PeerConnected {
		t.Fatalf("expected PeerConnected for 1234, got %+v", serverEvents[0])
	}

	if err := client.Send(netconfig.ServerID, []byte("ping")); err != nil {
		t.Fatalf("client send: %v", err)
	}
	var inbox []Datagram
	waitFor(t, "server receive", func() bool {
		inbox = append(inbox, srv.Receive()...)
		return len(inbox) > 0
	})
	if inbox[0].From != 1234 || string(inbox[0].Data) != "ping" {
		t.Fatalf("unexpected datagram %+v", inbox[0])
	}

	if err := srv.Send(1234, []byte("pong")); err != nil {
		t.Fatalf("server send: %v", err)
	}
	var replies []Datagram
	waitFor(t, "client receive", func() bool {
		replies = append(replies, client.Receive()...)
		return len(replies) > 0
	})
	if string(replies[0].Data) != "pong" {
		t.Fatalf("expected pong, got %q", replies[0].Data)
	}

	if err := srv.Disconnect(1234); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	waitFor(t, "server lost event", func() bool {
		for _, ev := range srv.Events() {
			if ev.Kind == PeerLost && ev.Peer == 1234 {
				return true
			}
		}
		return false
	})
}
