package network

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"time"

	"github.com/automoto/cubes-mp/shared/netconfig"
	"github.com/automoto/cubes-mp/shared/protocol"
)

type packetKind uint8

const (
	packetData packetKind = iota + 1
	packetAck
)

type packet struct {
	Kind    packetKind
	Channel ChannelID
	Seq     uint32
	Payload []byte
}

type peer struct {
	id    netconfig.ClientID
	lanes map[ChannelID]*reliableLane
	rtt   rttEstimator
}

func (p *peer) channels() []ChannelID {
	out := make([]ChannelID, 0, len(p.lanes))
	for ch := range p.lanes {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (p *peer) lane(ch ChannelID) *reliableLane {
	l, ok := p.lanes[ch]
	if !ok {
		l = newReliableLane()
		p.lanes[ch] = l
	}
	return l
}

// Options configures an Endpoint.
type Options struct {
	// Now is the clock used for retransmission and RTT. Defaults to time.Now.
	Now    func() time.Time
	Logger *log.Logger
	// InitialRTT is assumed until the first round trip is measured.
	InitialRTT time.Duration
}

// Endpoint is one peer's view of the channel layer. It is not safe for
// concurrent use: the owning simulation calls it from its tick only. Sends
// are queued on the transport and never block; Poll drains what arrived.
type Endpoint struct {
	transport  Transport
	now        func() time.Time
	logger     *log.Logger
	initialRTT time.Duration

	modes    map[ChannelID]DeliveryMode
	peers    map[netconfig.ClientID]*peer
	events   []PeerEvent
	failures []DeliveryFailure
}

func NewEndpoint(t Transport, opts Options) *Endpoint {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if opts.InitialRTT <= 0 {
		opts.InitialRTT = 100 * time.Millisecond
	}
	return &Endpoint{
		transport:  t,
		now:        opts.Now,
		logger:     opts.Logger,
		initialRTT: opts.InitialRTT,
		modes:      make(map[ChannelID]DeliveryMode),
		peers:      make(map[netconfig.ClientID]*peer),
	}
}

// Open declares channel id with the given delivery mode.
func (e *Endpoint) Open(id ChannelID, mode DeliveryMode) error {
	if _, ok := e.modes[id]; ok {
		return fmt.Errorf("%w: %d", ErrChannelExists, id)
	}
	if mode != UnorderedUnreliable && mode != OrderedReliable {
		return fmt.Errorf("channel %d: invalid delivery mode %s", id, mode)
	}
	e.modes[id] = mode
	return nil
}

// Peers returns the connected peers in ascending order.
func (e *Endpoint) Peers() []netconfig.ClientID {
	out := make([]netconfig.ClientID, 0, len(e.peers))
	for id := range e.peers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Connected reports whether id is a connected peer.
func (e *Endpoint) Connected(id netconfig.ClientID) bool {
	_, ok := e.peers[id]
	return ok
}

// RTT returns the smoothed round trip estimate to id.
func (e *Endpoint) RTT(id netconfig.ClientID) time.Duration {
	if p, ok := e.peers[id]; ok {
		return p.rtt.srtt
	}
	return e.initialRTT
}

// Send queues payload on channel id for every peer selected by target.
// Single targets that are not connected fail with ErrConnectionLost.
func (e *Endpoint) Send(id ChannelID, payload []byte, target Target) error {
	mode, ok := e.modes[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownChannel, id)
	}
	if target.Kind == TargetSingle && !e.Connected(target.ID) {
		return fmt.Errorf("%w: peer %d", ErrConnectionLost, target.ID)
	}

	now := e.now()
	var errs []error
	for _, to := range target.Resolve(e.Peers()) {
		p := e.peers[to]
		pkt := packet{Kind: packetData, Channel: id, Payload: payload}
		if mode == OrderedReliable {
			lane := p.lane(id)
			pkt.Seq = lane.nextSeq
			lane.nextSeq++
		}
		data, err := protocol.Marshal(pkt)
		if err != nil {
			errs = append(errs, fmt.Errorf("encode packet: %w", err))
			continue
		}
		if mode == OrderedReliable {
			p.lane(id).track(pkt.Seq, data, now)
		}
		if err := e.transport.Send(to, data); err != nil {
			if mode == OrderedReliable {
				// Stays unacked and is retransmitted while the peer lives.
				e.logger.Printf("[network] send to %d on channel %d: %v", to, id, err)
				continue
			}
			errs = append(errs, fmt.Errorf("send to %d: %w", to, err))
		}
	}
	return errors.Join(errs...)
}

// Poll handles peer events, drains received packets, acknowledges reliable
// ones and retransmits overdue ones. It returns messages ready for delivery.
func (e *Endpoint) Poll() []Delivery {
	for _, ev := range e.transport.Events() {
		switch ev.Kind {
		case PeerConnected:
			e.addPeer(ev.Peer)
		case PeerLost:
			e.dropPeer(ev.Peer, ev.Err)
		}
	}

	now := e.now()
	var out []Delivery
	for _, dg := range e.transport.Receive() {
		p, ok := e.peers[dg.From]
		if !ok {
			continue
		}
		var pkt packet
		if err := protocol.Unmarshal(dg.Data, &pkt); err != nil {
			e.logger.Printf("[network] malformed packet from %d: %v", dg.From, err)
			continue
		}
		mode, ok := e.modes[pkt.Channel]
		if !ok {
			e.logger.Printf("[network] packet from %d: %v", dg.From, fmt.Errorf("%w: %d", ErrUnknownChannel, pkt.Channel))
			continue
		}

		switch pkt.Kind {
		case packetAck:
			if sample, ok := p.lane(pkt.Channel).ack(pkt.Seq, now); ok {
				p.rtt.sample(sample)
			}
		case packetData:
			if mode == UnorderedUnreliable {
				out = append(out, Delivery{From: dg.From, Channel: pkt.Channel, Payload: pkt.Payload})
				continue
			}
			accepted, ready := p.lane(pkt.Channel).accept(pkt.Seq, pkt.Payload)
			if !accepted {
				continue
			}
			e.sendAck(dg.From, pkt.Channel, pkt.Seq)
			for _, payload := range ready {
				out = append(out, Delivery{From: dg.From, Channel: pkt.Channel, Payload: payload})
			}
		}
	}

	e.retransmit(now)
	return out
}

// Events returns and clears the peer events seen by Poll.
func (e *Endpoint) Events() []PeerEvent {
	out := e.events
	e.events = nil
	return out
}

// Failures returns and clears abandoned reliable sends.
func (e *Endpoint) Failures() []DeliveryFailure {
	out := e.failures
	e.failures = nil
	return out
}

// Disconnect tears down the connection to id. Its pending reliable sends
// are reported as failures.
func (e *Endpoint) Disconnect(id netconfig.ClientID) error {
	if !e.Connected(id) {
		return fmt.Errorf("%w: peer %d", ErrConnectionLost, id)
	}
	err := e.transport.Disconnect(id)
	e.dropPeer(id, errors.New("disconnected locally"))
	return err
}

// Close shuts down the transport.
func (e *Endpoint) Close() error {
	return e.transport.Close()
}

func (e *Endpoint) addPeer(id netconfig.ClientID) {
	if _, ok := e.peers[id]; ok {
		return
	}
	p := &peer{id: id, lanes: make(map[ChannelID]*reliableLane)}
	p.rtt.srtt, p.rtt.rttvar = e.initialRTT, e.initialRTT/2
	e.peers[id] = p
	e.events = append(e.events, PeerEvent{Peer: id, Kind: PeerConnected})
}

func (e *Endpoint) dropPeer(id netconfig.ClientID, cause error) {
	p, ok := e.peers[id]
	if !ok {
		return
	}
	delete(e.peers, id)

	for _, ch := range p.channels() {
		for _, pending := range p.lanes[ch].unacked {
			e.failures = append(e.failures, DeliveryFailure{
				Peer:    id,
				Channel: ch,
				Seq:     pending.seq,
				Err:     fmt.Errorf("%w: peer %d", ErrConnectionLost, id),
			})
		}
	}
	e.events = append(e.events, PeerEvent{Peer: id, Kind: PeerLost, Err: cause})
}

func (e *Endpoint) sendAck(to netconfig.ClientID, ch ChannelID, seq uint32) {
	data, err := protocol.Marshal(packet{Kind: packetAck, Channel: ch, Seq: seq})
	if err != nil {
		e.logger.Printf("[network] encode ack: %v", err)
		return
	}
	if err := e.transport.Send(to, data); err != nil {
		e.logger.Printf("[network] ack to %d: %v", to, err)
	}
}

func (e *Endpoint) retransmit(now time.Time) {
	for _, id := range e.Peers() {
		p := e.peers[id]
		rto := p.rtt.rto()
		for _, ch := range p.channels() {
			for _, pending := range p.lanes[ch].due(now, rto) {
				if err := e.transport.Send(id, pending.data); err != nil {
					e.logger.Printf("[network] retransmit to %d: %v", id, err)
				}
			}
		}
	}
}
