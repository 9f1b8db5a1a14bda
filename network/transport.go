package network

import "github.com/automoto/cubes-mp/shared/netconfig"

// Datagram is one packet received from a peer.
type Datagram struct {
	From netconfig.ClientID
	Data []byte
}

type PeerEventKind uint8

const (
	PeerConnected PeerEventKind = iota + 1
	PeerLost
)

func (k PeerEventKind) String() string {
	if k == PeerConnected {
		return "connected"
	}
	return "lost"
}

// PeerEvent reports a peer joining or leaving.
type PeerEvent struct {
	Peer netconfig.ClientID
	Kind PeerEventKind
	Err  error
}

// Transport carries datagrams between peers. It may drop, delay or reorder
// them. Every method is non-blocking; Receive and Events drain what has
// arrived since the last call.
type Transport interface {
	Send(to netconfig.ClientID, data []byte) error
	Receive() []Datagram
	Events() []PeerEvent
	// Disconnect tears down the connection to peer.
	Disconnect(peer netconfig.ClientID) error
	Close() error
}
