// Package network is the channel layer: typed, reliable-ordered and
// unreliable message lanes between a server and its clients, over any
// Transport that can carry datagrams.
package network

import (
	"errors"
	"fmt"
	"sort"

	"github.com/automoto/cubes-mp/shared/netconfig"
)

var (
	// ErrConnectionLost is reported for sends to a peer that is gone, and for
	// reliable sends abandoned because their peer went away.
	ErrConnectionLost = errors.New("connection lost")
	ErrUnknownChannel = errors.New("unknown channel")
	ErrChannelExists  = errors.New("channel already open")
)

// DeliveryMode selects the guarantees of a channel.
type DeliveryMode uint8

const (
	// UnorderedUnreliable delivers each message at most once, in any order.
	UnorderedUnreliable DeliveryMode = iota + 1
	// OrderedReliable delivers each message exactly once, in send order,
	// for as long as the connection lives.
	OrderedReliable
)

func (m DeliveryMode) String() string {
	switch m {
	case UnorderedUnreliable:
		return "unordered-unreliable"
	case OrderedReliable:
		return "ordered-reliable"
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

// ChannelID names a lane. Ordering holds within a channel, never across channels.
type ChannelID uint8

const (
	ChannelControl ChannelID = iota + 1
	ChannelInput
	ChannelReplicationActions
	ChannelReplicationUpdates
)

// StandardChannels lists the lanes both peers open.
var StandardChannels = []struct {
	ID   ChannelID
	Mode DeliveryMode
}{
	{ChannelControl, OrderedReliable},
	{ChannelInput, UnorderedUnreliable},
	{ChannelReplicationActions, OrderedReliable},
	{ChannelReplicationUpdates, UnorderedUnreliable},
}

// OpenStandardChannels opens every standard channel on e.
func OpenStandardChannels(e *Endpoint) error {
	for _, ch := range StandardChannels {
		if err := e.Open(ch.ID, ch.Mode); err != nil {
			return err
		}
	}
	return nil
}

// TargetKind is the routing rule of a Target.
type TargetKind uint8

const (
	TargetNone TargetKind = iota
	TargetSingle
	TargetAllExcept
	TargetAll
)

// Target selects the connected peers a message is sent to.
type Target struct {
	Kind TargetKind
	ID   netconfig.ClientID
}

func None() Target                           { return Target{Kind: TargetNone} }
func Single(id netconfig.ClientID) Target    { return Target{Kind: TargetSingle, ID: id} }
func AllExcept(id netconfig.ClientID) Target { return Target{Kind: TargetAllExcept, ID: id} }
func All() Target                            { return Target{Kind: TargetAll} }

// Includes reports whether peer id is selected by t.
func (t Target) Includes(id netconfig.ClientID) bool {
	switch t.Kind {
	case TargetSingle:
		return id == t.ID
	case TargetAllExcept:
		return id != t.ID
	case TargetAll:
		return true
	}
	return false
}

// Resolve returns the members of peers selected by t, in ascending order.
func (t Target) Resolve(peers []netconfig.ClientID) []netconfig.ClientID {
	var out []netconfig.ClientID
	for _, id := range peers {
		if t.Includes(id) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (t Target) String() string {
	switch t.Kind {
	case TargetSingle:
		return fmt.Sprintf("single(%d)", t.ID)
	case TargetAllExcept:
		return fmt.Sprintf("all-except(%d)", t.ID)
	case TargetAll:
		return "all"
	}
	return "none"
}

// Delivery is one received message.
type Delivery struct {
	From    netconfig.ClientID
	Channel ChannelID
	Payload []byte
}

// DeliveryFailure reports a reliable send that was abandoned.
type DeliveryFailure struct {
	Peer    netconfig.ClientID
	Channel ChannelID
	Seq     uint32
	Err     error
}

func (f DeliveryFailure) Error() string {
	return fmt.Sprintf("channel %d seq %d to peer %d: %v", f.Channel, f.Seq, f.Peer, f.Err)
}

func (f DeliveryFailure) Unwrap() error {
	return f.Err
}
