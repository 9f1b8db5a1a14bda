// Package netconfig defines lightweight types shared between client and server
// for network serialization. It must stay free of world, transport and
// physics dependencies so every other package can import it.
package netconfig

import "fmt"

// ProtocolVersion is stamped on every replication message. Peers drop
// messages that carry a different version.
const ProtocolVersion uint16 = 1

// Tick is the fixed simulation step counter shared by client and server.
type Tick uint32

// ClientID is the opaque identity a client presents at connection time.
type ClientID uint64

// ServerID is the peer id a client endpoint uses for its single server peer.
const ServerID ClientID = 0

// SyncMode is the replication policy of a component kind.
type SyncMode uint8

const (
	SyncOnce SyncMode = iota + 1
	SyncFullNoInterpolate
	SyncFullInterpolate
)

func (m SyncMode) String() string {
	switch m {
	case SyncOnce:
		return "once"
	case SyncFullNoInterpolate:
		return "full"
	case SyncFullInterpolate:
		return "full+interp"
	}
	return fmt.Sprintf("syncmode(%d)", uint8(m))
}

// ComponentKind identifies a replicated component type on the wire.
type ComponentKind uint8

// Component kinds. 0 is never assigned.
const (
	KindPlayerID ComponentKind = iota + 1
	KindTransform
	KindLinearVelocity
	KindActionState
)

// Role tells a receiving client how it should treat a replicated entity.
type Role uint8

const (
	RoleConfirmed Role = iota
	RolePredicted
	RoleInterpolated
)

func (r Role) String() string {
	switch r {
	case RolePredicted:
		return "predicted"
	case RoleInterpolated:
		return "interpolated"
	}
	return "confirmed"
}

// ActionID represents a logical game action.
type ActionID uint8

const (
	ActionUp ActionID = iota
	ActionDown
	ActionLeft
	ActionRight
	ActionJump
	ActionCount // Must be last - used for validation
)

var actionNames = [ActionCount]string{"up", "down", "left", "right", "jump"}

func (a ActionID) String() string {
	if a < ActionCount {
		return actionNames[a]
	}
	return "unknown"
}

// ActionState is the pressed set of all actions for one tick, one bit per ActionID.
type ActionState uint8

// Pressed reports whether action a is held.
func (s ActionState) Pressed(a ActionID) bool {
	return s&(1<<a) != 0
}

// With returns s with action a set to pressed.
func (s ActionState) With(a ActionID, pressed bool) ActionState {
	if pressed {
		return s | 1<<a
	}
	return s &^ (1 << a)
}

func (s ActionState) String() string {
	if s == 0 {
		return "[]"
	}
	out := "["
	for a := ActionID(0); a < ActionCount; a++ {
		if s.Pressed(a) {
			if len(out) > 1 {
				out += " "
			}
			out += a.String()
		}
	}
	return out + "]"
}

// ActionsFrom builds an ActionState from a list of pressed actions.
func ActionsFrom(actions ...ActionID) ActionState {
	var s ActionState
	for _, a := range actions {
		s = s.With(a, true)
	}
	return s
}
