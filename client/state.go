package client

// State is the lifecycle of a client session.
type State uint8

const (
	// StateLoading: local assets are not ready yet.
	StateLoading State = iota
	// StateConnecting: waiting for the transport and then for the own
	// player entity to be spawned.
	StateConnecting
	// StatePlaying: the own entity is known and predicted.
	StatePlaying
	// StateDisconnected: the server connection was lost.
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateConnecting:
		return "connecting"
	case StatePlaying:
		return "playing"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}
