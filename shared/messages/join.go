package messages

import "github.com/automoto/cubes-mp/shared/netconfig"

// ConnectRequest is the first frame a client sends on a new transport
// connection. Token proves the client holds the shared key.
type ConnectRequest struct {
	ClientID   netconfig.ClientID
	ProtocolID uint64
	Token      []byte
}

func (ConnectRequest) MessageType() Type { return TypeConnectRequest }

// ConnectAccepted is the server's reply to a valid ConnectRequest.
type ConnectAccepted struct {
	ClientID netconfig.ClientID
	TickRate int
}

func (ConnectAccepted) MessageType() Type { return TypeConnectAccepted }

// ConnectRejected is sent before the server closes a connection it refuses.
type ConnectRejected struct {
	Reason string
}

func (ConnectRejected) MessageType() Type { return TypeConnectRejected }
