package messages

import "github.com/automoto/cubes-mp/shared/netconfig"

// ClientAssetLoadingComplete tells the server the client is ready for its
// player entity to be spawned.
type ClientAssetLoadingComplete struct{}

func (ClientAssetLoadingComplete) MessageType() Type { return TypeClientAssetLoadingComplete }

// ClientConnect is broadcast when a client connection is established.
type ClientConnect struct {
	ID netconfig.ClientID
}

func (ClientConnect) MessageType() Type { return TypeClientConnect }

// ClientDisconnect is broadcast when a client connection is lost.
type ClientDisconnect struct {
	ID netconfig.ClientID
}

func (ClientDisconnect) MessageType() Type { return TypeClientDisconnect }
