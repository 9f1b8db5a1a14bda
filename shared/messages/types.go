// Package messages defines every message exchanged between client and server.
package messages

// Type tags a message on the wire.
type Type uint8

const (
	TypeConnectRequest Type = iota + 1
	TypeConnectAccepted
	TypeConnectRejected
	TypeClientAssetLoadingComplete
	TypeClientConnect
	TypeClientDisconnect
	TypeInput
	TypeReplication
)

// Message is implemented by every message type.
type Message interface {
	MessageType() Type
}
