package network

import (
	"crypto/subtle"
	"encoding/binary"
	"fmt"

	"github.com/automoto/cubes-mp/shared/netconfig"
	"lukechampine.com/blake3"
)

// KeySize is the length of the shared key both peers are configured with.
const KeySize = 32

// Identity is the key material used to validate a client's claimed identity.
type Identity struct {
	ProtocolID uint64
	Key        []byte
}

// Token returns the keyed BLAKE3 digest of the protocol id and client id.
func (id Identity) Token(client netconfig.ClientID) ([]byte, error) {
	if len(id.Key) != KeySize {
		return nil, fmt.Errorf("identity key must be %d bytes, got %d", KeySize, len(id.Key))
	}
	var msg [16]byte
	binary.BigEndian.PutUint64(msg[:8], id.ProtocolID)
	binary.BigEndian.PutUint64(msg[8:], uint64(client))

	h := blake3.New(32, id.Key)
	h.Write(msg[:])
	return h.Sum(nil), nil
}

// Verify checks that token was produced for client with the same key and
// protocol id.
func (id Identity) Verify(protocolID uint64, client netconfig.ClientID, token []byte) error {
	if protocolID != id.ProtocolID {
		return fmt.Errorf("protocol id %d does not match %d", protocolID, id.ProtocolID)
	}
	want, err := id.Token(client)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(want, token) != 1 {
		return fmt.Errorf("invalid token for client %d", client)
	}
	return nil
}
