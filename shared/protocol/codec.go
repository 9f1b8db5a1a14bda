package protocol

import (
	"fmt"
	"sync"

	"github.com/automoto/cubes-mp/shared/messages"
	"github.com/hashicorp/go-msgpack/v2/codec"
	"github.com/klauspost/compress/zstd"
)

// Payloads larger than this are zstd-compressed before they go on the wire.
const compressThreshold = 256

// MaxDecodedSize bounds the decompressed body of one frame. It is well above
// a full replication message for a crowded server.
const MaxDecodedSize = 4 << 20

const (
	frameRaw  byte = 0
	frameZstd byte = 1
)

var handle = func() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.WriteExt = true
	return h
}()

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func zstdCodec() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderMaxMemory(MaxDecodedSize))
	})
	return zstdEnc, zstdDec, zstdErr
}

// Marshal encodes v as msgpack.
func Marshal(v any) ([]byte, error) {
	var out []byte
	if err := codec.NewEncoderBytes(&out, handle).Encode(v); err != nil {
		return nil, err
	}
	return out, nil
}

// Unmarshal decodes msgpack data into v.
func Unmarshal(data []byte, v any) error {
	return codec.NewDecoderBytes(data, handle).Decode(v)
}

// EncodeMessage frames m as [type][compression][body].
func EncodeMessage(m messages.Message) ([]byte, error) {
	body, err := Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("serialize message %d: %w", m.MessageType(), err)
	}

	flag := frameRaw
	if len(body) > compressThreshold {
		enc, _, err := zstdCodec()
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		body = enc.EncodeAll(body, nil)
		flag = frameZstd
	}

	out := make([]byte, 0, len(body)+2)
	out = append(out, byte(m.MessageType()), flag)
	return append(out, body...), nil
}

// DecodeMessage parses a frame produced by EncodeMessage.
func DecodeMessage(data []byte) (messages.Message, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: short frame (%d bytes)", ErrProtocolMismatch, len(data))
	}
	typ, flag, body := messages.Type(data[0]), data[1], data[2:]

	switch flag {
	case frameRaw:
	case frameZstd:
		_, dec, err := zstdCodec()
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		if body, err = dec.DecodeAll(body, nil); err != nil {
			return nil, fmt.Errorf("%w: decompress message %d: %w", ErrProtocolMismatch, typ, err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown frame flag %d", ErrProtocolMismatch, flag)
	}

	var msg messages.Message
	var err error
	switch typ {
	case messages.TypeConnectRequest:
		msg, err = decodeAs[messages.ConnectRequest](body)
	case messages.TypeConnectAccepted:
		msg, err = decodeAs[messages.ConnectAccepted](body)
	case messages.TypeConnectRejected:
		msg, err = decodeAs[messages.ConnectRejected](body)
	case messages.TypeClientAssetLoadingComplete:
		msg, err = decodeAs[messages.ClientAssetLoadingComplete](body)
	case messages.TypeClientConnect:
		msg, err = decodeAs[messages.ClientConnect](body)
	case messages.TypeClientDisconnect:
		msg, err = decodeAs[messages.ClientDisconnect](body)
	case messages.TypeInput:
		msg, err = decodeAs[messages.Input](body)
	case messages.TypeReplication:
		msg, err = decodeAs[messages.Replication](body)
	default:
		return nil, fmt.Errorf("%w: unknown message type %d", ErrProtocolMismatch, typ)
	}
	if err != nil {
		return nil, fmt.Errorf("deserialize message %d: %w", typ, err)
	}
	return msg, nil
}

func decodeAs[T messages.Message](body []byte) (messages.Message, error) {
	var v T
	if err := Unmarshal(body, &v); err != nil {
		return nil, err
	}
	return v, nil
}
