// Package codec serializes envelopes for transports that carry bytes.
//
// JSON is the default: it is what an embedded preview document speaks. The binary codecs are
// for host-to-process links (stdio, TCP) where payload size matters more than readability.
package codec

import "fmt"

type CodecType byte

const (
	CodecTypeJSON    CodecType = 0
	CodecTypeMsgpack CodecType = 1
	CodecTypeCBOR    CodecType = 2
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=JSON, 1=Msgpack, 2=CBOR
}

// GetCodec returns the codec for codecType, falling back to JSON for unknown values.
func GetCodec(codecType CodecType) Codec {
	switch codecType {
	case CodecTypeMsgpack:
		return &MsgpackCodec{}
	case CodecTypeCBOR:
		return &CBORCodec{}
	default:
		return &JSONCodec{}
	}
}

// Valid reports whether codecType names a known codec.
func Valid(codecType CodecType) bool {
	return codecType <= CodecTypeCBOR
}

// ParseCodecType maps a flag value ("json", "msgpack", "cbor") to its CodecType.
func ParseCodecType(name string) (CodecType, error) {
	switch name {
	case "", "json":
		return CodecTypeJSON, nil
	case "msgpack":
		return CodecTypeMsgpack, nil
	case "cbor":
		return CodecTypeCBOR, nil
	}
	return 0, fmt.Errorf("codec: unknown codec %q", name)
}

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeMsgpack:
		return "msgpack"
	case CodecTypeCBOR:
		return "cbor"
	}
	return fmt.Sprintf("codec(%d)", byte(t))
}
