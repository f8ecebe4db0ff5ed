// Package protocol frames envelopes on byte-stream links (TCP, a child process's stdio).
//
// A message channel between two documents delivers whole messages; a stream does not, so every
// envelope is prefixed with a fixed 12-byte header announcing the body length. The reader takes
// the header first, then exactly that many bytes.
//
// Frame format:
//
//	0      3  4  5  6     8         12
//	┌──────┬──┬──┬──┬─────┬─────────┬───────────────┐
//	│magic │v │ct│ft│ rsv │ bodyLen │    body ...    │
//	│ opb  │01│  │  │ 0 0 │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────┴─────────┴───────────────┘
//
// The correlation id lives inside the envelope, not in the header.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic bytes "opb" (opaper bridge). Anything else on the socket is rejected before we try to
// allocate a body for it.
const (
	MagicNumber byte   = 0x6f // 'o'
	MagicByte2  byte   = 0x70 // 'p'
	MagicByte3  byte   = 0x62 // 'b'
	Version     byte   = 0x01
	HeaderSize  int    = 12 // 3 (magic) + 1 (version) + 1 (codec) + 1 (frameType) + 2 (reserved) + 4 (bodyLen)
	MaxBodyLen  uint32 = 16 << 20
)

// FrameType distinguishes envelope frames from keep-alive frames.
type FrameType byte

const (
	FrameTypeEnvelope  FrameType = 0 // Body is one encoded envelope (request or response)
	FrameTypeHeartbeat FrameType = 1 // KeepAlive probe (no body)
)

// Codec type constants, mirrored from codec package to avoid circular import.
const (
	CodecTypeJSON    byte = 0
	CodecTypeMsgpack byte = 1
	CodecTypeCBOR    byte = 2
)

// Header is the fixed 12-byte frame header.
type Header struct {
	CodecType byte      // Serialization of the body
	FrameType FrameType // Envelope or Heartbeat
	BodyLen   uint32    // Body length in bytes
}

// Encode writes a complete frame (header + body) to w.
// Callers sharing w across goroutines must serialize calls, or frames interleave.
func Encode(w io.Writer, h *Header, body []byte) error {
	if uint32(len(body)) > MaxBodyLen {
		return fmt.Errorf("frame body too large: %d bytes", len(body))
	}
	buf := make([]byte, HeaderSize, HeaderSize+len(body))

	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.FrameType)
	// buf[6:8] reserved
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(body)))

	// One write per frame keeps datagram-like links (net.Pipe) aligned.
	buf = append(buf, body...)
	_, err := w.Write(buf)
	return err
}

// Decode reads a complete frame (header + body) from r.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}
	if headerBuf[4] > CodecTypeCBOR {
		return nil, nil, fmt.Errorf("unsupported codec type: %d", headerBuf[4])
	}
	frameType := FrameType(headerBuf[5])
	if frameType != FrameTypeEnvelope && frameType != FrameTypeHeartbeat {
		return nil, nil, fmt.Errorf("unsupported frame type: %d", headerBuf[5])
	}

	bodyLen := binary.BigEndian.Uint32(headerBuf[8:12])
	if bodyLen > MaxBodyLen {
		return nil, nil, fmt.Errorf("frame body too large: %d bytes", bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{
		CodecType: headerBuf[4],
		FrameType: frameType,
		BodyLen:   bodyLen,
	}, body, nil
}
