package transport

import (
	"context"
	"io"
	"sync"
	"time"

	"opaper/codec"
	"opaper/message"
	"opaper/protocol"
)

type frame struct {
	header *protocol.Header
	body   []byte
}

// StreamConn frames envelopes over a byte stream.
//
//	Send ──lock──► protocol.Encode ──► rwc ──► protocol.Decode ──► readLoop ──► frames ──► Recv
//	heartbeatLoop ──lock──┘
type StreamConn struct {
	rwc     io.ReadWriteCloser
	codec   codec.CodecType // used for outgoing frames; incoming frames carry their own
	sending sync.Mutex      // one frame at a time, or header and body of two frames interleave

	frames  chan frame    // filled by readLoop only, closed when it exits
	readErr error         // set before frames is closed
	closed  chan struct{} // closed by Close; ends both loops
	once    sync.Once
}

// NewStreamConn starts the read loop and, when heartbeat > 0, a heartbeat loop that keeps idle
// links (and the proxies between them) from timing out.
func NewStreamConn(rwc io.ReadWriteCloser, codecType codec.CodecType, heartbeat time.Duration) *StreamConn {
	s := &StreamConn{
		rwc:    rwc,
		codec:  codecType,
		frames: make(chan frame, 16),
		closed: make(chan struct{}),
	}
	go s.readLoop()
	if heartbeat > 0 {
		go s.heartbeatLoop(heartbeat)
	}
	return s
}

func (s *StreamConn) Send(ctx context.Context, env *message.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := codec.GetCodec(s.codec).Encode(env)
	if err != nil {
		return err
	}
	header := protocol.Header{
		CodecType: byte(s.codec),
		FrameType: protocol.FrameTypeEnvelope,
	}
	return s.write(&header, body)
}

func (s *StreamConn) write(h *protocol.Header, body []byte) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	s.sending.Lock()
	defer s.sending.Unlock()
	if err := protocol.Encode(s.rwc, h, body); err != nil {
		return closedErr(err)
	}
	return nil
}

// Recv returns the next envelope. A frame whose body does not decode yields ErrMalformed.
func (s *StreamConn) Recv(ctx context.Context) (*message.Envelope, error) {
	select {
	case f, ok := <-s.frames:
		if !ok {
			// the close of frames orders the readErr write before this read
			return nil, s.readErr
		}
		// decoded per frame so one garbled body costs one message, not the stream
		return decodeEnvelope(codec.GetCodec(codec.CodecType(f.header.CodecType)), f.body)
	case <-s.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *StreamConn) Close() error {
	var err error
	s.once.Do(func() {
		// closed first, so writers see ErrClosed instead of a write on a closed rwc
		close(s.closed)
		err = s.rwc.Close()
	})
	return err
}

// readLoop owns the read side of rwc. A broken header ends the stream: once framing is lost
// there is no way to find the next frame boundary.
func (s *StreamConn) readLoop() {
	defer close(s.frames)
	for {
		header, body, err := protocol.Decode(s.rwc)
		if err != nil {
			s.readErr = closedErr(err)
			return
		}
		if header.FrameType == protocol.FrameTypeHeartbeat {
			continue
		}
		select {
		case s.frames <- frame{header: header, body: body}:
		case <-s.closed:
			s.readErr = ErrClosed
			return
		}
	}
}

func (s *StreamConn) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			header := &protocol.Header{
				CodecType: byte(s.codec),
				FrameType: protocol.FrameTypeHeartbeat,
			}
			if err := s.write(header, nil); err != nil {
				return
			}
		case <-s.closed:
			return
		}
	}
}
