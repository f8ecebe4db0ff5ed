package transport

import (
	"context"
	"sync"

	"opaper/codec"
	"opaper/message"
)

const pipeBuffer = 64

// PipeConn is one end of an in-process channel created by Pipe.
type PipeConn struct {
	in     <-chan []byte
	out    chan<- []byte
	closed chan struct{}
	once   *sync.Once
	codec  codec.Codec
}

// Pipe returns two connected ends. Envelopes are serialized to JSON on Send and decoded on Recv,
// so the ends never share memory. Closing either end closes both.
func Pipe() (*PipeConn, *PipeConn) {
	ab := make(chan []byte, pipeBuffer)
	ba := make(chan []byte, pipeBuffer)
	closed := make(chan struct{})
	once := &sync.Once{}
	cdc := codec.GetCodec(codec.CodecTypeJSON)

	a := &PipeConn{in: ba, out: ab, closed: closed, once: once, codec: cdc}
	b := &PipeConn{in: ab, out: ba, closed: closed, once: once, codec: cdc}
	return a, b
}

func (p *PipeConn) Send(ctx context.Context, env *message.Envelope) error {
	data, err := p.codec.Encode(env)
	if err != nil {
		return err
	}
	return p.SendRaw(ctx, data)
}

// SendRaw delivers data to the peer without encoding it. The peer decodes it as JSON.
func (p *PipeConn) SendRaw(ctx context.Context, data []byte) error {
	select {
	case <-p.closed:
		return ErrClosed
	default:
	}
	select {
	case p.out <- data:
		return nil
	case <-p.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *PipeConn) Recv(ctx context.Context) (*message.Envelope, error) {
	select {
	case data := <-p.in:
		return decodeEnvelope(p.codec, data)
	case <-p.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *PipeConn) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}
