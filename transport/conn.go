// Package transport carries envelopes between the host and a preview surface.
//
// A Conn is the message channel: whole envelopes in, whole envelopes out, no shared memory.
// Three implementations exist:
//
//	Pipe()            in-process pair, JSON bytes cross between the ends
//	NewStreamConn     framed (protocol package) over any io.ReadWriteCloser: TCP, stdio
//	NewWebsocketConn  one envelope per websocket message, the embedded document's link
//
// Every implementation runs a single reader goroutine. Frame boundaries on a stream can only be
// parsed sequentially, and the reader lets Recv honor a context while the socket read blocks.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"opaper/codec"
	"opaper/message"
)

var (
	// ErrMalformed wraps a message that could not be decoded into an envelope.
	// The connection stays usable; the caller drops the message and keeps reading.
	ErrMalformed = errors.New("transport: malformed message")
	// ErrClosed is returned once either end has closed the connection.
	ErrClosed = errors.New("transport: connection closed")
)

// Conn is a bidirectional envelope channel. Send and Recv may be called concurrently with each
// other; Send is safe for concurrent use.
type Conn interface {
	Send(ctx context.Context, env *message.Envelope) error
	Recv(ctx context.Context) (*message.Envelope, error)
	Close() error
}

func decodeEnvelope(cdc codec.Codec, data []byte) (*message.Envelope, error) {
	env := &message.Envelope{}
	if err := cdc.Decode(data, env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return env, nil
}

// closedErr folds the many ways a peer can go away into ErrClosed.
func closedErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	return err
}
