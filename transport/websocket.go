package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"opaper/codec"
	"opaper/message"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = time.Minute
	pingPeriod = pongWait * 9 / 10
)

// WebsocketConn sends one envelope per websocket message. JSON travels in text frames, which is
// what a browser document posts; binary codecs use binary frames.
type WebsocketConn struct {
	ws      *websocket.Conn
	codec   codec.CodecType
	writeMu sync.Mutex

	frames  chan wsFrame
	readErr error
	closed  chan struct{}
	once    sync.Once
}

type wsFrame struct {
	mt  int
	buf []byte
}

// NewWebsocketConn takes ownership of ws and starts its read and ping loops.
func NewWebsocketConn(ws *websocket.Conn, codecType codec.CodecType) *WebsocketConn {
	w := &WebsocketConn{
		ws:     ws,
		codec:  codecType,
		frames: make(chan wsFrame, 16),
		closed: make(chan struct{}),
	}
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	go w.readLoop()
	go w.pingLoop()
	return w
}

// DialWebsocket connects to a host bridge endpoint such as ws://127.0.0.1:7878/bridge.
func DialWebsocket(ctx context.Context, rawURL string, codecType codec.CodecType) (*WebsocketConn, error) {
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", rawURL, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return NewWebsocketConn(ws, codecType), nil
}

func (w *WebsocketConn) Send(ctx context.Context, env *message.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	buf, err := codec.GetCodec(w.codec).Encode(env)
	if err != nil {
		return err
	}
	mt := websocket.BinaryMessage
	if w.codec == codec.CodecTypeJSON {
		mt = websocket.TextMessage
	}
	return w.write(mt, buf)
}

func (w *WebsocketConn) write(mt int, buf []byte) error {
	select {
	case <-w.closed:
		return ErrClosed
	default:
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := w.ws.WriteMessage(mt, buf); err != nil {
		return wsClosedErr(err)
	}
	return nil
}

// Recv decodes text frames as JSON and binary frames with the connection's codec.
func (w *WebsocketConn) Recv(ctx context.Context) (*message.Envelope, error) {
	select {
	case f, ok := <-w.frames:
		if !ok {
			return nil, w.readErr
		}
		cdc := codec.GetCodec(w.codec)
		if f.mt == websocket.TextMessage {
			cdc = codec.GetCodec(codec.CodecTypeJSON)
		}
		return decodeEnvelope(cdc, f.buf)
	case <-w.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *WebsocketConn) Close() error {
	var err error
	w.once.Do(func() {
		close(w.closed)
		w.writeMu.Lock()
		w.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		w.writeMu.Unlock()
		err = w.ws.Close()
	})
	return err
}

func (w *WebsocketConn) readLoop() {
	defer close(w.frames)
	for {
		mt, buf, err := w.ws.ReadMessage()
		if err != nil {
			w.readErr = wsClosedErr(err)
			return
		}
		select {
		case w.frames <- wsFrame{mt: mt, buf: buf}:
		case <-w.closed:
			w.readErr = ErrClosed
			return
		}
	}
}

func (w *WebsocketConn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.writeMu.Lock()
			err := w.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			w.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-w.closed:
			return
		}
	}
}

func wsClosedErr(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) ||
		errors.Is(err, websocket.ErrCloseSent) || errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	return closedErr(err)
}

// Upgrader returns the websocket upgrader for the bridge endpoint with CheckOrigin set from
// allowedOrigins.
func Upgrader(allowedOrigins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     CheckOrigin(allowedOrigins),
	}
}

// CheckOrigin builds the origin policy for preview documents.
//
//   - "*" in allowed accepts every origin.
//   - A listed origin is accepted (scheme://host[:port], case-insensitive).
//   - With an empty list only same-host and local documents are accepted: file://, the opaque
//     "null" origin of sandboxed frames, and loopback hosts.
//
// Requests without an Origin header do not come from a browser and are always accepted.
func CheckOrigin(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	wildcard := false
	for _, o := range allowed {
		o = strings.TrimRight(strings.ToLower(strings.TrimSpace(o)), "/")
		if o == "*" {
			wildcard = true
		}
		set[o] = struct{}{}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || wildcard {
			return true
		}
		normalized := strings.TrimRight(strings.ToLower(origin), "/")
		if _, ok := set[normalized]; ok {
			return true
		}
		if len(set) > 0 {
			return false
		}
		return localOrigin(normalized, r.Host)
	}
}

func localOrigin(origin, requestHost string) bool {
	if origin == "null" || strings.HasPrefix(origin, "file:") {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, requestHost) {
		return true
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
