// Package bridge runs the correlation-id RPC protocol over a transport.Conn.
//
// Either end of a Channel may call the other. Outbound calls wait in the pending table until
// their response, their timer, their context or the channel's shutdown resolves them, whichever
// comes first:
//
//	Call ──NewID──► pending[id] ──Send {id, method, payload}──────────────► peer
//	  ▲              │  timer (10s) ──► ErrTimeout                            │
//	  │              ▼                                                        │
//	  └──── result ◄── Dispatch(env) ◄── Serve: Recv loop ◄── {id, code, data, msg}
//
// Inbound requests are serviced on their own goroutine through the middleware chain and the
// handler registry; each one gets exactly one reply.
//
//	Serve: Recv loop ──► Dispatch(env)
//	         id pending?          → resolve the call
//	         method, no code?     → go serve → middleware… → Registry.Serve → Send reply
//	         otherwise            → drop
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"opaper/handler"
	"opaper/message"
	"opaper/middleware"
	"opaper/transport"
)

// Channel is one end of a host/guest link. All methods are safe for concurrent use.
type Channel struct {
	conn        transport.Conn
	registry    *handler.Registry
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc // middlewares around registry.Serve, built once in New

	timeout time.Duration // how long a call waits before ErrTimeout
	logger  *slog.Logger
	newID   func() string // correlation ids, message.NewID by default
	metrics *Metrics      // nil disables instrumentation
	tracer  trace.Tracer

	// mu guards pending and closed. Whoever removes an id from pending owns its resolution.
	mu      sync.Mutex
	pending map[string]*call
	closed  bool // set by shutdown; no call is registered after it

	inflight  sync.WaitGroup // inbound handlers still running
	done      chan struct{}  // closed when Serve returns
	closeOnce sync.Once
}

type call struct {
	method string
	start  time.Time   // for the call duration metric
	timer  *time.Timer // rejects with ErrTimeout; stopped by take
	done   chan result // buffered: the resolver never blocks
}

type result struct {
	env *message.Envelope
	err error
}

// New binds a channel to conn. reg services the peer's requests; a nil registry answers every
// request with 404. Nothing is read from conn until Serve runs.
func New(conn transport.Conn, reg *handler.Registry, opts ...Option) *Channel {
	if reg == nil {
		reg = handler.NewRegistry()
	}
	c := &Channel{
		conn:     conn,
		registry: reg,
		timeout:  DefaultTimeout,
		logger:   slog.Default(),
		newID:    message.NewID,
		tracer:   otel.Tracer("opaper/bridge"),
		pending:  make(map[string]*call),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	// Recover sits innermost so a handler that panics after TimeOutMiddleware gave up on it
	// still cannot take the process down.
	chain := append(append([]middleware.Middleware{}, c.middlewares...), middleware.RecoverMiddleware(c.logger))
	c.handler = middleware.Chain(chain...)(c.registry.Serve)
	return c
}

// Registry returns the registry servicing inbound requests.
func (c *Channel) Registry() *handler.Registry {
	return c.registry
}

// Call sends method with payload and waits for the response envelope.
//
// The returned error is a *RemoteError for a non-200 response, ErrTimeout when no response
// arrived in time, ErrClosed when the channel shut down, ctx.Err() when ctx ended first, or the
// transport error when the request could not be sent. An empty method fails with ErrNoMethod
// without sending anything.
func (c *Channel) Call(ctx context.Context, method string, payload any) (*message.Envelope, error) {
	if method == "" {
		return nil, ErrNoMethod
	}
	req, err := message.NewRequest(c.newID(), method, payload)
	if err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "bridge.call "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("bridge.method", method),
			attribute.String("bridge.id", req.ID),
		),
	)
	defer span.End()

	env, err := c.roundTrip(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return env, nil
}

// CallInto is Call followed by decoding the response data into out.
func (c *Channel) CallInto(ctx context.Context, method string, payload, out any) error {
	env, err := c.Call(ctx, method, payload)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := message.Bind(env.Data, out); err != nil {
		return fmt.Errorf("bridge: decode %s result: %w", method, err)
	}
	return nil
}

func (c *Channel) roundTrip(ctx context.Context, req *message.Envelope) (*message.Envelope, error) {
	cl := &call{
		method: req.Method,
		start:  time.Now(),
		done:   make(chan result, 1),
	}

	// 1. register the call, unless the channel is already shut down
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if _, dup := c.pending[req.ID]; dup {
		c.mu.Unlock()
		return nil, fmt.Errorf("bridge: duplicate call id %s", req.ID)
	}
	c.pending[req.ID] = cl
	c.metrics.callStarted()
	// 2. arm the timer under the lock so take always sees the timer it has to stop
	id := req.ID
	cl.timer = time.AfterFunc(c.timeout, func() {
		if cl := c.take(id); cl != nil {
			c.finish(cl, outcomeTimeout, result{err: ErrTimeout})
		}
	})
	c.mu.Unlock()

	// 3. send; a failed send resolves the call itself
	if err := c.conn.Send(ctx, req); err != nil {
		if cl := c.take(id); cl != nil {
			c.finish(cl, outcomeSendError, result{err: fmt.Errorf("bridge: send %s: %w", req.Method, err)})
		}
	}

	// 4. wait for whichever resolver took the entry: Dispatch, the timer, shutdown or us
	select {
	case r := <-cl.done:
		return r.env, r.err
	case <-ctx.Done():
		if cl := c.take(id); cl != nil {
			c.finish(cl, outcomeCanceled, result{err: ctx.Err()})
		}
		// Whoever removed the entry has delivered, or is delivering, the result.
		r := <-cl.done
		return r.env, r.err
	}
}

// take removes id from the pending table and stops its timer. Only the first caller for an id
// gets the entry; every later one gets nil.
func (c *Channel) take(id string) *call {
	c.mu.Lock()
	defer c.mu.Unlock()
	cl, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	cl.timer.Stop()
	return cl
}

// finish delivers r to the caller. It must only be called with an entry returned by take, which
// makes it the single send on cl.done.
func (c *Channel) finish(cl *call, outcome string, r result) {
	c.metrics.callFinished(cl.method, outcome, time.Since(cl.start))
	cl.done <- r
}

// Pending returns the number of calls waiting for a response.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Dispatch routes one inbound envelope. Responses resolve their pending call; requests are
// serviced on a new goroutine; anything else is dropped.
func (c *Channel) Dispatch(ctx context.Context, env *message.Envelope) {
	if env == nil || env.ID == "" {
		c.metrics.drop(dropNoID)
		c.logger.Debug("Dropping message without id")
		return
	}

	// A response racing the timer or a cancel resolves the call only if it takes the entry first.
	if cl := c.take(env.ID); cl != nil {
		if env.OK() {
			c.finish(cl, outcomeOK, result{env: env})
			return
		}
		c.finish(cl, outcomeRemote, result{err: &RemoteError{Method: cl.method, Code: env.Code, Msg: env.Msg}})
		return
	}

	if !env.IsRequest() {
		// A response to a call that already timed out or was abandoned.
		c.metrics.drop(dropUnsolicited)
		c.logger.Debug("Dropping unsolicited message", "id", env.ID, "method", env.Method, "code", env.Code)
		return
	}

	c.inflight.Add(1)
	go c.serve(ctx, env)
}

type channelKey struct{}

// FromContext returns the channel an inbound request arrived on. Handlers use it to call back
// into the peer that is waiting for their reply.
func FromContext(ctx context.Context) (*Channel, bool) {
	c, ok := ctx.Value(channelKey{}).(*Channel)
	return c, ok
}

func (c *Channel) serve(ctx context.Context, req *message.Envelope) {
	defer c.inflight.Done()
	ctx = context.WithValue(ctx, channelKey{}, c)

	var reply *message.Envelope
	func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("Inbound pipeline panicked", "method", req.Method, "id", req.ID, "panic", r)
				reply = message.Fail(req, message.CodeInternal, fmt.Sprintf("internal error: %v", r))
			}
		}()
		reply = c.handler(ctx, req)
	}()
	if reply == nil {
		reply = message.Fail(req, message.CodeInternal, "no reply")
	}

	if err := c.conn.Send(context.WithoutCancel(ctx), reply); err != nil {
		c.logger.Debug("Unable to send reply", "method", req.Method, "id", req.ID, "err", err)
	}
}

// Serve reads the connection until it closes or ctx ends, dispatching every envelope.
// Undecodable messages are dropped. On return every pending call has been rejected with
// ErrClosed and every inbound handler has finished. A closed connection is not an error.
func (c *Channel) Serve(ctx context.Context) error {
	defer close(c.done)
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		c.inflight.Wait()
	}()

	for {
		env, err := c.conn.Recv(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrMalformed) {
				c.metrics.drop(dropMalformed)
				c.logger.Debug("Dropping malformed message", "err", err)
				continue
			}
			c.shutdown()
			c.conn.Close()
			if errors.Is(err, transport.ErrClosed) {
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
		c.Dispatch(ctx, env)
	}
}

// Done is closed once Serve has returned.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Close rejects every pending call with ErrClosed and closes the connection, which ends Serve.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.shutdown()
		err = c.conn.Close()
	})
	return err
}

func (c *Channel) shutdown() {
	c.mu.Lock()
	c.closed = true
	calls := make([]*call, 0, len(c.pending))
	for id, cl := range c.pending {
		delete(c.pending, id)
		cl.timer.Stop()
		calls = append(calls, cl)
	}
	c.mu.Unlock()

	for _, cl := range calls {
		c.finish(cl, outcomeClosed, result{err: ErrClosed})
	}
}
