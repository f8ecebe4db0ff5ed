// Package client connects a guest to a host found through service discovery.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"opaper/bridge"
	"opaper/codec"
	"opaper/handler"
	"opaper/loadbalance"
	"opaper/registry"
	"opaper/transport"
)

// DefaultService is the discovery name hosts advertise under.
const DefaultService = "opaper"

type Option func(*config)

type config struct {
	codec      codec.CodecType
	guest      *handler.Registry
	bridgeOpts []bridge.Option
	logger     *slog.Logger
}

func WithCodec(ct codec.CodecType) Option {
	return func(c *config) {
		c.codec = ct
	}
}

// WithRegistry sets the methods the host may call on this guest.
func WithRegistry(reg *handler.Registry) Option {
	return func(c *config) {
		c.guest = reg
	}
}

func WithBridgeOptions(opts ...bridge.Option) Option {
	return func(c *config) {
		c.bridgeOpts = append(c.bridgeOpts, opts...)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client is a running channel to one host.
type Client struct {
	*bridge.Channel
	Endpoint registry.Endpoint

	served chan error
}

// Dial discovers the hosts of service, lets bal pick one and connects to it. A host that cannot
// be reached is dropped from the candidates and bal picks again. The returned channel is already
// serving.
func Dial(ctx context.Context, reg registry.Registry, bal loadbalance.Balancer, service string, opts ...Option) (*Client, error) {
	cfg := config{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	eps, err := reg.Discover(ctx, service)
	if err != nil {
		return nil, err
	}
	var errs []error
	for len(eps) > 0 {
		ep, err := bal.Pick(eps)
		if err != nil {
			return nil, err
		}
		rawURL, err := BridgeURL(ep.Addr, cfg.codec)
		if err != nil {
			return nil, err
		}
		conn, err := transport.DialWebsocket(ctx, rawURL, cfg.codec)
		if err == nil {
			cfg.logger.Info("Connected to host", "addr", ep.Addr, "balancer", bal.Name())
			return start(conn, ep, cfg), nil
		}
		cfg.logger.Warn("Host unreachable", "addr", ep.Addr, "err", err)
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
		eps = without(eps, ep.Addr)
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("client: %s: %w", service, registry.ErrNoEndpoints)
	}
	return nil, fmt.Errorf("client: %s: %w", service, errors.Join(errs...))
}

func start(conn transport.Conn, ep registry.Endpoint, cfg config) *Client {
	opts := append([]bridge.Option{bridge.WithLogger(cfg.logger)}, cfg.bridgeOpts...)
	c := &Client{
		Channel:  bridge.New(conn, cfg.guest, opts...),
		Endpoint: ep,
		served:   make(chan error, 1),
	}
	go func() {
		c.served <- c.Channel.Serve(context.Background())
	}()
	return c
}

// Wait blocks until the connection ends and returns why.
func (c *Client) Wait() error {
	err := <-c.served
	c.served <- err
	return err
}

// BridgeURL turns an advertised address into the websocket URL to dial. A bare host:port gets
// the ws scheme and the /bridge path; a non-JSON codec is requested in the query.
func BridgeURL(addr string, ct codec.CodecType) (string, error) {
	if !strings.Contains(addr, "://") {
		addr = "ws://" + addr + "/bridge"
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("client: bad endpoint %q: %w", addr, err)
	}
	if ct != codec.CodecTypeJSON {
		q := u.Query()
		q.Set("codec", ct.String())
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func without(eps []registry.Endpoint, addr string) []registry.Endpoint {
	out := make([]registry.Endpoint, 0, len(eps))
	for _, ep := range eps {
		if ep.Addr != addr {
			out = append(out, ep)
		}
	}
	return out
}
