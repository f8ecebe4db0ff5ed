// Package registry advertises host endpoints so guests can find one to connect to.
package registry

import (
	"context"
	"errors"
)

// DefaultTTL is the lease, in seconds, an advertised endpoint survives without renewal.
const DefaultTTL = 10

var ErrNoEndpoints = errors.New("registry: no endpoints available")

// Endpoint is one advertised host. Addr is a websocket URL or host:port.
type Endpoint struct {
	Addr    string `json:"addr"`
	Weight  int    `json:"weight"`
	Version string `json:"version"`
}

type Registry interface {
	Register(ctx context.Context, service string, ep Endpoint, ttl int64) error
	Deregister(ctx context.Context, service string, addr string) error
	Discover(ctx context.Context, service string) ([]Endpoint, error)
	// Watch emits the full endpoint list after every change until ctx is done.
	Watch(ctx context.Context, service string) <-chan []Endpoint
}
