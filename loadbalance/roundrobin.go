package loadbalance

import (
	"sync/atomic"

	"opaper/registry"
)

type RoundRobinBalancer struct {
	counter atomic.Uint64
}

func (b *RoundRobinBalancer) Pick(eps []registry.Endpoint) (registry.Endpoint, error) {
	if len(eps) == 0 {
		return registry.Endpoint{}, registry.ErrNoEndpoints
	}
	i := (b.counter.Add(1) - 1) % uint64(len(eps))
	return eps[i], nil
}

func (b *RoundRobinBalancer) Name() string {
	return "round-robin"
}
