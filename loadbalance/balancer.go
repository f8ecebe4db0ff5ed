// Package loadbalance picks which advertised host a guest connects to.
//
//   - RoundRobin:     hosts of equal capacity
//   - WeightedRandom: hosts with different Endpoint.Weight
//   - ConsistentHash: a guest sticks to the same host while the host set is stable
package loadbalance

import (
	"fmt"

	"opaper/registry"
)

// Balancer must be safe for concurrent use.
type Balancer interface {
	Pick(eps []registry.Endpoint) (registry.Endpoint, error)
	Name() string
}

// New returns the balancer registered under name. key only matters for "consistent-hash".
func New(name, key string) (Balancer, error) {
	switch name {
	case "", "round-robin":
		return &RoundRobinBalancer{}, nil
	case "weighted-random":
		return &WeightedRandomBalancer{}, nil
	case "consistent-hash":
		return NewConsistentHashBalancer(key), nil
	default:
		return nil, fmt.Errorf("loadbalance: unknown strategy %q", name)
	}
}
