package loadbalance

import (
	"math/rand/v2"

	"opaper/registry"
)

// WeightedRandomBalancer picks proportionally to Endpoint.Weight. A weight below 1 counts as 1.
type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(eps []registry.Endpoint) (registry.Endpoint, error) {
	if len(eps) == 0 {
		return registry.Endpoint{}, registry.ErrNoEndpoints
	}
	total := 0
	for _, ep := range eps {
		total += weight(ep)
	}
	r := rand.IntN(total)
	for _, ep := range eps {
		r -= weight(ep)
		if r < 0 {
			return ep, nil
		}
	}
	return eps[len(eps)-1], nil
}

func (b *WeightedRandomBalancer) Name() string {
	return "weighted-random"
}

func weight(ep registry.Endpoint) int {
	if ep.Weight < 1 {
		return 1
	}
	return ep.Weight
}
