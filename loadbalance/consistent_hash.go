package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"

	"opaper/registry"
)

const replicas = 100

// Ring maps keys onto endpoints with virtual nodes so the same key keeps landing on the same
// endpoint until the set changes.
type Ring struct {
	hashes []uint32
	nodes  map[uint32]registry.Endpoint
}

func NewRing(eps []registry.Endpoint) *Ring {
	r := &Ring{nodes: make(map[uint32]registry.Endpoint, len(eps)*replicas)}
	for _, ep := range eps {
		for i := 0; i < replicas; i++ {
			h := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", ep.Addr, i)))
			r.hashes = append(r.hashes, h)
			r.nodes[h] = ep
		}
	}
	sort.Slice(r.hashes, func(i, j int) bool { return r.hashes[i] < r.hashes[j] })
	return r
}

// Get returns the first node clockwise from key's hash.
func (r *Ring) Get(key string) (registry.Endpoint, error) {
	if len(r.hashes) == 0 {
		return registry.Endpoint{}, registry.ErrNoEndpoints
	}
	h := crc32.ChecksumIEEE([]byte(key))
	i := sort.Search(len(r.hashes), func(i int) bool { return r.hashes[i] >= h })
	if i == len(r.hashes) {
		i = 0
	}
	return r.nodes[r.hashes[i]], nil
}

// ConsistentHashBalancer pins one key, usually the guest's identity, to a host. The ring is
// rebuilt only when the endpoint set changes.
type ConsistentHashBalancer struct {
	key string

	mu   sync.Mutex
	set  string
	ring *Ring
}

func NewConsistentHashBalancer(key string) *ConsistentHashBalancer {
	return &ConsistentHashBalancer{key: key}
}

func (b *ConsistentHashBalancer) Pick(eps []registry.Endpoint) (registry.Endpoint, error) {
	addrs := make([]string, len(eps))
	for i, ep := range eps {
		addrs[i] = ep.Addr
	}
	sort.Strings(addrs)
	set := strings.Join(addrs, ",")

	b.mu.Lock()
	if b.ring == nil || set != b.set {
		b.ring = NewRing(eps)
		b.set = set
	}
	ring := b.ring
	b.mu.Unlock()
	return ring.Get(b.key)
}

func (b *ConsistentHashBalancer) Name() string {
	return "consistent-hash"
}
