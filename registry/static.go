package registry

import (
	"context"
	"sort"
	"sync"
)

// StaticRegistry keeps endpoints in memory. TTLs are ignored.
type StaticRegistry struct {
	mu       sync.Mutex
	services map[string]map[string]Endpoint
	watchers map[string][]chan []Endpoint
}

// NewStaticRegistry returns a registry preloaded with eps under service.
func NewStaticRegistry(service string, eps ...Endpoint) *StaticRegistry {
	r := &StaticRegistry{
		services: make(map[string]map[string]Endpoint),
		watchers: make(map[string][]chan []Endpoint),
	}
	for _, ep := range eps {
		r.put(service, ep)
	}
	return r
}

func (r *StaticRegistry) put(service string, ep Endpoint) {
	eps, ok := r.services[service]
	if !ok {
		eps = make(map[string]Endpoint)
		r.services[service] = eps
	}
	eps[ep.Addr] = ep
}

func (r *StaticRegistry) Register(_ context.Context, service string, ep Endpoint, _ int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(service, ep)
	r.notify(service)
	return nil
}

func (r *StaticRegistry) Deregister(_ context.Context, service string, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.services[service], addr)
	r.notify(service)
	return nil
}

func (r *StaticRegistry) Discover(_ context.Context, service string) ([]Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.list(service), nil
}

func (r *StaticRegistry) Watch(ctx context.Context, service string) <-chan []Endpoint {
	ch := make(chan []Endpoint, 1)
	r.mu.Lock()
	r.watchers[service] = append(r.watchers[service], ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		ws := r.watchers[service]
		for i, w := range ws {
			if w == ch {
				r.watchers[service] = append(ws[:i], ws[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

// list is sorted by address so callers see a stable order.
func (r *StaticRegistry) list(service string) []Endpoint {
	eps := make([]Endpoint, 0, len(r.services[service]))
	for _, ep := range r.services[service] {
		eps = append(eps, ep)
	}
	sort.Slice(eps, func(i, j int) bool { return eps[i].Addr < eps[j].Addr })
	return eps
}

// notify replaces any unread update so a slow watcher only sees the latest list.
func (r *StaticRegistry) notify(service string) {
	eps := r.list(service)
	for _, ch := range r.watchers[service] {
		select {
		case <-ch:
		default:
		}
		ch <- eps
	}
}
