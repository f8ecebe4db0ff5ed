package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// KeyPrefix roots every advertised endpoint: /opaper/<service>/<addr>.
const KeyPrefix = "/opaper/"

// EtcdRegistry stores endpoints under a TTL lease that is kept alive until Deregister, so a
// crashed host disappears once its lease expires.
type EtcdRegistry struct {
	client *clientv3.Client

	mu    sync.Mutex
	alive map[string]context.CancelFunc
}

func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
	})
	if err != nil {
		return nil, fmt.Errorf("registry: connect etcd: %w", err)
	}
	return &EtcdRegistry{client: c, alive: make(map[string]context.CancelFunc)}, nil
}

func key(service, addr string) string {
	return KeyPrefix + service + "/" + addr
}

func (r *EtcdRegistry) Register(ctx context.Context, service string, ep Endpoint, ttl int64) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("registry: grant lease: %w", err)
	}
	val, err := json.Marshal(ep)
	if err != nil {
		return err
	}
	k := key(service, ep.Addr)
	if _, err := r.client.Put(ctx, k, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("registry: put %s: %w", k, err)
	}

	// the keepalive outlives the registration call
	kaCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ch, err := r.client.KeepAlive(kaCtx, lease.ID)
	if err != nil {
		cancel()
		return fmt.Errorf("registry: keepalive: %w", err)
	}
	r.mu.Lock()
	if prev, ok := r.alive[k]; ok {
		prev()
	}
	r.alive[k] = cancel
	r.mu.Unlock()

	go func() {
		for range ch {
		}
	}()
	return nil
}

func (r *EtcdRegistry) Deregister(ctx context.Context, service string, addr string) error {
	k := key(service, addr)
	r.mu.Lock()
	if cancel, ok := r.alive[k]; ok {
		cancel()
		delete(r.alive, k)
	}
	r.mu.Unlock()

	if _, err := r.client.Delete(ctx, k); err != nil {
		return fmt.Errorf("registry: delete %s: %w", k, err)
	}
	return nil
}

func (r *EtcdRegistry) Discover(ctx context.Context, service string) ([]Endpoint, error) {
	resp, err := r.client.Get(ctx, KeyPrefix+service+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("registry: discover %s: %w", service, err)
	}
	eps := make([]Endpoint, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var ep Endpoint
		if err := json.Unmarshal(kv.Value, &ep); err != nil {
			continue
		}
		eps = append(eps, ep)
	}
	return eps, nil
}

// Watch re-reads the whole prefix on every change rather than applying individual events.
func (r *EtcdRegistry) Watch(ctx context.Context, service string) <-chan []Endpoint {
	ch := make(chan []Endpoint, 1)
	go func() {
		defer close(ch)
		for range r.client.Watch(ctx, KeyPrefix+service+"/", clientv3.WithPrefix()) {
			eps, err := r.Discover(ctx, service)
			if err != nil {
				continue
			}
			select {
			case ch <- eps:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// Close stops every keepalive and the etcd client. Leases then expire on their own.
func (r *EtcdRegistry) Close() error {
	r.mu.Lock()
	for k, cancel := range r.alive {
		cancel()
		delete(r.alive, k)
	}
	r.mu.Unlock()
	return r.client.Close()
}
