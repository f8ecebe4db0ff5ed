package registry

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func etcdEndpoints(t *testing.T) []string {
	env := os.Getenv("OPAPER_ETCD_ENDPOINTS")
	if env == "" {
		t.Skip("OPAPER_ETCD_ENDPOINTS not set")
	}
	return strings.Split(env, ",")
}

func TestEtcdRegisterAndDiscover(t *testing.T) {
	reg, err := NewEtcdRegistry(etcdEndpoints(t))
	require.NoError(t, err)
	defer reg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	service := "bridge-test-" + time.Now().Format("150405.000")

	ep1 := Endpoint{Addr: "ws://127.0.0.1:8001/bridge", Weight: 10, Version: "1.0"}
	ep2 := Endpoint{Addr: "ws://127.0.0.1:8002/bridge", Weight: 5, Version: "1.0"}
	require.NoError(t, reg.Register(ctx, service, ep1, 10))
	require.NoError(t, reg.Register(ctx, service, ep2, 10))

	eps, err := reg.Discover(ctx, service)
	require.NoError(t, err)
	assert.ElementsMatch(t, []Endpoint{ep1, ep2}, eps)

	updates := reg.Watch(ctx, service)
	// let the watch reach etcd before changing the prefix
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, reg.Deregister(ctx, service, ep1.Addr))

	select {
	case eps := <-updates:
		assert.Equal(t, []Endpoint{ep2}, eps)
	case <-ctx.Done():
		t.Fatal("no watch update after deregister")
	}

	require.NoError(t, reg.Deregister(ctx, service, ep2.Addr))
}
