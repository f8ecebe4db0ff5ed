package client

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opaper/codec"
	"opaper/handler"
	"opaper/host"
	"opaper/loadbalance"
	"opaper/registry"
	"opaper/server"
	"opaper/sysstats"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func startHost(t testing.TB) (*server.Server, string) {
	t.Helper()
	reg := handler.NewRegistry()
	require.NoError(t, host.New(host.Deps{Stats: sysstats.Static{MemoryUsed: 2, MemoryTotal: 8, MemoryUsagePercent: 25}, Logger: quiet}).Register(reg))
	srv := server.New(reg, server.WithLogger(quiet))
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Shutdown(time.Second)
		hs.Close()
	})
	return srv, strings.TrimPrefix(hs.URL, "http://")
}

// deadAddr returns an address nothing listens on.
func deadAddr(t *testing.T) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestDialSkipsUnreachableHosts(t *testing.T) {
	_, addr := startHost(t)
	dead := deadAddr(t)
	reg := registry.NewStaticRegistry(DefaultService,
		registry.Endpoint{Addr: dead},
		registry.Endpoint{Addr: "ws://" + addr + "/bridge"},
	)

	ctx := context.Background()
	c, err := Dial(ctx, reg, &loadbalance.RoundRobinBalancer{}, DefaultService, WithLogger(quiet), WithCodec(codec.CodecTypeCBOR))
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, "ws://"+addr+"/bridge", c.Endpoint.Addr)

	var stats sysstats.Stats
	require.NoError(t, c.CallInto(ctx, "get_system_stats", nil, &stats))
	assert.EqualValues(t, 25, stats.MemoryUsagePercent)
}

func TestDialNoEndpoints(t *testing.T) {
	reg := registry.NewStaticRegistry(DefaultService)
	_, err := Dial(context.Background(), reg, &loadbalance.RoundRobinBalancer{}, DefaultService, WithLogger(quiet))
	assert.ErrorIs(t, err, registry.ErrNoEndpoints)
}

func TestDialAllUnreachable(t *testing.T) {
	reg := registry.NewStaticRegistry(DefaultService, registry.Endpoint{Addr: deadAddr(t)})
	_, err := Dial(context.Background(), reg, &loadbalance.WeightedRandomBalancer{}, DefaultService, WithLogger(quiet))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial")
}

func TestHostCallsGuestRegistry(t *testing.T) {
	srv, addr := startHost(t)
	answered := make(chan string, 1)
	srv.OnSession(func(sess *server.Session) {
		var reply string
		if err := sess.Channel.CallInto(context.Background(), "whoami", nil, &reply); err != nil {
			reply = err.Error()
		}
		answered <- reply
	})

	guestReg := handler.NewRegistry()
	require.NoError(t, guestReg.Register("whoami", handler.NoArgs(func(context.Context) (string, error) {
		return "preview", nil
	})))
	reg := registry.NewStaticRegistry(DefaultService, registry.Endpoint{Addr: addr})
	c, err := Dial(context.Background(), reg, loadbalance.NewConsistentHashBalancer("guest-1"), DefaultService,
		WithLogger(quiet), WithRegistry(guestReg))
	require.NoError(t, err)

	select {
	case got := <-answered:
		assert.Equal(t, "preview", got)
	case <-time.After(5 * time.Second):
		t.Fatal("host never called the guest")
	}

	require.NoError(t, c.Close())
	assert.NoError(t, c.Wait())
	assert.NoError(t, c.Wait())
}

func TestBridgeURL(t *testing.T) {
	tests := []struct {
		addr string
		ct   codec.CodecType
		want string
	}{
		{"127.0.0.1:7878", codec.CodecTypeJSON, "ws://127.0.0.1:7878/bridge"},
		{"127.0.0.1:7878", codec.CodecTypeMsgpack, "ws://127.0.0.1:7878/bridge?codec=msgpack"},
		{"wss://host.example/bridge", codec.CodecTypeCBOR, "wss://host.example/bridge?codec=cbor"},
	}
	for _, tt := range tests {
		got, err := BridgeURL(tt.addr, tt.ct)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
