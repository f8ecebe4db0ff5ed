package server

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opaper/bridge"
	"opaper/codec"
	"opaper/handler"
	"opaper/host"
	"opaper/library"
	"opaper/middleware"
	"opaper/registry"
	"opaper/sysstats"
	"opaper/transport"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fixture struct {
	srv  *Server
	http *httptest.Server
	lib  *library.Library
	prom *prometheus.Registry
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	lib, err := library.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { lib.Close() })

	reg := handler.NewRegistry()
	require.NoError(t, host.New(host.Deps{
		Stats:   sysstats.Static{CPUUsagePercent: 12, MemoryTotal: 1024},
		Library: lib,
		Logger:  quiet,
	}).Register(reg))

	prom := prometheus.NewRegistry()
	opts = append([]Option{
		WithLogger(quiet),
		WithLibrary(lib),
		WithGatherer(prom),
		WithBridgeOptions(bridge.WithMiddleware(middleware.MetricsMiddleware(middleware.WithRegistry(prom)))),
	}, opts...)
	srv := New(reg, opts...)
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Shutdown(time.Second)
		hs.Close()
	})
	return &fixture{srv: srv, http: hs, lib: lib, prom: prom}
}

func (f *fixture) wsURL(query string) string {
	return "ws" + strings.TrimPrefix(f.http.URL, "http") + "/bridge" + query
}

// guest connects a channel to the host; guestReg answers the host's calls.
func guest(t *testing.T, conn transport.Conn, guestReg *handler.Registry) *bridge.Channel {
	t.Helper()
	ch := bridge.New(conn, guestReg, bridge.WithLogger(quiet))
	go ch.Serve(context.Background())
	t.Cleanup(func() { ch.Close() })
	return ch
}

func TestBridgeOverWebsocket(t *testing.T) {
	f := newFixture(t)
	for _, ct := range []codec.CodecType{codec.CodecTypeJSON, codec.CodecTypeMsgpack, codec.CodecTypeCBOR} {
		t.Run(ct.String(), func(t *testing.T) {
			ctx := context.Background()
			conn, err := transport.DialWebsocket(ctx, f.wsURL("?codec="+ct.String()), ct)
			require.NoError(t, err)
			ch := guest(t, conn, nil)

			var stats sysstats.Stats
			require.NoError(t, ch.CallInto(ctx, "get_system_stats", nil, &stats))
			assert.Equal(t, 12.0, stats.CPUUsagePercent)

			_, err = ch.Call(ctx, "no_such_method", nil)
			assert.EqualError(t, err, "unknown method")
		})
	}
}

func TestBridgeRejectsUnknownCodec(t *testing.T) {
	f := newFixture(t)
	_, resp, err := websocket.DefaultDialer.Dial(f.wsURL("?codec=xml"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBridgeOriginPolicy(t *testing.T) {
	f := newFixture(t, WithOrigins("https://wallpapers.example"))

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(f.wsURL(""), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "https://wallpapers.example")
	ws, _, err := websocket.DefaultDialer.Dial(f.wsURL(""), header)
	require.NoError(t, err)
	ws.Close()
}

func TestOnSessionCallsGuest(t *testing.T) {
	f := newFixture(t)
	shots := make(chan string, 1)
	f.srv.OnSession(func(sess *Session) {
		url, err := host.Preview{Channel: sess.Channel}.Screenshot(context.Background())
		if err != nil {
			url = "error: " + err.Error()
		}
		shots <- url
	})

	guestReg := handler.NewRegistry()
	require.NoError(t, guestReg.Register("screenshot", handler.NoArgs(func(context.Context) (string, error) {
		return "data:image/png;base64,AAAA", nil
	})))
	conn, err := transport.DialWebsocket(context.Background(), f.wsURL(""), codec.CodecTypeJSON)
	require.NoError(t, err)
	guest(t, conn, guestReg)

	select {
	case got := <-shots:
		assert.Equal(t, "data:image/png;base64,AAAA", got)
	case <-time.After(5 * time.Second):
		t.Fatal("host never called the guest")
	}
}

func TestHealthCountsSessions(t *testing.T) {
	f := newFixture(t)
	health := func() string {
		resp, err := http.Get(f.http.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return string(body)
	}
	assert.JSONEq(t, `{"status":"ok","sessions":0}`, health())

	conn, err := transport.DialWebsocket(context.Background(), f.wsURL(""), codec.CodecTypeJSON)
	require.NoError(t, err)
	ch := guest(t, conn, nil)
	require.Eventually(t, func() bool { return len(f.srv.Sessions()) == 1 }, time.Second, 10*time.Millisecond)
	assert.JSONEq(t, `{"status":"ok","sessions":1}`, health())

	ch.Close()
	require.Eventually(t, func() bool { return len(f.srv.Sessions()) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWallpaperSource(t *testing.T) {
	f := newFixture(t)
	_, err := f.lib.Save(context.Background(), library.KindShader, "waves", "void main() {}", "")
	require.NoError(t, err)

	resp, err := http.Get(f.http.URL + host.WallpaperPath(library.KindShader, "waves"))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "void main() {}", string(body))
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")

	for _, path := range []string{"/wallpapers/shader/missing", "/wallpapers/video/waves"} {
		resp, err := http.Get(f.http.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

func TestWallpaperSourceEscapedTitles(t *testing.T) {
	f := newFixture(t)
	for _, title := range []string{"my wall?paper #2", "dawn;dusk,noon", "100% blue", "晚霞"} {
		_, err := f.lib.Save(context.Background(), library.KindHTML, title, "<p>"+title+"</p>", "")
		require.NoError(t, err)

		resp, err := http.Get(f.http.URL + host.WallpaperPath(library.KindHTML, title))
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, title)
		assert.Equal(t, "<p>"+title+"</p>", string(body))
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	conn, err := transport.DialWebsocket(context.Background(), f.wsURL(""), codec.CodecTypeJSON)
	require.NoError(t, err)
	ch := guest(t, conn, nil)
	_, err = ch.Call(context.Background(), "get_system_stats", nil)
	require.NoError(t, err)

	resp, err := http.Get(f.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `opaper_inbound_requests_total{code="200",method="get_system_stats"} 1`)
}

func TestServeStream(t *testing.T) {
	f := newFixture(t, WithCodec(codec.CodecTypeMsgpack))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go f.srv.ServeStream(ln)

	nc, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	ch := guest(t, transport.NewStreamConn(nc, codec.CodecTypeMsgpack, 0), nil)

	cfg := map[string]any{}
	require.NoError(t, ch.CallInto(context.Background(), "save_config", map[string]any{"patch": map[string]any{"loop": true}}, &cfg))
	assert.Equal(t, true, cfg["loop"])
}

func TestShutdownDeregistersAndClosesSessions(t *testing.T) {
	discovery := registry.NewStaticRegistry("opaper")
	f := newFixture(t, WithDiscovery(discovery, "opaper", registry.Endpoint{Weight: 3}))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- f.srv.ServeListener(context.Background(), ln) }()

	ctx := context.Background()
	var eps []registry.Endpoint
	require.Eventually(t, func() bool {
		eps, _ = discovery.Discover(ctx, "opaper")
		return len(eps) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "ws://"+ln.Addr().String()+"/bridge", eps[0].Addr)
	assert.Equal(t, 3, eps[0].Weight)

	conn, err := transport.DialWebsocket(ctx, eps[0].Addr, codec.CodecTypeJSON)
	require.NoError(t, err)
	ch := guest(t, conn, nil)
	require.Eventually(t, func() bool { return len(f.srv.Sessions()) == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, f.srv.Shutdown(2*time.Second))
	assert.NoError(t, <-served)

	eps, _ = discovery.Discover(ctx, "opaper")
	assert.Empty(t, eps)
	select {
	case <-ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("guest channel still open after shutdown")
	}
	// idempotent
	assert.NoError(t, f.srv.Shutdown(time.Second))
}
