package guest

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opaper/bridge"
	"opaper/handler"
	"opaper/host"
	"opaper/scheduler"
	"opaper/screenshot"
	"opaper/sysstats"
	"opaper/transport"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type flakyProbe struct {
	calls atomic.Int32
}

func (p *flakyProbe) Sample(context.Context) (sysstats.Stats, error) {
	if p.calls.Add(1) == 1 {
		return sysstats.Stats{}, errors.New("sensor busy")
	}
	return sysstats.Stats{CPUUsagePercent: 3, MemoryUsed: 1, MemoryTotal: 4, MemoryUsagePercent: 25}, nil
}

type opened struct {
	mu    sync.Mutex
	paths []string
}

func (o *opened) Open(_ context.Context, path string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paths = append(o.paths, path)
	return nil
}

// link connects a host (without library) to a guest rendering surface.
func link(t *testing.T, probe sysstats.Probe, surface Surface) (hostCh *bridge.Channel, client Client) {
	t.Helper()
	hostReg := handler.NewRegistry()
	require.NoError(t, host.New(host.Deps{Stats: probe, Launcher: &opened{}, Logger: quiet}).Register(hostReg))
	guestReg := handler.NewRegistry()
	require.NoError(t, Register(guestReg, surface))

	a, b := transport.Pipe()
	hostCh = bridge.New(a, hostReg, bridge.WithLogger(quiet))
	guestCh := bridge.New(b, guestReg, bridge.WithLogger(quiet))
	ctx, cancel := context.WithCancel(context.Background())
	go hostCh.Serve(ctx)
	go guestCh.Serve(ctx)
	t.Cleanup(func() {
		cancel()
		hostCh.Close()
		guestCh.Close()
	})
	return hostCh, Client{Channel: guestCh}
}

func blank(w, h int) Surface {
	return SurfaceFunc(func(context.Context) (image.Image, error) {
		return image.NewRGBA(image.Rect(0, 0, w, h)), nil
	})
}

func TestHostScreenshotsGuest(t *testing.T) {
	hostCh, _ := link(t, sysstats.Static{}, blank(200, 100))

	url, err := host.Preview{Channel: hostCh}.Screenshot(context.Background())
	require.NoError(t, err)
	raw, err := screenshot.DecodeDataURL(url)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 100, 50), img.Bounds())
}

func TestScreenshotSnapshotFailure(t *testing.T) {
	failing := SurfaceFunc(func(context.Context) (image.Image, error) {
		return nil, errors.New("context lost")
	})
	hostCh, _ := link(t, sysstats.Static{}, failing)

	_, err := host.Preview{Channel: hostCh}.Screenshot(context.Background())
	var remote *bridge.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Msg, "context lost")
}

func TestClientCallsHost(t *testing.T) {
	_, client := link(t, sysstats.Static{CPUUsagePercent: 7, MemoryTotal: 8}, blank(1, 1))
	ctx := context.Background()

	stats, err := client.GetSystemStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7.0, stats.CPUUsagePercent)
	assert.EqualValues(t, 8, stats.MemoryTotal)

	require.NoError(t, client.OnWallpaperClick(ctx, "test-button"))

	msg, err := client.OpenExecutable(ctx, "/usr/bin/true")
	require.NoError(t, err)
	assert.Equal(t, "Successfully opened: /usr/bin/true", msg)

	// this host has no library
	_, err = client.ReadConfig(ctx)
	require.Error(t, err)
	assert.Equal(t, "unknown method", err.Error())
}

func TestStatsPollerSurvivesFailures(t *testing.T) {
	probe := &flakyProbe{}
	_, client := link(t, probe, blank(1, 1))

	var (
		mu       sync.Mutex
		failures int
		samples  []sysstats.Stats
	)
	poller := StatsPoller(client, 1, func(s sysstats.Stats, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			failures++
			return
		}
		samples = append(samples, s)
	}, scheduler.WithLogger(quiet))
	assert.Equal(t, "*/1 * * * * *", poller.Spec())

	require.NoError(t, poller.Start())
	defer poller.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return failures == 1 && len(samples) >= 1
	}, 5*time.Second, 50*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.EqualValues(t, 25, samples[0].MemoryUsagePercent)
}
