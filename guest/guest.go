// Package guest is the preview side of the bridge: it answers the host's screenshot requests
// and wraps the host methods a wallpaper document calls.
package guest

import (
	"context"
	"image"

	"opaper/bridge"
	"opaper/handler"
	"opaper/scheduler"
	"opaper/screenshot"
	"opaper/sysstats"
)

// DefaultPollInterval is how often, in seconds, a preview refreshes its stats panel.
const DefaultPollInterval = 2

// Surface is whatever renders the candidate wallpaper.
type Surface interface {
	Snapshot(ctx context.Context) (image.Image, error)
}

// SurfaceFunc adapts a function to Surface.
type SurfaceFunc func(ctx context.Context) (image.Image, error)

func (f SurfaceFunc) Snapshot(ctx context.Context) (image.Image, error) {
	return f(ctx)
}

// Register installs screenshot on reg, answered with a PNG data URL of surface's current frame.
func Register(reg *handler.Registry, surface Surface) error {
	return reg.Register("screenshot", handler.NoArgs(func(ctx context.Context) (string, error) {
		img, err := surface.Snapshot(ctx)
		if err != nil {
			return "", handler.Unavailable("snapshot failed: %v", err)
		}
		return screenshot.Capture(img, screenshot.DefaultOptions())
	}))
}

// Client calls host methods over a channel.
type Client struct {
	Channel *bridge.Channel
}

func (c Client) GetSystemStats(ctx context.Context) (sysstats.Stats, error) {
	var stats sysstats.Stats
	err := c.Channel.CallInto(ctx, "get_system_stats", nil, &stats)
	return stats, err
}

func (c Client) OnWallpaperClick(ctx context.Context, source string) error {
	_, err := c.Channel.Call(ctx, "on_wallpaper_click", map[string]string{"source": source})
	return err
}

func (c Client) OpenExecutable(ctx context.Context, path string) (string, error) {
	var msg string
	err := c.Channel.CallInto(ctx, "open_executable", map[string]string{"path": path}, &msg)
	return msg, err
}

func (c Client) ReadConfig(ctx context.Context) (map[string]any, error) {
	cfg := map[string]any{}
	err := c.Channel.CallInto(ctx, "read_config", nil, &cfg)
	return cfg, err
}

// StatsPoller returns a stopped scheduler that fetches stats every interval seconds and hands
// each result, or failure, to sink. A failed fetch never stops the schedule.
func StatsPoller(client Client, interval int, sink func(sysstats.Stats, error), opts ...scheduler.Option) *scheduler.Scheduler {
	return scheduler.New(interval, func() error {
		stats, err := client.GetSystemStats(context.Background())
		sink(stats, err)
		return err
	}, append([]scheduler.Option{scheduler.WithName("get_system_stats")}, opts...)...)
}
