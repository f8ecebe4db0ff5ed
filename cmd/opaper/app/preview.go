package app

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/image/draw"

	"opaper/bridge"
	"opaper/client"
	"opaper/guest"
	"opaper/handler"
	"opaper/loadbalance"
	"opaper/registry"
	"opaper/scheduler"
	"opaper/screenshot"
	"opaper/sysstats"
)

const reconnectDelay = 2 * time.Second

func previewCmd() *cli.Command {
	var (
		bf       bridgeFlags
		df       discoveryFlags
		interval = guest.DefaultPollInterval
		width    = 640
		height   = 360
		fill     = "#1a1a2e"
		guestID  string
	)
	flags := append(bf.flags(), df.flags()...)
	flags = append(flags,
		&cli.IntFlag{Name: "interval", Usage: "Seconds between system stats refreshes; up to 59 ticks on wall-clock multiples, longer intervals count from start", EnvVars: env("POLL_INTERVAL"), Destination: &interval, Value: interval},
		&cli.IntFlag{Name: "width", Usage: "Surface width in pixels", Destination: &width, Value: width},
		&cli.IntFlag{Name: "height", Usage: "Surface height in pixels", Destination: &height, Value: height},
		&cli.StringFlag{Name: "fill", Usage: "Surface color answered to screenshot requests", Destination: &fill, Value: fill},
		&cli.StringFlag{Name: "guest-id", Usage: "Identity used by the consistent-hash balancer (default hostname)", EnvVars: env("GUEST_ID"), Destination: &guestID},
	)
	return &cli.Command{
		Name:  "preview",
		Usage: "Run a headless preview guest that polls the host and answers screenshots",
		Flags: flags,
		Action: func(ctx *cli.Context) error {
			ct, err := bf.codecType()
			if err != nil {
				return err
			}
			c, err := screenshot.ParseHexColor(fill)
			if err != nil {
				return err
			}
			if guestID == "" {
				guestID, _ = os.Hostname()
			}
			disc, closeDisc, err := df.registry()
			if err != nil {
				return err
			}
			defer closeDisc()
			bal, err := loadbalance.New(df.balancer, guestID)
			if err != nil {
				return err
			}

			reg := handler.NewRegistry()
			if err := guest.Register(reg, solidSurface(width, height, c)); err != nil {
				return err
			}

			logger := slog.Default()
			for {
				conn, err := client.Dial(ctx.Context, disc, bal, df.service,
					client.WithCodec(ct),
					client.WithRegistry(reg),
					client.WithLogger(logger),
					client.WithBridgeOptions(bridge.WithTimeout(bf.timeout)))
				if err != nil {
					logger.Warn("No host reachable", "err", err)
				} else {
					runPreview(ctx.Context, conn, interval, logger)
				}
				if waitFor(ctx.Context, reconnectDelay) != nil {
					return nil
				}
			}
		},
	}
}

// runPreview polls stats over conn until the host goes away or ctx ends.
func runPreview(ctx context.Context, conn *client.Client, interval int, logger *slog.Logger) {
	defer conn.Close()
	poller := guest.StatsPoller(guest.Client{Channel: conn.Channel}, interval, func(s sysstats.Stats, err error) {
		if err != nil {
			logger.Warn("Stats refresh failed", "err", err)
			return
		}
		logger.Info("Stats",
			"cpu", fmt.Sprintf("%.1f%%", s.CPUUsagePercent),
			"memory", fmt.Sprintf("%d/%d MiB (%.1f%%)", s.MemoryUsed, s.MemoryTotal, s.MemoryUsagePercent))
	}, scheduler.WithLogger(logger))
	if err := poller.Start(); err != nil {
		logger.Error("Stats poller", "err", err)
		return
	}
	defer poller.Stop()

	select {
	case <-ctx.Done():
	case <-conn.Done():
		logger.Info("Host disconnected", "addr", conn.Endpoint.Addr)
	}
}

func solidSurface(w, h int, c color.Color) guest.Surface {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	return guest.SurfaceFunc(func(context.Context) (image.Image, error) {
		return img, nil
	})
}

// waitFor blocks until d elapses or ctx ends.
func waitFor(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// discoveryFlags select how a guest finds its host.
type discoveryFlags struct {
	host     string
	etcd     cli.StringSlice
	service  string
	balancer string
}

func (f *discoveryFlags) flags() []cli.Flag {
	f.host = "127.0.0.1:7878"
	f.service = client.DefaultService
	f.balancer = "round-robin"
	return []cli.Flag{
		&cli.StringFlag{Name: "host", Usage: "Host bridge address, ignored with --etcd", EnvVars: env("HOST"), Destination: &f.host, Value: f.host},
		&cli.StringSliceFlag{Name: "etcd", Usage: "etcd endpoints to discover hosts from", EnvVars: env("ETCD_ENDPOINTS"), Destination: &f.etcd},
		&cli.StringFlag{Name: "service", Usage: "Service name hosts advertise under", EnvVars: env("SERVICE"), Destination: &f.service, Value: f.service},
		&cli.StringFlag{Name: "balancer", Usage: "round-robin, weighted-random or consistent-hash", EnvVars: env("BALANCER"), Destination: &f.balancer, Value: f.balancer},
	}
}

func (f *discoveryFlags) registry() (registry.Registry, func(), error) {
	if eps := f.etcd.Value(); len(eps) > 0 {
		reg, err := registry.NewEtcdRegistry(eps)
		if err != nil {
			return nil, nil, err
		}
		return reg, func() { reg.Close() }, nil
	}
	return registry.NewStaticRegistry(f.service, registry.Endpoint{Addr: f.host, Weight: 1}), func() {}, nil
}
