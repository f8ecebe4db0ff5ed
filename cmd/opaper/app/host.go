package app

import (
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"opaper/bridge"
	"opaper/handler"
	"opaper/host"
	"opaper/library"
	"opaper/middleware"
	"opaper/registry"
	"opaper/server"
	"opaper/sysstats"
)

// Host handlers give up before the guest's own call timeout so it gets a 408 instead of
// "Request timeout".
const (
	handlerTimeoutShare = 0.8
	retries             = 2
	retryDelay          = 200 * time.Millisecond
)

// hostMiddlewares is the inbound chain of every session, outermost first. Retries of 503
// replies run inside the handler deadline.
func hostMiddlewares(reg *handler.Registry, metrics prometheus.Registerer, logger *slog.Logger, rateLimit float64, callTimeout time.Duration) []middleware.Middleware {
	mws := []middleware.Middleware{
		middleware.TracingMiddleware(nil),
		middleware.MetricsMiddleware(middleware.WithRegistry(metrics)),
		middleware.LoggingMiddleware(logger),
	}
	if rateLimit > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(rateLimit, int(rateLimit)))
	}
	return append(mws,
		middleware.ValidateMiddleware(reg),
		middleware.TimeOutMiddleware(time.Duration(float64(callTimeout)*handlerTimeoutShare)),
		middleware.RetryMiddleware(retries, retryDelay),
	)
}

func hostCmd() *cli.Command {
	var (
		bf         bridgeFlags
		addr       = "127.0.0.1:7878"
		streamAddr string
		dataDir    string
		origins    cli.StringSlice
		etcd       cli.StringSlice
		service    = "opaper"
		advertise  string
		rateLimit  = 50.0
	)
	flags := append(bf.flags(),
		&cli.StringFlag{Name: "addr", Aliases: []string{"b"}, Usage: "HTTP address serving /bridge", EnvVars: env("ADDR"), Destination: &addr, Value: addr},
		&cli.StringFlag{Name: "stream-addr", Usage: "Optional TCP address for framed guests", EnvVars: env("STREAM_ADDR"), Destination: &streamAddr},
		&cli.StringFlag{Name: "data-dir", Usage: "Library directory (default ~/.opaper)", EnvVars: env("DATA_DIR"), Destination: &dataDir},
		&cli.StringSliceFlag{Name: "origin", Usage: "Origin allowed to open the bridge, * for any", EnvVars: env("ORIGINS"), Destination: &origins},
		&cli.StringSliceFlag{Name: "etcd", Usage: "etcd endpoints to advertise the host on", EnvVars: env("ETCD_ENDPOINTS"), Destination: &etcd},
		&cli.StringFlag{Name: "service", Usage: "Service name advertised in etcd", EnvVars: env("SERVICE"), Destination: &service, Value: service},
		&cli.StringFlag{Name: "advertise", Usage: "Bridge URL advertised in etcd (default derived from --addr)", EnvVars: env("ADVERTISE"), Destination: &advertise},
		&cli.Float64Flag{Name: "rate-limit", Usage: "Inbound requests per second per guest, 0 disables", EnvVars: env("RATE_LIMIT"), Destination: &rateLimit, Value: rateLimit},
	)
	return &cli.Command{
		Name:  "host",
		Usage: "Serve the host methods to preview guests",
		Flags: flags,
		Action: func(ctx *cli.Context) error {
			ct, err := bf.codecType()
			if err != nil {
				return err
			}
			if dataDir == "" {
				if dataDir, err = library.DefaultDir(); err != nil {
					return err
				}
			}
			if dataDir, err = homedir.Expand(dataDir); err != nil {
				return err
			}
			lib, err := library.Open(dataDir)
			if err != nil {
				return err
			}
			defer lib.Close()

			logger := slog.Default()
			reg := handler.NewRegistry()
			h := host.New(host.Deps{
				Stats:   sysstats.NewProbe(),
				Painter: host.FilePainter{Dir: filepath.Join(dataDir, "current")},
				Library: lib,
				DataDir: dataDir,
				Logger:  logger,
			})
			if err := h.Register(reg); err != nil {
				return err
			}
			mws := hostMiddlewares(reg, prometheus.DefaultRegisterer, logger, rateLimit, bf.timeout)

			opts := []server.Option{
				server.WithLogger(logger),
				server.WithCodec(ct),
				server.WithOrigins(origins.Value()...),
				server.WithLibrary(lib),
				server.WithGatherer(prometheus.DefaultGatherer),
				server.WithBridgeOptions(
					bridge.WithTimeout(bf.timeout),
					bridge.WithMiddleware(mws...),
					bridge.WithMetrics(bridge.NewMetrics(prometheus.DefaultRegisterer)),
				),
			}
			if len(etcd.Value()) > 0 {
				disc, err := registry.NewEtcdRegistry(etcd.Value())
				if err != nil {
					return err
				}
				defer disc.Close()
				opts = append(opts, server.WithDiscovery(disc, service, registry.Endpoint{Addr: advertise, Weight: 1}))
			}
			srv := server.New(reg, opts...)
			srv.OnSession(func(sess *server.Session) {
				logger.Info("Preview attached", "session", sess.ID, "remote", sess.Remote)
			})

			if streamAddr != "" {
				ln, err := net.Listen("tcp", streamAddr)
				if err != nil {
					return fmt.Errorf("stream listener: %w", err)
				}
				go func() {
					if err := srv.ServeStream(ln); err != nil {
						logger.Error("Stream listener failed", "err", err)
					}
				}()
			}

			err = srv.Serve(ctx.Context, addr)
			if shutdownErr := srv.Shutdown(server.DefaultShutdownTimeout); shutdownErr != nil && err == nil {
				err = shutdownErr
			}
			return err
		},
	}
}
