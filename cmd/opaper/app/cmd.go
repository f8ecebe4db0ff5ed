package app

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"opaper/bridge"
	"opaper/codec"
)

const envPrefix = "OPAPER_"

func env(name string) []string {
	return []string{envPrefix + name}
}

func Instance() *cli.App {
	loglevel := "info"
	return &cli.App{
		Name:  "opaper",
		Usage: "Wallpaper editor host and preview bridge",
		Commands: []*cli.Command{
			hostCmd(),
			previewCmd(),
			callCmd(),
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Verbosity of log, valid values are: debug, info, warn, error",
				EnvVars:     env("LOG_LEVEL"),
				Destination: &loglevel,
				Value:       loglevel,
			},
		},
		Before: func(ctx *cli.Context) error {
			slog.SetDefault(slog.New(slog.NewTextHandler(ctx.App.ErrWriter, &slog.HandlerOptions{
				Level: parseLevel(loglevel),
			})))
			return nil
		},
	}
}

func Run(ctx context.Context, args []string) error {
	return Instance().RunContext(ctx, args)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// flags shared by every command that opens a bridge
type bridgeFlags struct {
	codec   string
	timeout time.Duration
}

func (f *bridgeFlags) flags() []cli.Flag {
	f.codec = "json"
	f.timeout = bridge.DefaultTimeout
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "codec",
			Usage:       "Envelope encoding: json, msgpack or cbor",
			EnvVars:     env("CODEC"),
			Destination: &f.codec,
			Value:       f.codec,
		},
		&cli.DurationFlag{
			Name:        "timeout",
			Usage:       "How long an outbound call waits for its response",
			EnvVars:     env("TIMEOUT"),
			Destination: &f.timeout,
			Value:       f.timeout,
		},
	}
}

func (f *bridgeFlags) codecType() (codec.CodecType, error) {
	return codec.ParseCodecType(strings.ToLower(f.codec))
}
