package app

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"opaper/bridge"
	"opaper/client"
	"opaper/loadbalance"
)

func callCmd() *cli.Command {
	var (
		bf bridgeFlags
		df discoveryFlags
	)
	return &cli.Command{
		Name:      "call",
		Usage:     "Call one host method and print its data",
		ArgsUsage: "<method> [json payload]",
		Flags:     append(bf.flags(), df.flags()...),
		Action: func(ctx *cli.Context) error {
			method := ctx.Args().First()
			if method == "" {
				return cli.Exit("missing method", 2)
			}
			var payload any
			if raw := ctx.Args().Get(1); raw != "" {
				if !json.Valid([]byte(raw)) {
					return cli.Exit("payload is not valid JSON", 2)
				}
				payload = json.RawMessage(raw)
			}
			ct, err := bf.codecType()
			if err != nil {
				return err
			}
			disc, closeDisc, err := df.registry()
			if err != nil {
				return err
			}
			defer closeDisc()
			bal, err := loadbalance.New(df.balancer, "")
			if err != nil {
				return err
			}

			conn, err := client.Dial(ctx.Context, disc, bal, df.service,
				client.WithCodec(ct),
				client.WithBridgeOptions(bridge.WithTimeout(bf.timeout)))
			if err != nil {
				return err
			}
			defer conn.Close()

			var data json.RawMessage
			err = conn.CallInto(ctx.Context, method, payload, &data)
			var remote *bridge.RemoteError
			if errors.As(err, &remote) {
				return cli.Exit(fmt.Sprintf("%s: %d %s", method, remote.Code, remote.Msg), 1)
			}
			if err != nil {
				return err
			}
			if len(data) == 0 {
				data = json.RawMessage("null")
			}
			fmt.Fprintln(ctx.App.Writer, string(data))
			return nil
		},
	}
}
