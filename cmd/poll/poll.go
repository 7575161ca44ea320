// Package poll implements the one-shot poll command used for testing a
// configuration without running the full server.
package poll

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/martinsuchenak/switchwatch/cmd/server"
	"github.com/martinsuchenak/switchwatch/internal/config"
	"github.com/paularlott/cli"
)

func Command() *cli.Command {
	flags := append(config.Flags(),
		&cli.StringFlag{
			Name:  "device",
			Usage: "Poll only this device (default: all configured devices)",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Print results as JSON",
		},
	)

	return &cli.Command{
		Name:        "poll",
		Usage:       "Run a single poll cycle",
		Description: "Poll the configured switches once, persist the results and exit",
		Flags:       flags,
		Run: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.FromCommand(cmd)
			if err != nil {
				return err
			}

			app, err := server.Bootstrap(cfg, cmd.GetString("device"))
			if err != nil {
				return err
			}
			defer app.Close()

			results := app.Engine.PollAll()

			if cmd.GetBool("json") {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}

			failures := 0
			for _, res := range results {
				if res.Success {
					fmt.Printf("%-20s %-15s OK    %d ports  %.0fms\n",
						res.DeviceName, res.DeviceIP, len(res.Ports), res.DurationMs)
					continue
				}
				failures++
				fmt.Printf("%-20s %-15s FAIL  %s\n", res.DeviceName, res.DeviceIP, res.Error)
			}
			if failures > 0 {
				return fmt.Errorf("%d of %d devices failed", failures, len(results))
			}
			return nil
		},
	}
}
