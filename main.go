package main

import (
	"context"

	"github.com/martinsuchenak/switchwatch/cmd/alarms"
	"github.com/martinsuchenak/switchwatch/cmd/device"
	"github.com/martinsuchenak/switchwatch/cmd/poll"
	"github.com/martinsuchenak/switchwatch/cmd/probe"
	"github.com/martinsuchenak/switchwatch/cmd/server"
	"github.com/martinsuchenak/switchwatch/internal/log"
	"github.com/paularlott/cli"
	"github.com/paularlott/cli/env"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Load .env file if it exists
	env.Load()

	// Initialize structured logging
	log.Configure("info", "console")

	rootCmd := &cli.Command{
		Name:        "switchwatch",
		Version:     version,
		Usage:       "SNMP switch-port monitoring",
		Description: "Poll managed switches over SNMP, detect port and MAC changes, and raise deduplicated alarms",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:         "log-level",
				Usage:        "Log level (trace, debug, info, warn, error)",
				DefaultValue: "info",
				EnvVars:      []string{"SW_LOG_LEVEL"},
				Global:       true,
			},
			&cli.StringFlag{
				Name:         "log-format",
				Usage:        "Log format (console, json)",
				DefaultValue: "console",
				EnvVars:      []string{"SW_LOG_FORMAT"},
				Global:       true,
			},
		},
		PreRun: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			log.Configure(cmd.GetString("log-level"), cmd.GetString("log-format"))
			return ctx, nil
		},
		Commands: []*cli.Command{
			server.Command(),
			poll.Command(),
			probe.Command(),
			{
				Name:        "device",
				Usage:       "Device commands",
				Description: "Inspect monitored devices and their port state",
				Commands:    device.Commands(),
			},
			{
				Name:        "alarm",
				Usage:       "Alarm commands",
				Description: "List, acknowledge and resolve alarms",
				Commands:    alarms.Commands(),
			},
		},
	}

	if err := rootCmd.Execute(context.Background()); err != nil {
		log.Fatal("Command execution failed", "error", err)
	}
}
