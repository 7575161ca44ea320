package config

import (
	"fmt"
	"time"

	"github.com/paularlott/cli"
)

// Flags returns the configuration flags shared by commands that load
// the full application config
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to the YAML configuration file",
			EnvVars: []string{"SW_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "db",
			Usage:   "Path to the SQLite database file",
			EnvVars: []string{"SW_DATABASE_PATH"},
		},
		&cli.StringFlag{
			Name:    "listen",
			Usage:   "HTTP API listen address (e.g. :8080)",
			EnvVars: []string{"SW_LISTEN_ADDR"},
		},
		&cli.StringFlag{
			Name:  "interval",
			Usage: "Poll interval (e.g. 60s, 5m)",
		},
		&cli.IntFlag{
			Name:  "concurrency",
			Usage: "Maximum devices polled in parallel",
		},
	}
}

// FromCommand loads the configuration applying the command's flag
// values as the highest-priority overrides
func FromCommand(cmd *cli.Command) (*Config, error) {
	opts := &Overrides{
		DatabasePath: cmd.GetString("db"),
		ListenAddr:   cmd.GetString("listen"),
		Concurrency:  cmd.GetInt("concurrency"),
	}
	if v := cmd.GetString("interval"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid interval %q: %w", v, err)
		}
		opts.Interval = d
	}
	return Load(cmd.GetString("config"), opts)
}
