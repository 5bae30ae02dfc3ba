package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

// Populated at build time via -ldflags.
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var configPath string
	cmd := &cli.Command{
		Name:    "slackrelay",
		Usage:   "Relay log events to a Slack incoming webhook with rate limiting and batching",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file (json or yaml)",
				Sources:     cli.EnvVars("SLACKRELAY_CONFIG"),
				Value:       "./config.yaml",
				Destination: &configPath,
			},
		},
		Commands: []*cli.Command{
			runCommand(&configPath),
			checkCommand(&configPath),
			sendCommand(&configPath),
		},
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
