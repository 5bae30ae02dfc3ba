package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"slackrelay/internal/app"
	"slackrelay/internal/config"
	"slackrelay/internal/relay"
	logx "slackrelay/pkg/logx"
)

func runCommand(configPath *string) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Start the relay daemon",
		Action: func(ctx context.Context, _ *cli.Command) error {
			a, err := app.New(*configPath)
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				return err
			}

			reason := app.StopSignal
			select {
			case <-ctx.Done():
			case <-a.Done():
				reason = app.StopFatalError
			case <-a.InputDone():
				reason = app.StopInputDone
			}

			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = a.Stop(sctx, reason)
			return a.Err()
		},
	}
}

func checkCommand(configPath *string) *cli.Command {
	return &cli.Command{
		Name:  "check",
		Usage: "Validate the config file and print every problem",
		Action: func(_ context.Context, c *cli.Command) error {
			cfg, err := config.NewConfigManager(*configPath).Parse()
			if err != nil {
				return err
			}
			w := c.Root().Writer
			if err := app.Check(cfg); err != nil {
				for _, line := range strings.Split(err.Error(), "\n") {
					_, _ = fmt.Fprintln(w, "  -", line)
				}
				return cli.Exit(fmt.Sprintf("%s: invalid config", *configPath), 1)
			}
			_, _ = fmt.Fprintf(w, "%s: ok\n", *configPath)
			return nil
		},
	}
}

func sendCommand(configPath *string) *cli.Command {
	var (
		level   string
		timeout time.Duration
	)
	return &cli.Command{
		Name:      "send",
		Usage:     "Push one message through the relay and wait for delivery",
		ArgsUsage: "MESSAGE",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "level",
				Aliases:     []string{"l"},
				Usage:       "event level (trace, debug, info, warn, error)",
				Value:       "error",
				Destination: &level,
			},
			&cli.DurationFlag{
				Name:        "timeout",
				Usage:       "how long to wait for the delivery outcome",
				Value:       10 * time.Second,
				Destination: &timeout,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			msg := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if msg == "" {
				return errors.New("send: MESSAGE is required")
			}
			lvl, err := relay.ParseLevel(level)
			if err != nil {
				return err
			}
			cfg, err := config.NewConfigManager(*configPath).Parse()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			log := logx.NewWriter(logx.Stderr(), cfg.Logging.Level)
			de, err := app.Send(ctx, cfg, relay.Event{Level: lvl, Message: msg, Logger: "cli"}, nil, log)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(c.Root().Writer, "delivered id=%s bytes=%d took=%s\n", de.ID, de.Bytes, de.Took)
			return nil
		},
	}
}
