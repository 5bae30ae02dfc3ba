package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"slackrelay/internal/config"
	"slackrelay/internal/heartbeat"
	"slackrelay/internal/ingest"
	"slackrelay/internal/observability/ops"
	"slackrelay/internal/relay"
	"slackrelay/internal/storage"
	logx "slackrelay/pkg/logx"
)

func mapRelayConfig(cfg *config.Config) (relay.Config, error) {
	rc := cfg.Relay
	out := relay.Config{
		Name:        strings.TrimSpace(rc.Name),
		Webhook:     strings.TrimSpace(rc.Webhook),
		BaseURL:     strings.TrimSpace(rc.BaseURL),
		Channel:     strings.TrimSpace(rc.Channel),
		BatchSize:   rc.BatchSize,
		MaxInFlight: rc.MaxInFlight,
	}
	var errs []error

	// An empty level or layout stays zero so relay.Start reports it as missing.
	if s := strings.TrimSpace(rc.MinLevel); s != "" {
		lvl, err := relay.ParseLevel(s)
		if err != nil {
			errs = append(errs, fmt.Errorf("relay.min_level: %w", err))
		}
		out.Threshold = lvl
	}
	if strings.TrimSpace(rc.Layout) != "" {
		l, err := relay.NewTemplateLayout(rc.Layout)
		if err != nil {
			errs = append(errs, fmt.Errorf("relay.layout: %w", err))
		} else {
			out.Layout = l
		}
	}

	var err error
	if out.Interval, err = config.ParseDurationField("relay.interval", rc.Interval); err != nil {
		errs = append(errs, err)
	}
	if out.BatchPause, err = config.ParseDurationField("relay.batch_pause", rc.BatchPause); err != nil {
		errs = append(errs, err)
	}
	if out.Timeout, err = config.ParseDurationField("relay.timeout", rc.Timeout); err != nil {
		errs = append(errs, err)
	}
	return out, errors.Join(errs...)
}

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: lc.File.Path},
		Relay:   logx.RelayConfig{Enabled: lc.Relay.Enabled, MinLevel: lc.Relay.MinLevel},
	}
}

// mapHeartbeatConfig falls back to the relay threshold so a heartbeat is
// never filtered out by default.
func mapHeartbeatConfig(cfg *config.Config, threshold relay.Level) (heartbeat.Config, error) {
	hc := cfg.Heartbeat
	out := heartbeat.Config{
		Enabled:  hc.Enabled,
		Schedule: hc.Schedule,
		Level:    threshold,
		Message:  hc.Message,
	}
	if s := strings.TrimSpace(hc.Level); s != "" {
		lvl, err := relay.ParseLevel(s)
		if err != nil {
			return heartbeat.Config{}, fmt.Errorf("heartbeat.level: %w", err)
		}
		out.Level = lvl
	}
	if out.Level == 0 {
		out.Level = relay.LevelInfo
	}
	if hc.Enabled {
		if _, err := heartbeat.ParseSchedule(hc.Schedule); err != nil {
			return heartbeat.Config{}, err
		}
	}
	ret, err := config.ParseDurationField("heartbeat.retention", hc.Retention)
	if err != nil {
		return heartbeat.Config{}, err
	}
	out.Retention = ret
	return out, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "file", "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
		}
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
}

func mapOpsConfig(cfg *config.Config) (ops.Config, error) {
	oc := cfg.Ops
	out := ops.Config{
		Enabled:       oc.Enabled,
		Addr:          strings.TrimSpace(oc.Addr),
		Token:         strings.TrimSpace(oc.Token),
		AllowInsecure: oc.AllowInsecure,
		Pprof:         oc.Pprof,
	}
	if out.Addr == "" {
		out.Addr = ops.DefaultAddr
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("ops.read_timeout", oc.ReadTimeout, 5*time.Second); err != nil {
		return ops.Config{}, err
	}
	if out.WriteTimeout, err = config.ParseDurationOrDefault("ops.write_timeout", oc.WriteTimeout, 30*time.Second); err != nil {
		return ops.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("ops.idle_timeout", oc.IdleTimeout, time.Minute); err != nil {
		return ops.Config{}, err
	}
	return out, nil
}

func mapIngestConfig(cfg *config.Config) ingest.Config {
	path := strings.TrimSpace(cfg.Ingest.Path)
	return ingest.Config{
		Path: path,
		// A file is tailed for the life of the daemon; stdin ends at EOF.
		Follow: path != ingest.Stdin,
	}
}

// Check validates cfg the way the daemon would and returns every problem
// found, joined. A nil result means run would start the relay.
func Check(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if err := config.Validate(cfg); err != nil {
		errs = append(errs, err)
	}
	rc, err := mapRelayConfig(cfg)
	if err != nil {
		errs = append(errs, err)
	}
	if err := rc.Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapHeartbeatConfig(cfg, rc.Threshold); err != nil {
		errs = append(errs, err)
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapOpsConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if s := strings.TrimSpace(cfg.Logging.Relay.MinLevel); s != "" {
		if _, err := relay.ParseLevel(s); err != nil {
			errs = append(errs, fmt.Errorf("logging.relay.min_level: %w", err))
		}
	}
	return joinUnique(errs)
}

// joinUnique flattens joined errors and drops repeated messages; the same
// bad duration is found by both the structural and the mapping pass.
func joinUnique(errs []error) error {
	var (
		out  []error
		seen = map[string]bool{}
		walk func(err error)
	)
	walk = func(err error) {
		if j, ok := err.(interface{ Unwrap() []error }); ok {
			for _, e := range j.Unwrap() {
				walk(e)
			}
			return
		}
		if msg := err.Error(); !seen[msg] {
			seen[msg] = true
			out = append(out, err)
		}
	}
	for _, err := range errs {
		walk(err)
	}
	return errors.Join(out...)
}
