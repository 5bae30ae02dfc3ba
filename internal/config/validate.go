package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the structure of cfg and returns every problem found,
// joined with errors.Join. Semantic checks that need other packages (level
// names, layout templates, cron specs) are done by the caller.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	r := cfg.Relay
	if r.BatchSize < 0 {
		add(fmt.Errorf("relay.batch_size: must be >= 0"))
	}
	if r.MaxInFlight < 0 {
		add(fmt.Errorf("relay.max_inflight: must be >= 0"))
	}
	for _, d := range [][2]string{
		{"relay.interval", r.Interval},
		{"relay.batch_pause", r.BatchPause},
		{"relay.timeout", r.Timeout},
	} {
		_, err := ParseDurationField(d[0], d[1])
		add(err)
	}

	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		add(errors.New("logging.file.path: required when logging.file.enabled"))
	}

	if cfg.Ingest.Enabled && strings.TrimSpace(cfg.Ingest.Path) == "" {
		add(errors.New(`ingest.path: required when ingest.enabled (use "-" for stdin)`))
	}

	if cfg.Heartbeat.Enabled && strings.TrimSpace(cfg.Heartbeat.Schedule) == "" {
		add(errors.New("heartbeat.schedule: required when heartbeat.enabled"))
	}
	_, err := ParseDurationField("heartbeat.retention", cfg.Heartbeat.Retention)
	add(err)

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				add(fmt.Errorf("storage.path: required for driver %q", s.Driver))
			}
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		_, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout)
		add(err)
	}

	for _, d := range [][2]string{
		{"ops.read_timeout", cfg.Ops.ReadTimeout},
		{"ops.write_timeout", cfg.Ops.WriteTimeout},
		{"ops.idle_timeout", cfg.Ops.IdleTimeout},
	} {
		_, err := ParseDurationField(d[0], d[1])
		add(err)
	}

	return errors.Join(errs...)
}
