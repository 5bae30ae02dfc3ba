package relay

import (
	"errors"
	"strings"
	"time"
)

// Defaults applied to zero-valued Config fields.
const (
	DefaultInterval    = 5 * time.Second
	DefaultBatchSize   = 30
	DefaultBatchPause  = 500 * time.Millisecond
	DefaultTimeout     = 3 * time.Second
	DefaultMaxInFlight = 4
)

var ErrNotStarted = errors.New("relay not started")

// Config configures one relay (one destination).
//
// Webhook, Channel, Threshold and Layout are required; Start refuses to
// activate a relay while any of them is missing.
type Config struct {
	// Name identifies the relay in logs, metrics and the delivery journal.
	Name string

	// Webhook is a full URL or a token path appended to BaseURL.
	Webhook string
	BaseURL string
	Channel string

	Threshold Level
	Layout    Layout

	Interval    time.Duration // cool-down between dispatches
	BatchSize   int           // attachments per batched POST
	BatchPause  time.Duration // pause after each full chunk
	Timeout     time.Duration // webhook connect/read timeout
	MaxInFlight int           // concurrent single sends before events are diverted to the queue
}

// ConfigError lists every required field that is missing.
type ConfigError struct {
	Relay   string
	Missing []string
}

func (e *ConfigError) Error() string {
	name := e.Relay
	if name == "" {
		name = "relay"
	}
	return name + ": missing required config: " + strings.Join(e.Missing, ", ")
}

// Validate reports all missing required fields at once.
func (c Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Webhook) == "" {
		missing = append(missing, "webhook")
	}
	if c.Threshold == 0 {
		missing = append(missing, "min_level")
	}
	if strings.TrimSpace(c.Channel) == "" {
		missing = append(missing, "channel")
	}
	if c.Layout == nil {
		missing = append(missing, "layout")
	}
	if len(missing) > 0 {
		return &ConfigError{Relay: c.Name, Missing: missing}
	}
	return nil
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Name) == "" {
		c.Name = "default"
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchPause < 0 {
		c.BatchPause = 0
	} else if c.BatchPause == 0 {
		c.BatchPause = DefaultBatchPause
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = DefaultMaxInFlight
	}
	return c
}
