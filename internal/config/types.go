package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "5s", "1m").
type Config struct {
	Relay     RelayConfig     `json:"relay"`
	Logging   LoggingConfig   `json:"logging"`
	Ingest    IngestConfig    `json:"ingest,omitempty"`
	Heartbeat HeartbeatConfig `json:"heartbeat,omitempty"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Ops       OpsConfig       `json:"ops,omitempty"`
}

// RelayConfig configures the webhook relay.
//
// webhook, channel, min_level and layout are required. Defaults (when
// omitted/zero):
//   - base_url: "https://hooks.slack.com/services/"
//   - interval: "5s"
//   - batch_size: 30
//   - batch_pause: "500ms"
//   - timeout: "3s"
//   - max_inflight: 4
type RelayConfig struct {
	Name        string `json:"name,omitempty"`
	Webhook     string `json:"webhook"` // token path or full URL (secret; never logged)
	BaseURL     string `json:"base_url,omitempty"`
	Channel     string `json:"channel"`
	MinLevel    string `json:"min_level"`
	Layout      string `json:"layout"`
	Interval    string `json:"interval,omitempty"`
	BatchSize   int    `json:"batch_size,omitempty"`
	BatchPause  string `json:"batch_pause,omitempty"`
	Timeout     string `json:"timeout,omitempty"`
	MaxInFlight int    `json:"max_inflight,omitempty"`
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Relay   LoggingRelay `json:"relay"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingRelay forwards the process's own log lines to the relay.
type LoggingRelay struct {
	Enabled  bool   `json:"enabled"`
	MinLevel string `json:"min_level"` // default: "warn"
}

// IngestConfig reads log lines (JSON or plain) from a file or stdin ("-").
type IngestConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// HeartbeatConfig sends a periodic event through the relay so a silent
// channel can be told apart from a dead relay.
//
// Schedule is a cron spec with optional seconds ("0 */30 * * * *") or a
// descriptor ("@every 1h", "@daily").
type HeartbeatConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"`
	Level    string `json:"level,omitempty"`   // default: relay.min_level
	Message  string `json:"message,omitempty"` // default: "heartbeat"
	// Retention prunes the delivery journal on every beat; "0s" keeps everything.
	Retention string `json:"retention,omitempty"`
}

// StorageConfig controls the optional delivery journal.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./slackrelay.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// OpsConfig controls the optional ops HTTP server (/metrics, /healthz,
// /status, /debug/pprof/).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9470").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:9470"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
