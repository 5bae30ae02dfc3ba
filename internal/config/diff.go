package config

import (
	"reflect"
	"sort"
	"strings"

	logx "slackrelay/pkg/logx"
)

// Sections applied in place on reload. Everything else needs a restart.
var hotSections = map[string]bool{"logging": true, "heartbeat": true}

// SummarizeConfigChange returns (1) a sorted list of changed sections,
// (2) safe structured attrs for logging (never includes the webhook or the
// ops token), and (3) the changed sections that only take effect after a
// restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	// Relay (never log the webhook)
	o, n := oldCfg.Relay, newCfg.Relay
	webhookChanged := strings.TrimSpace(o.Webhook) != strings.TrimSpace(n.Webhook)
	o.Webhook, n.Webhook = "", ""
	if webhookChanged || !reflect.DeepEqual(o, n) {
		changed = append(changed, "relay")
		attrs = append(attrs,
			logx.String("relay.channel", n.Channel),
			logx.String("relay.min_level", n.MinLevel),
			logx.String("relay.interval", n.Interval),
			logx.Int("relay.batch_size", n.BatchSize),
			logx.Bool("relay.webhook_changed", webhookChanged),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.relay_enabled", newCfg.Logging.Relay.Enabled),
		)
	}

	if oldCfg.Ingest != newCfg.Ingest {
		changed = append(changed, "ingest")
		attrs = append(attrs,
			logx.Bool("ingest.enabled", newCfg.Ingest.Enabled),
			logx.String("ingest.path", newCfg.Ingest.Path),
		)
	}

	if oldCfg.Heartbeat != newCfg.Heartbeat {
		changed = append(changed, "heartbeat")
		attrs = append(attrs,
			logx.Bool("heartbeat.enabled", newCfg.Heartbeat.Enabled),
			logx.String("heartbeat.schedule", newCfg.Heartbeat.Schedule),
		)
	}

	// Storage: nil means disabled.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if strings.TrimSpace(oS.Driver) != strings.TrimSpace(nS.Driver) ||
		strings.TrimSpace(oS.Path) != strings.TrimSpace(nS.Path) ||
		strings.TrimSpace(oS.BusyTimeout) != strings.TrimSpace(nS.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	// Ops (never log token)
	oOps, nOps := oldCfg.Ops, newCfg.Ops
	tokenChanged := oOps.Token != nOps.Token
	oOps.Token, nOps.Token = "", ""
	if tokenChanged || oOps != nOps {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", nOps.Enabled),
			logx.String("ops.addr", strings.TrimSpace(nOps.Addr)),
			logx.Bool("ops.token_set", strings.TrimSpace(newCfg.Ops.Token) != ""),
			logx.Bool("ops.pprof", nOps.Pprof),
		)
	}

	sort.Strings(changed)
	restart := make([]string, 0, len(changed))
	for _, s := range changed {
		if !hotSections[s] {
			restart = append(restart, s)
		}
	}
	return changed, attrs, restart
}
