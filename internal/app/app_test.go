package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"slackrelay/internal/config"
	"slackrelay/internal/relay"
	logx "slackrelay/pkg/logx"
)

type recordingSender struct {
	mu     sync.Mutex
	bodies []string
}

func (s *recordingSender) Post(_ context.Context, body []byte) error {
	s.mu.Lock()
	s.bodies = append(s.bodies, string(body))
	s.mu.Unlock()
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bodies)
}

func baseConfig(webhook string) *config.Config {
	return &config.Config{
		Relay: config.RelayConfig{
			Webhook:  webhook,
			Channel:  "#ops",
			MinLevel: "warn",
			Layout:   "{{.Level}} {{.Message}}",
			Interval: "50ms",
		},
		Logging: config.LoggingConfig{Level: "error"},
	}
}

func TestCheckReportsEveryProblem(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Relay: config.RelayConfig{
			MinLevel: "loud",
			Layout:   "{{.Message",
			Interval: "soon",
		},
		Heartbeat: config.HeartbeatConfig{Enabled: true, Schedule: "every tuesday"},
		Logging:   config.LoggingConfig{Relay: config.LoggingRelay{MinLevel: "verbose"}},
	}
	err := Check(cfg)
	if err == nil {
		t.Fatal("Check accepted broken config")
	}
	msg := err.Error()
	for _, want := range []string{
		"relay.min_level", "relay.layout", "relay.interval",
		"webhook", "channel", "heartbeat.schedule", "logging.relay.min_level",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("Check error %q does not mention %s", msg, want)
		}
	}
	if n := strings.Count(msg, `invalid duration "soon"`); n != 1 {
		t.Fatalf("relay.interval reported %d times, want 1:\n%s", n, msg)
	}

	if err := Check(baseConfig("T0/B0/X")); err != nil {
		t.Fatalf("Check(valid) = %v", err)
	}
}

func TestMapHeartbeatDefaultsToRelayThreshold(t *testing.T) {
	t.Parallel()
	cfg := baseConfig("x")
	cfg.Heartbeat = config.HeartbeatConfig{Enabled: true, Schedule: "@every 1h", Retention: "24h"}
	hb, err := mapHeartbeatConfig(cfg, relay.LevelWarn)
	if err != nil {
		t.Fatalf("mapHeartbeatConfig: %v", err)
	}
	if hb.Level != relay.LevelWarn || hb.Retention != 24*time.Hour {
		t.Fatalf("heartbeat = %+v", hb)
	}

	cfg.Heartbeat.Level = "error"
	if hb, _ = mapHeartbeatConfig(cfg, relay.LevelWarn); hb.Level != relay.LevelError {
		t.Fatalf("explicit level = %v", hb.Level)
	}
}

func TestSendDeliversToWebhook(t *testing.T) {
	t.Parallel()
	var (
		mu   sync.Mutex
		body string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		body = string(b)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	de, err := Send(ctx, baseConfig(srv.URL), relay.Event{Level: relay.LevelError, Message: "disk full"}, nil, logx.Nop())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if de.Kind != relay.KindSingle || de.Events != 1 || de.ID == "" {
		t.Fatalf("delivery = %+v", de)
	}
	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(body, `"channel":"#ops"`) || !strings.Contains(body, "[ERROR] disk full") {
		t.Fatalf("webhook body = %s", body)
	}
}

func TestSendReportsFailuresAndFilter(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid_token", http.StatusForbidden)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	de, err := Send(ctx, baseConfig(srv.URL), relay.Event{Level: relay.LevelWarn, Message: "x"}, nil, logx.Nop())
	if err == nil || de.Status != http.StatusForbidden {
		t.Fatalf("Send = %+v, %v; want 403 failure", de, err)
	}

	_, err = Send(ctx, baseConfig(srv.URL), relay.Event{Level: relay.LevelInfo, Message: "x"}, nil, logx.Nop())
	if !errors.Is(err, ErrFiltered) {
		t.Fatalf("below threshold err = %v, want ErrFiltered", err)
	}
}

const appYAML = `
relay:
  webhook: T000/B000/XXX
  channel: "#ops"
  min_level: warn
  layout: "{{.Level}} {{.Message}}"
  interval: 50ms
logging:
  level: error
ingest:
  enabled: true
  path: %LOG%
storage:
  driver: file
  path: %DB%
`

func TestAppIngestsAndJournals(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	logPath := filepath.Join(dir, "app.log")
	if err := os.WriteFile(logPath, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(dir, "relay.yaml")
	data := strings.NewReplacer("%LOG%", logPath, "%DB%", filepath.Join(dir, "journal")).Replace(appYAML)
	if err := os.WriteFile(cfgPath, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	sender := &recordingSender{}
	a, err := New(cfgPath, WithSender(sender))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.notify = func(string) {}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = a.Stop(sctx, StopUnknown)
	}()

	if err := a.health(); err != nil {
		t.Fatalf("health = %v", err)
	}

	// The reader tails from the end, so keep appending until one line lands.
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	deadline := time.Now().Add(5 * time.Second)
	for sender.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("ingested line never delivered")
		}
		_, _ = f.WriteString(`{"level":"error","message":"payment failed"}` + "\n")
		time.Sleep(100 * time.Millisecond)
	}

	for {
		rep := a.Status(context.Background())
		if len(rep.Deliveries) > 0 {
			if rep.Relay.Channel != "#ops" || rep.Ingest == nil || rep.Ingest.Lines == 0 {
				t.Fatalf("status = %+v", rep)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("delivery never journaled")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestAppKeepsRunningWithInactiveRelay(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "relay.json")
	if err := os.WriteFile(cfgPath, []byte(`{"relay":{"channel":"#ops"},"logging":{"level":"error"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	a, err := New(cfgPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.notify = func(string) {}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = a.Stop(context.Background(), StopUnknown) }()

	if err := a.health(); err == nil {
		t.Fatal("health ok with inactive relay")
	}
	if got := a.Relay().Status().Errors(); got != 3 {
		t.Fatalf("relay config errors = %d, want 3 (webhook, min_level, layout)", got)
	}
}
