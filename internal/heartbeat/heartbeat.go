// Package heartbeat offers a synthetic event to the relay on a cron schedule,
// so a quiet channel can be told apart from a dead relay. The same schedule
// optionally prunes old delivery journal records.
package heartbeat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"slackrelay/internal/relay"
	logx "slackrelay/pkg/logx"
)

// Target receives heartbeat events.
type Target interface {
	Handle(ev relay.Event)
}

// Pruner drops journal records older than before.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int, error)
}

type Config struct {
	Enabled   bool
	Schedule  string
	Level     relay.Level
	Message   string
	Retention time.Duration // 0 disables pruning
}

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule validates a schedule spec ("@every 1h", "0 */30 * * * *").
func ParseSchedule(spec string) (cron.Schedule, error) {
	s, err := parser.Parse(strings.TrimSpace(spec))
	if err != nil {
		return nil, fmt.Errorf("heartbeat.schedule: %w", err)
	}
	return s, nil
}

type Service struct {
	target Target
	pruner Pruner
	log    logx.Logger
	start  time.Time

	// applyMu serializes Apply and Stop. Beat only takes mu, and the cron
	// stop wait never holds it.
	applyMu sync.Mutex
	c       *cron.Cron

	mu    sync.Mutex
	cfg   Config
	beats uint64
}

// New creates a stopped service. pruner may be nil.
func New(target Target, pruner Pruner, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{target: target, pruner: pruner, log: log.With(logx.String("comp", "heartbeat")), start: time.Now()}
}

// Apply (re)starts the schedule for cfg; a disabled cfg stops it. Safe to call
// during hot-reload.
func (s *Service) Apply(cfg Config) error {
	var sched cron.Schedule
	if cfg.Enabled {
		var err error
		if sched, err = ParseSchedule(cfg.Schedule); err != nil {
			return err
		}
	}
	if strings.TrimSpace(cfg.Message) == "" {
		cfg.Message = "heartbeat"
	}

	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	s.halt()

	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	if !cfg.Enabled {
		return nil
	}
	s.c = cron.New(cron.WithParser(parser))
	s.c.Schedule(sched, cron.FuncJob(s.Beat))
	s.c.Start()
	s.log.Info("heartbeat scheduled", logx.String("schedule", cfg.Schedule), logx.String("level", cfg.Level.String()))
	return nil
}

// Stop halts the schedule and waits for a running beat.
func (s *Service) Stop() {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	s.halt()
}

// halt stops the cron and waits for a running beat. Callers hold applyMu.
func (s *Service) halt() {
	if s.c == nil {
		return
	}
	c := s.c
	s.c = nil
	<-c.Stop().Done()
}

// Beat sends one heartbeat now and prunes the journal if configured.
func (s *Service) Beat() {
	s.mu.Lock()
	cfg := s.cfg
	s.beats++
	n := s.beats
	s.mu.Unlock()

	now := time.Now()
	s.target.Handle(relay.Event{
		Level:   cfg.Level,
		Message: cfg.Message,
		Time:    now,
		Logger:  "heartbeat",
		Fields: map[string]any{
			"beat":   n,
			"uptime": now.Sub(s.start).Truncate(time.Second).String(),
		},
	})

	if s.pruner == nil || cfg.Retention <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	removed, err := s.pruner.Prune(ctx, now.Add(-cfg.Retention))
	if err != nil {
		s.log.Warn("journal prune failed", logx.Err(err))
		return
	}
	if removed > 0 {
		s.log.Debug("journal pruned", logx.Int("removed", removed))
	}
}
