package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"slackrelay/internal/config"
	"slackrelay/internal/eventbus"
	"slackrelay/internal/heartbeat"
	"slackrelay/internal/ingest"
	"slackrelay/internal/observability/metrics"
	"slackrelay/internal/observability/ops"
	"slackrelay/internal/relay"
	rtsup "slackrelay/internal/runtime/supervisor"
	"slackrelay/internal/storage"
	"slackrelay/internal/transport"
	logx "slackrelay/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   storage.Store
	relay   *relay.Relay
	relayTh relay.Level
	metrics *metrics.Metrics
	ops     *ops.Service
	beat    *heartbeat.Service
	ingest  *ingest.Reader

	senderOverride transport.Sender
	pendingBeat    heartbeat.Config

	started   time.Time
	inputDone chan struct{}
	inputOnce sync.Once

	// notify reports service state to systemd; a no-op outside systemd.
	notify func(state string)
}

type Option func(*App)

// WithSender replaces the relay's webhook client.
func WithSender(s transport.Sender) Option { return func(a *App) { a.senderOverride = s } }

// New loads cfgPath and wires every component. Nothing runs until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	return build(cfgm, cfg, opts...)
}

func build(cfgm *config.ConfigManager, cfg *config.Config, opts ...Option) (*App, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	rc, err := mapRelayConfig(cfg)
	if err != nil {
		return nil, err
	}
	hb, err := mapHeartbeatConfig(cfg, rc.Threshold)
	if err != nil {
		return nil, err
	}
	opc, err := mapOpsConfig(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgm:      cfgm,
		relayTh:   rc.Threshold,
		inputDone: make(chan struct{}),
		notify: func(state string) {
			_, _ = daemon.SdNotify(false, state)
		},
	}
	for _, o := range opts {
		o(a)
	}

	// Bootstrap with the relay sink off; it is switched on once the relay
	// exists so Apply does not warn about a missing sink.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Relay.Enabled = false
	logSvc, log := logx.New(bootCfg)
	a.logs = logSvc
	a.log = log.With(logx.String("comp", "app"))

	a.bus = eventbus.New()
	a.metrics = metrics.New()
	a.metrics.WatchBusDrops(a.bus.Dropped)

	// The relay's diagnostics never go through a log service that may feed
	// the relay itself.
	relayLog := log.With(logx.String("comp", "relay"))
	if logCfg.Relay.Enabled {
		relayLog = logx.NewWriter(logx.Stderr(), logCfg.Level).With(logx.String("comp", "relay"))
	}
	relayOpts := []relay.Option{
		relay.WithLogger(relayLog),
		relay.WithBus(a.bus),
		relay.WithObserver(a.metrics),
	}
	if a.senderOverride != nil {
		relayOpts = append(relayOpts, relay.WithSender(a.senderOverride))
	}
	a.relay = relay.New(rc, relayOpts...)

	if logCfg.Relay.Enabled {
		logSvc.SetSink(a.relay)
		logSvc.Apply(logCfg)
	}

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	var pruner heartbeat.Pruner
	if a.store != nil {
		pruner = a.store
	}
	a.beat = heartbeat.New(a.relay, pruner, log)
	a.pendingBeat = hb

	a.ops = ops.New(opc, ops.Sources{
		Metrics: a.metrics.Handler(),
		Status:  func(ctx context.Context) any { return a.Status(ctx) },
		Health:  a.health,
	}, log)

	if cfg.Ingest.Enabled {
		a.ingest = ingest.New(mapIngestConfig(cfg), a.relay, log)
	}
	return a, nil
}

// Relay returns the app's relay.
func (a *App) Relay() *relay.Relay { return a.relay }

// Done is closed when the app supervisor is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// InputDone is closed when a stdin ingest reached EOF and the relay is idle.
func (a *App) InputDone() <-chan struct{} { return a.inputDone }

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.started = time.Now()
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return Check(cfg) })

	// A relay with missing config stays inactive; the daemon keeps running so
	// /healthz and /status can say why.
	if err := a.relay.Start(a.sup.Context()); err != nil {
		var ce *relay.ConfigError
		if !errors.As(err, &ce) {
			return err
		}
		a.log.Error("relay inactive", logx.Err(err))
	}

	if a.store != nil {
		j := storage.NewJournal(a.store, a.bus, a.log.With(logx.String("comp", "journal")))
		a.sup.Go("journal", j.Run)
	}

	if err := a.beat.Apply(a.pendingBeat); err != nil {
		return err
	}

	a.ops.Start(a.sup.Context())

	if a.ingest != nil {
		stdin := a.cfgm.Get() != nil && strings.TrimSpace(a.cfgm.Get().Ingest.Path) == ingest.Stdin
		a.sup.Go("ingest", func(c context.Context) error {
			if err := a.ingest.Run(c); err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			if stdin && c.Err() == nil {
				a.log.Info("input finished; waiting for relay", logx.Int64("lines", int64(a.ingest.Lines())))
				_ = a.relay.WaitIdle(c)
				a.inputOnce.Do(func() { close(a.inputDone) })
			}
			return nil
		})
	}

	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.notify(daemon.SdNotifyReady)
	a.log.Info("app started",
		logx.String("relay", a.relay.Name()),
		logx.Bool("active", a.relay.Active()),
		logx.Bool("storage", a.store != nil),
		logx.Bool("ingest", a.ingest != nil),
	)
	return nil
}

// reloadLoop applies hot-reloadable sections and reports the rest.
func (a *App) reloadLoop(c context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: only the latest config matters.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(old, cur *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(old, cur)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLogConfig(cur))

	if hb, err := mapHeartbeatConfig(cur, a.relayTh); err != nil {
		a.log.Warn("invalid heartbeat config; keeping previous", logx.Err(err))
	} else if err := a.beat.Apply(hb); err != nil {
		a.log.Warn("heartbeat reschedule failed", logx.Err(err))
	}

	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) health() error {
	if !a.relay.Active() {
		return errors.New("relay inactive")
	}
	return nil
}

// StatusReport is what /status serves.
type StatusReport struct {
	Uptime     string                   `json:"uptime"`
	Relay      relay.Snapshot           `json:"relay"`
	Deliveries []storage.DeliveryRecord `json:"deliveries,omitempty"`
	Ingest     *IngestStatus            `json:"ingest,omitempty"`
	Supervisor rtsup.Snapshot           `json:"supervisor"`
}

type IngestStatus struct {
	Lines   uint64 `json:"lines"`
	Skipped uint64 `json:"skipped"`
}

const statusDeliveries = 20

func (a *App) Status(ctx context.Context) StatusReport {
	rep := StatusReport{
		Relay:      a.relay.Snapshot(),
		Supervisor: a.sup.Snapshot(),
	}
	if !a.started.IsZero() {
		rep.Uptime = time.Since(a.started).Truncate(time.Second).String()
	}
	if a.store != nil {
		recent, err := a.store.RecentDeliveries(ctx, statusDeliveries)
		if err != nil {
			a.log.Debug("recent deliveries unavailable", logx.Err(err))
		}
		rep.Deliveries = recent
	}
	if a.ingest != nil {
		rep.Ingest = &IngestStatus{Lines: a.ingest.Lines(), Skipped: a.ingest.Skipped()}
	}
	return rep
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.notify(daemon.SdNotifyStopping)
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("heartbeat", 2*time.Second, func(context.Context) error { a.beat.Stop(); return nil })
	step("ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("relay", 2*time.Second, a.relay.Stop)
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	// Detach the relay before the log service goes away.
	a.logs.SetSink(nil)
	return a.logs.Close()
}
