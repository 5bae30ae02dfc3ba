package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"slackrelay/internal/eventbus"
	"slackrelay/internal/relay/payload"
	rtsup "slackrelay/internal/runtime/supervisor"
	"slackrelay/internal/transport"
	"slackrelay/internal/transport/webhook"
	logx "slackrelay/pkg/logx"
)

// Relay is the dispatch state for one destination plus the tasks that drain
// it. Create it with New and activate it with Start. All methods are safe for
// concurrent use.
type Relay struct {
	cfg    Config
	log    logx.Logger
	status *Status
	bus    eventbus.Bus
	obs    Observer
	sender transport.Sender
	enc    *payload.Encoder

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	active atomic.Bool

	// lock is the coordinator lock. A weighted semaphore of size 1 hands the
	// lock to waiters in FIFO order, which a sync.Mutex does not promise.
	lock     *semaphore.Weighted
	inflight *semaphore.Weighted

	// guarded by lock
	lastSentAt    time.Time
	drainerActive bool
	drainers      uint64

	queue pendingQueue

	mu  sync.Mutex // guards cfg writes and sup across Start/Stop
	sup *rtsup.Supervisor
}

type Option func(*Relay)

// WithLogger sets the diagnostic logger. It must not feed back into a relay.
func WithLogger(log logx.Logger) Option { return func(r *Relay) { r.log = log } }

// WithSender replaces the webhook client built from Config.
func WithSender(s transport.Sender) Option { return func(r *Relay) { r.sender = s } }

// WithBus publishes delivery events (see EventDelivered, EventFailed).
func WithBus(b eventbus.Bus) Option { return func(r *Relay) { r.bus = b } }

func WithObserver(o Observer) Option { return func(r *Relay) { r.obs = o } }

// WithClock overrides the time source and the sleep used by the drainer.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Relay) {
		if now != nil {
			r.now = now
		}
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

func New(cfg Config, opts ...Option) *Relay {
	r := &Relay{
		cfg:   cfg,
		obs:   nopObserver{},
		now:   time.Now,
		sleep: sleepCtx,
		lock:  semaphore.NewWeighted(1),
	}
	for _, o := range opts {
		o(r)
	}
	if r.log.IsZero() {
		r.log = logx.Nop()
	}
	r.log = r.log.With(logx.String("relay", r.cfg.withDefaults().Name))
	if r.obs == nil {
		r.obs = nopObserver{}
	}
	r.status = NewStatus(r.log)
	return r
}

// Name returns the configured relay name ("default" when empty).
func (r *Relay) Name() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.withDefaults().Name
}

// Status returns the relay's diagnostic channel.
func (r *Relay) Status() *Status { return r.status }

// Active reports whether Start succeeded and Stop was not called.
func (r *Relay) Active() bool { return r.active.Load() }

// Start validates the configuration and activates the relay.
//
// Every missing required field is recorded as its own diagnostic and the
// returned *ConfigError lists all of them; the relay then stays inactive and
// Handle ignores events. Start is idempotent.
func (r *Relay) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sup != nil {
		return nil
	}

	if err := r.cfg.Validate(); err != nil {
		var ce *ConfigError
		if errors.As(err, &ce) {
			for _, f := range ce.Missing {
				r.status.Error("required field missing: "+f, nil, logx.String("field", f))
			}
		}
		return err
	}
	cfg := r.cfg.withDefaults()

	if r.sender == nil {
		c, err := webhook.New(webhook.Config{URL: webhook.ResolveURL(cfg.BaseURL, cfg.Webhook), Timeout: cfg.Timeout})
		if err != nil {
			r.status.Error("webhook client", err)
			return fmt.Errorf("%s: %w", cfg.Name, err)
		}
		r.sender = c
	}

	r.cfg = cfg
	r.enc = payload.NewEncoder(cfg.Channel, nil)
	r.inflight = semaphore.NewWeighted(int64(cfg.MaxInFlight))
	r.sup = rtsup.New(ctx,
		rtsup.WithLogger(r.log),
		// A failed delivery must never stop the relay.
		rtsup.WithCancelOnError(false),
	)
	r.active.Store(true)
	r.status.Info("relay started",
		logx.String("channel", cfg.Channel),
		logx.String("min_level", cfg.Threshold.String()),
		logx.Duration("interval", cfg.Interval),
	)
	return nil
}

// Stop deactivates the relay and cancels its tasks. Queued and in-flight
// events are abandoned, not flushed. Stop waits for tasks until ctx is done.
func (r *Relay) Stop(ctx context.Context) error {
	r.active.Store(false)
	r.mu.Lock()
	sup := r.sup
	r.mu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Stop(ctx)
}

// Handle offers one event to the relay. It never blocks on network I/O and
// never panics; delivery problems only show up on Status.
func (r *Relay) Handle(ev Event) {
	if !r.active.Load() {
		return
	}
	if ev.Level < r.cfg.Threshold {
		r.obs.Accepted(r.cfg.Name, OutcomeFiltered)
		return
	}

	defer func() {
		if p := recover(); p != nil {
			r.status.Error("dispatch panicked", fmt.Errorf("%v", p))
		}
	}()

	if err := r.lock.Acquire(context.Background(), 1); err != nil {
		return
	}
	defer r.lock.Release(1)

	now := r.now()
	if ev.Time.IsZero() {
		ev.Time = now
	}

	outcome := OutcomeDeferred
	if ShouldSendImmediately(now, r.lastSentAt, r.cfg.Interval) {
		if r.inflight.TryAcquire(1) {
			outcome = OutcomeImmediate
			r.sup.Go("send.single", func(ctx context.Context) error {
				defer r.inflight.Release(1)
				r.sendSingle(ctx, ev)
				return nil
			})
		} else {
			outcome = OutcomeDiverted
		}
	}
	if outcome != OutcomeImmediate {
		r.obs.QueueDepth(r.cfg.Name, r.queue.Enqueue(ev))
		if !r.drainerActive {
			r.drainerActive = true
			r.drainers++
			r.obs.DrainerActive(r.cfg.Name, true)
			r.sup.Go("drainer", r.drain)
		}
	}
	r.touchLocked(now)
	r.obs.Accepted(r.cfg.Name, outcome)
}

// touchLocked moves lastSentAt forward, never backwards.
func (r *Relay) touchLocked(t time.Time) {
	if t.After(r.lastSentAt) {
		r.lastSentAt = t
	}
}

// Write implements io.Writer so a Relay can sit behind any zerolog logger.
// Lines without a level are treated as INFO.
func (r *Relay) Write(p []byte) (int, error) {
	if ev, ok := ParseLogLine(p, LevelInfo); ok {
		r.Handle(ev)
	}
	return len(p), nil
}

// WriteLevel implements zerolog.LevelWriter. The zerolog level wins over the
// "level" key of the line.
func (r *Relay) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	lvl := FromZerolog(level)
	if lvl == 0 {
		return r.Write(p)
	}
	if ev, ok := ParseLogLine(p, lvl); ok {
		ev.Level = lvl
		r.Handle(ev)
	}
	return len(p), nil
}

// Snapshot is a point-in-time view of a relay, for /status.
type Snapshot struct {
	Name          string         `json:"name"`
	Active        bool           `json:"active"`
	Channel       string         `json:"channel"`
	MinLevel      string         `json:"min_level"`
	Interval      time.Duration  `json:"interval"`
	LastSentAt    time.Time      `json:"last_sent_at"`
	Queued        int            `json:"queued"`
	DrainerActive bool           `json:"drainer_active"`
	Drainers      uint64         `json:"drainers"`
	Errors        uint64         `json:"errors"`
	Suppressed    uint64         `json:"suppressed"`
	Diagnostics   []Diagnostic   `json:"diagnostics"`
	Tasks         rtsup.Snapshot `json:"tasks"`
}

func (r *Relay) Snapshot() Snapshot {
	r.mu.Lock()
	cfg := r.cfg.withDefaults()
	sup := r.sup
	r.mu.Unlock()

	snap := Snapshot{
		Name:        cfg.Name,
		Active:      r.active.Load(),
		Channel:     cfg.Channel,
		MinLevel:    cfg.Threshold.String(),
		Interval:    cfg.Interval,
		Queued:      r.queue.Len(),
		Errors:      r.status.Errors(),
		Suppressed:  r.status.Suppressed(),
		Diagnostics: r.status.Snapshot(),
	}
	if err := r.lock.Acquire(context.Background(), 1); err == nil {
		snap.LastSentAt = r.lastSentAt
		snap.DrainerActive = r.drainerActive
		snap.Drainers = r.drainers
		r.lock.Release(1)
	}
	snap.Tasks = sup.Snapshot()
	return snap
}

// WaitIdle blocks until no send or drainer task is running and the queue is
// empty, or ctx is done. It is meant for one-shot use (CLI send, tests); a
// long-running process never needs it.
func (r *Relay) WaitIdle(ctx context.Context) error {
	t := time.NewTicker(20 * time.Millisecond)
	defer t.Stop()
	for {
		r.mu.Lock()
		sup := r.sup
		r.mu.Unlock()
		if sup == nil {
			return ErrNotStarted
		}
		if sup.Counters().Active == 0 && r.queue.Len() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
