package relay

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"slackrelay/internal/eventbus"
)

var epoch = time.Unix(1_700_000_000, 0)

func at(ms int) time.Time { return epoch.Add(time.Duration(ms) * time.Millisecond) }

// fakeClock hands out a settable time. Sleeps longer than zero block until
// the test calls wake; each blocked sleep is announced on sleeps.
type fakeClock struct {
	mu     sync.Mutex
	t      time.Time
	sleeps chan time.Duration
	wakeCh chan struct{}
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: epoch, sleeps: make(chan time.Duration, 16), wakeCh: make(chan struct{})}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case c.sleeps <- d:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-c.wakeCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// awaitSleep waits for the drainer to block in its interval sleep.
func (c *fakeClock) awaitSleep(t *testing.T) time.Duration {
	t.Helper()
	select {
	case d := <-c.sleeps:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("drainer never went to sleep")
		return 0
	}
}

func (c *fakeClock) wake(t *testing.T) {
	t.Helper()
	select {
	case c.wakeCh <- struct{}{}:
	case <-time.After(2 * time.Second):
		t.Fatal("nobody sleeping")
	}
}

type recordingSender struct {
	mu     sync.Mutex
	bodies [][]byte
	posted chan []byte
	err    error
	block  chan struct{}
}

func newRecordingSender() *recordingSender {
	return &recordingSender{posted: make(chan []byte, 256)}
}

func (s *recordingSender) Post(ctx context.Context, body []byte) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	cp := append([]byte(nil), body...)
	s.mu.Lock()
	s.bodies = append(s.bodies, cp)
	s.mu.Unlock()
	s.posted <- cp
	return s.err
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bodies)
}

func (s *recordingSender) next(t *testing.T) []byte {
	t.Helper()
	select {
	case b := <-s.posted:
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a delivery")
		return nil
	}
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (o *recordingObserver) Accepted(_ string, oc Outcome) {
	o.mu.Lock()
	o.outcomes = append(o.outcomes, oc)
	o.mu.Unlock()
}
func (o *recordingObserver) Delivered(string, Kind, int, time.Duration, error) {}
func (o *recordingObserver) QueueDepth(string, int)                           {}
func (o *recordingObserver) DrainerActive(string, bool)                       {}

func (o *recordingObserver) list() []Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Outcome(nil), o.outcomes...)
}

func testConfig() Config {
	return Config{
		Name:       "test",
		Webhook:    "T000/B000/XXX",
		Channel:    "#alerts",
		Threshold:  LevelWarn,
		Layout:     LayoutFunc(func(ev Event) string { return "text:" + ev.Message }),
		Interval:   5 * time.Second,
		BatchPause: -1,
	}
}

type harness struct {
	r      *Relay
	clock  *fakeClock
	sender *recordingSender
	obs    *recordingObserver
}

func startRelay(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{clock: newFakeClock(), sender: newRecordingSender(), obs: &recordingObserver{}}
	opts = append([]Option{
		WithSender(h.sender),
		WithObserver(h.obs),
		WithClock(h.clock.Now, h.clock.Sleep),
	}, opts...)
	h.r = New(cfg, opts...)
	if err := h.r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.r.Stop(ctx)
	})
	return h
}

func (h *harness) handle(ms int, lvl Level, msg string) {
	h.clock.Set(at(ms))
	h.r.Handle(Event{Level: lvl, Message: msg})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

type wireObject struct {
	Pretext string `json:"pretext"`
	Text    string `json:"text"`
	Channel string `json:"channel"`
	Color   string `json:"color"`
}

func decodeBatch(t *testing.T, body []byte) []wireObject {
	t.Helper()
	var env struct {
		Attachments []wireObject `json:"attachments"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("decode batch %s: %v", body, err)
	}
	if env.Attachments == nil {
		t.Fatalf("body %s is not a batch", body)
	}
	return env.Attachments
}

func TestBelowThresholdIsIgnored(t *testing.T) {
	t.Parallel()
	h := startRelay(t, testConfig())

	for i, lvl := range []Level{LevelTrace, LevelDebug, LevelInfo} {
		h.handle(i*10, lvl, "quiet")
	}

	snap := h.r.Snapshot()
	if !snap.LastSentAt.IsZero() || snap.Queued != 0 || snap.DrainerActive || snap.Drainers != 0 {
		t.Fatalf("state mutated by filtered events: %+v", snap)
	}
	if n := h.sender.count(); n != 0 {
		t.Fatalf("sender called %d times", n)
	}
	want := []Outcome{OutcomeFiltered, OutcomeFiltered, OutcomeFiltered}
	if got := h.obs.list(); !reflect.DeepEqual(got, want) {
		t.Fatalf("outcomes = %v, want %v", got, want)
	}
}

func TestFirstEventIsSentImmediately(t *testing.T) {
	t.Parallel()
	h := startRelay(t, testConfig())

	h.handle(0, LevelError, `disk "sda" failed`)

	var obj wireObject
	if err := json.Unmarshal(h.sender.next(t), &obj); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := wireObject{Pretext: `[ERROR] disk "sda" failed`, Text: `text:disk "sda" failed`, Channel: "#alerts", Color: "#FF0000"}
	if obj != want {
		t.Fatalf("object = %+v, want %+v", obj, want)
	}
	if snap := h.r.Snapshot(); !snap.LastSentAt.Equal(at(0)) || snap.Drainers != 0 {
		t.Fatalf("unexpected state: %+v", snap)
	}
}

func TestCoolDownBoundaryDefers(t *testing.T) {
	t.Parallel()
	h := startRelay(t, testConfig())

	h.handle(0, LevelWarn, "a")
	h.sender.next(t)
	h.handle(5000, LevelWarn, "b")

	want := []Outcome{OutcomeImmediate, OutcomeDeferred}
	if got := h.obs.list(); !reflect.DeepEqual(got, want) {
		t.Fatalf("outcomes = %v, want %v", got, want)
	}
	if d := h.clock.awaitSleep(t); d != 5*time.Second {
		t.Fatalf("drainer slept %v, want 5s", d)
	}
}

func TestBurstLaunchesOneDrainerAndKeepsOrder(t *testing.T) {
	t.Parallel()
	h := startRelay(t, testConfig())

	h.handle(0, LevelWarn, "first")
	h.sender.next(t)

	const n = 65
	for i := 0; i < n; i++ {
		h.handle(100+i, LevelWarn, "m"+strconv.Itoa(i))
	}
	if snap := h.r.Snapshot(); snap.Drainers != 1 || !snap.DrainerActive || snap.Queued != n {
		t.Fatalf("after burst: %+v", snap)
	}

	h.clock.awaitSleep(t)
	h.clock.Set(at(5100))
	h.clock.wake(t)

	var got []string
	var sizes []int
	for len(got) < n {
		objs := decodeBatch(t, h.sender.next(t))
		sizes = append(sizes, len(objs))
		for _, o := range objs {
			got = append(got, strings.TrimPrefix(o.Pretext, "[WARN] "))
		}
	}
	if want := []int{30, 30, 5}; !reflect.DeepEqual(sizes, want) {
		t.Fatalf("chunk sizes = %v, want %v", sizes, want)
	}
	for i, m := range got {
		if m != "m"+strconv.Itoa(i) {
			t.Fatalf("event %d = %q, out of order", i, m)
		}
	}

	waitFor(t, "drainer teardown", func() bool { return !h.r.Snapshot().DrainerActive })
	if snap := h.r.Snapshot(); snap.Drainers != 1 || snap.Queued != 0 {
		t.Fatalf("after drain: %+v", snap)
	}
	if c := h.sender.count(); c != 4 {
		t.Fatalf("posts = %d, want 4", c)
	}
}

func TestFailedDeliveryIsOnlyReported(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.SubscribePrefix(4, EventDeliveryPrefix)
	defer unsub()

	h := startRelay(t, testConfig(), WithBus(bus))
	h.sender.err = errors.New("404 Not Found")

	h.handle(0, LevelError, "lost")
	h.sender.next(t)

	select {
	case e := <-ch:
		if e.Type != EventFailed {
			t.Fatalf("event type = %q, want %q", e.Type, EventFailed)
		}
		de := e.Data.(DeliveryEvent)
		if de.Kind != KindSingle || de.Events != 1 || de.ID == "" || !strings.Contains(de.Error, "404") {
			t.Fatalf("delivery event = %+v", de)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery event")
	}
	waitFor(t, "status error", func() bool { return h.r.Status().Errors() == 1 })
	if !h.r.Active() {
		t.Fatal("relay deactivated by a failed delivery")
	}
}

func TestDrainerFailureStillClearsFlag(t *testing.T) {
	t.Parallel()
	h := startRelay(t, testConfig())
	h.sender.err = errors.New("boom")

	h.handle(0, LevelWarn, "a")
	h.sender.next(t)
	h.handle(10, LevelWarn, "b")
	h.clock.awaitSleep(t)
	h.clock.wake(t)
	h.sender.next(t)

	waitFor(t, "drainer teardown", func() bool { return !h.r.Snapshot().DrainerActive })

	h.handle(20_000, LevelWarn, "c")
	h.sender.next(t)
	if got := h.obs.list(); got[len(got)-1] != OutcomeImmediate {
		t.Fatalf("outcomes = %v, relay stuck after failure", got)
	}
}

func TestBusySendersDivertToQueue(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.MaxInFlight = 1
	h := startRelay(t, cfg)
	h.sender.block = make(chan struct{})

	h.handle(0, LevelWarn, "slow")
	h.handle(10_000, LevelWarn, "next")

	want := []Outcome{OutcomeImmediate, OutcomeDiverted}
	if got := h.obs.list(); !reflect.DeepEqual(got, want) {
		t.Fatalf("outcomes = %v, want %v", got, want)
	}
	if snap := h.r.Snapshot(); snap.Queued != 1 || !snap.DrainerActive {
		t.Fatalf("diverted event not queued: %+v", snap)
	}
	close(h.sender.block)
}

func TestEndToEndScenario(t *testing.T) {
	t.Parallel()
	h := startRelay(t, testConfig())

	h.handle(0, LevelWarn, "a")
	var obj wireObject
	if err := json.Unmarshal(h.sender.next(t), &obj); err != nil || obj.Pretext != "[WARN] a" {
		t.Fatalf("immediate send = %+v (%v)", obj, err)
	}

	h.handle(100, LevelError, "b")
	h.clock.awaitSleep(t)
	h.clock.Set(at(5000))
	h.clock.wake(t)
	objs := decodeBatch(t, h.sender.next(t))
	if len(objs) != 1 || objs[0].Pretext != "[ERROR] b" {
		t.Fatalf("batch = %+v", objs)
	}
	waitFor(t, "drainer teardown", func() bool { return !h.r.Snapshot().DrainerActive })

	h.handle(6000, LevelInfo, "c")
	h.handle(6200, LevelWarn, "d")

	want := []Outcome{OutcomeImmediate, OutcomeDeferred, OutcomeFiltered, OutcomeDeferred}
	if got := h.obs.list(); !reflect.DeepEqual(got, want) {
		t.Fatalf("outcomes = %v, want %v", got, want)
	}
	snap := h.r.Snapshot()
	if snap.Drainers != 2 || snap.Queued != 1 {
		t.Fatalf("state = %+v, want a second drain cycle holding d", snap)
	}
	if !snap.LastSentAt.Equal(at(6200)) {
		t.Fatalf("lastSentAt = %v, want %v", snap.LastSentAt, at(6200))
	}
}

func TestStartReportsEveryMissingField(t *testing.T) {
	t.Parallel()
	sender := newRecordingSender()
	r := New(Config{}, WithSender(sender))

	err := r.Start(context.Background())
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("Start err = %v, want *ConfigError", err)
	}
	if want := []string{"webhook", "min_level", "channel", "layout"}; !reflect.DeepEqual(ce.Missing, want) {
		t.Fatalf("missing = %v, want %v", ce.Missing, want)
	}
	if got := len(r.Status().Snapshot()); got != 4 {
		t.Fatalf("diagnostics = %d, want one per field", got)
	}

	r.Handle(Event{Level: LevelError, Message: "dropped"})
	if r.Active() || sender.count() != 0 {
		t.Fatal("inactive relay handled an event")
	}
}

func TestWriteLevelFeedsRelay(t *testing.T) {
	t.Parallel()
	h := startRelay(t, testConfig())

	line := []byte(`{"level":"info","message":"upstream down","svc":"api"}` + "\n")
	if n, err := h.r.WriteLevel(zerolog.ErrorLevel, line); n != len(line) || err != nil {
		t.Fatalf("WriteLevel = %d, %v", n, err)
	}
	var obj wireObject
	if err := json.Unmarshal(h.sender.next(t), &obj); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if obj.Pretext != "[ERROR] upstream down" {
		t.Fatalf("pretext = %q", obj.Pretext)
	}
}

func TestDrainerPausesAfterFullChunks(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.BatchPause = 0
	h := startRelay(t, cfg)

	h.handle(0, LevelWarn, "first")
	h.sender.next(t)
	for i := 0; i < 65; i++ {
		h.handle(100+i, LevelWarn, "m"+strconv.Itoa(i))
	}

	sleeps := []time.Duration{h.clock.awaitSleep(t)}
	h.clock.Set(at(5100))
	h.clock.wake(t)
	for _, want := range []int{30, 30} {
		if got := len(decodeBatch(t, h.sender.next(t))); got != want {
			t.Fatalf("chunk size = %d, want %d", got, want)
		}
		sleeps = append(sleeps, h.clock.awaitSleep(t))
		h.clock.wake(t)
	}
	if got := len(decodeBatch(t, h.sender.next(t))); got != 5 {
		t.Fatalf("partial chunk size = %d, want 5", got)
	}
	waitFor(t, "drainer teardown", func() bool { return !h.r.Snapshot().DrainerActive })

	want := []time.Duration{5 * time.Second, DefaultBatchPause, DefaultBatchPause}
	if !reflect.DeepEqual(sleeps, want) {
		t.Fatalf("sleeps = %v, want %v", sleeps, want)
	}
	select {
	case d := <-h.clock.sleeps:
		t.Fatalf("drainer slept %v after the partial chunk", d)
	default:
	}
}

func TestConcurrentHandleDeliversEachEventOnce(t *testing.T) {
	t.Parallel()
	h := startRelay(t, testConfig())

	const callers = 200
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h.r.Handle(Event{Level: LevelWarn, Message: "c" + strconv.Itoa(i)})
		}(i)
	}
	wg.Wait()

	if snap := h.r.Snapshot(); snap.Drainers != 1 || snap.Queued != callers-1 {
		t.Fatalf("after concurrent burst: %+v", snap)
	}
	h.clock.awaitSleep(t)
	h.clock.Set(at(6000))
	h.clock.wake(t)

	seen := map[string]int{}
	for total := 0; total < callers; {
		body := h.sender.next(t)
		var env struct {
			Attachments []wireObject `json:"attachments"`
		}
		if err := json.Unmarshal(body, &env); err != nil {
			t.Fatalf("decode %s: %v", body, err)
		}
		objs := env.Attachments
		if objs == nil {
			var obj wireObject
			if err := json.Unmarshal(body, &obj); err != nil {
				t.Fatalf("decode %s: %v", body, err)
			}
			objs = []wireObject{obj}
		}
		for _, o := range objs {
			seen[o.Pretext]++
			total++
		}
	}
	for i := 0; i < callers; i++ {
		key := "[WARN] c" + strconv.Itoa(i)
		if seen[key] != 1 {
			t.Fatalf("%q delivered %d times, want 1", key, seen[key])
		}
	}

	waitFor(t, "drainer teardown", func() bool { return !h.r.Snapshot().DrainerActive })
	immediate := 0
	for _, oc := range h.obs.list() {
		if oc == OutcomeImmediate {
			immediate++
		}
	}
	if snap := h.r.Snapshot(); immediate != 1 || snap.Drainers != 1 {
		t.Fatalf("immediate = %d, drainers = %d; want 1 and 1", immediate, snap.Drainers)
	}
}

func TestSnapshotDuringStart(t *testing.T) {
	t.Parallel()
	r := New(testConfig(), WithSender(newRecordingSender()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = r.Stop(ctx)
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			_ = r.Snapshot()
			_ = r.Name()
		}
	}()
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-done

	snap := r.Snapshot()
	if snap.Name != "test" || !snap.Active || snap.Channel != "#alerts" || snap.Interval != 5*time.Second {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestPanickingLayoutSkipsOnlyItsEvent(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Layout = LayoutFunc(func(ev Event) string {
		if ev.Message == "bad" {
			panic("template exploded")
		}
		return "text:" + ev.Message
	})
	h := startRelay(t, cfg)

	h.handle(0, LevelWarn, "first")
	h.sender.next(t)
	h.handle(100, LevelWarn, "a")
	h.handle(101, LevelWarn, "bad")
	h.handle(102, LevelWarn, "c")

	h.clock.awaitSleep(t)
	h.clock.Set(at(5100))
	h.clock.wake(t)

	objs := decodeBatch(t, h.sender.next(t))
	if len(objs) != 2 || objs[0].Pretext != "[WARN] a" || objs[1].Pretext != "[WARN] c" {
		t.Fatalf("batch = %+v, want a and c", objs)
	}
	waitFor(t, "drainer teardown", func() bool { return !h.r.Snapshot().DrainerActive })
	if got := h.r.Status().Errors(); got != 1 {
		t.Fatalf("status errors = %d, want 1", got)
	}
}
