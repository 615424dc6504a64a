package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eventspool/eventspool/internal/event"
	"github.com/eventspool/eventspool/internal/queue"
	"github.com/eventspool/eventspool/internal/store"
)

// fakeSender records every send and answers via a swappable reply function.
type fakeSender struct {
	mu    sync.Mutex
	sent  []event.Event
	reply func(ev event.Event) error
}

func (f *fakeSender) Send(ctx context.Context, ev event.Event) error {
	f.mu.Lock()
	f.sent = append(f.sent, ev)
	reply := f.reply
	f.mu.Unlock()
	if reply != nil {
		return reply(ev)
	}
	return nil
}

func (f *fakeSender) setReply(reply func(ev event.Event) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reply = reply
}

// delivered returns the names of all non-sentinel sends, in send order.
func (f *fakeSender) delivered() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, ev := range f.sent {
		if !event.IsSentinel(ev) {
			names = append(names, ev.Name)
		}
	}
	return names
}

// sentinels returns how many probe events were sent.
func (f *fakeSender) sentinels() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ev := range f.sent {
		if event.IsSentinel(ev) {
			n++
		}
	}
	return n
}

func failAll(ev event.Event) error {
	return errors.New("send failed")
}

// statusRecorder collects connection-status callback invocations.
type statusRecorder struct {
	mu    sync.Mutex
	calls []bool
}

func (r *statusRecorder) record(connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, connected)
}

func (r *statusRecorder) snapshot() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.calls...)
}

// sizeRecorder collects queue-size callback invocations.
type sizeRecorder struct {
	mu    sync.Mutex
	sizes []int
	warns []bool
}

func (r *sizeRecorder) record(size int, above bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sizes = append(r.sizes, size)
	r.warns = append(r.warns, above)
}

func (r *sizeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sizes)
}

func (r *sizeRecorder) last() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sizes) == 0 {
		return -1, false
	}
	return r.sizes[len(r.sizes)-1], r.warns[len(r.warns)-1]
}

func newTestManager(t *testing.T, qcfg queue.Config, cfg Config) (*Manager, *queue.Queue, *fakeSender) {
	t.Helper()
	q := queue.New(store.NewMemory(), qcfg)
	sender := &fakeSender{}
	return New(q, sender, cfg), q, sender
}

func TestManagerDefaults(t *testing.T) {
	m, _, _ := newTestManager(t, queue.Config{}, Config{})

	if m.cfg.RetryInterval != 30*time.Second {
		t.Errorf("RetryInterval default = %v, want 30s", m.cfg.RetryInterval)
	}
	if m.cfg.BatchSize != 10 {
		t.Errorf("BatchSize default = %d, want 10", m.cfg.BatchSize)
	}
	if !m.Connected() {
		t.Error("initial status must be connected")
	}
}

func TestQueueFailedSpools(t *testing.T) {
	m, q, _ := newTestManager(t, queue.Config{}, Config{})
	ctx := context.Background()

	m.QueueFailed(ctx, event.Event{Name: "app.error"}, errors.New("broken pipe"))

	all, err := q.All(ctx)
	if err != nil {
		t.Fatalf("All error: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("queue size = %d, want 1", len(all))
	}
	if all[0].Event.Name != "app.error" {
		t.Errorf("spooled event = %q", all[0].Event.Name)
	}
	if all[0].LastError != "broken pipe" {
		t.Errorf("LastError = %q, want broken pipe", all[0].LastError)
	}
}

func TestQueueFailedOptimisticDisconnect(t *testing.T) {
	status := &statusRecorder{}
	sizes := &sizeRecorder{}
	m, _, _ := newTestManager(t, queue.Config{}, Config{
		OnConnectionStatusChange: status.record,
		OnQueueSizeChange:        sizes.record,
	})
	ctx := context.Background()

	m.QueueFailed(ctx, event.Event{Name: "a"}, errors.New("down"))

	if m.Connected() {
		t.Error("cause-bearing spool must flip status to disconnected")
	}
	if got := status.snapshot(); len(got) != 1 || got[0] != false {
		t.Errorf("status callbacks = %v, want [false]", got)
	}

	// Already disconnected: a second failure must not re-fire the callback.
	m.QueueFailed(ctx, event.Event{Name: "b"}, errors.New("still down"))
	if got := status.snapshot(); len(got) != 1 {
		t.Errorf("status callbacks after second spool = %v, want exactly one", got)
	}

	// The size callback fires on every spool.
	if sizes.count() != 2 {
		t.Errorf("size callbacks = %d, want 2", sizes.count())
	}
	if size, _ := sizes.last(); size != 2 {
		t.Errorf("last reported size = %d, want 2", size)
	}
}

func TestQueueFailedWithoutCause(t *testing.T) {
	status := &statusRecorder{}
	sizes := &sizeRecorder{}
	m, _, _ := newTestManager(t, queue.Config{}, Config{
		OnConnectionStatusChange: status.record,
		OnQueueSizeChange:        sizes.record,
	})
	ctx := context.Background()

	m.QueueFailed(ctx, event.Event{Name: "a"}, nil)

	if !m.Connected() {
		t.Error("spool without cause must not touch the status")
	}
	if got := status.snapshot(); len(got) != 0 {
		t.Errorf("status callbacks = %v, want none", got)
	}
	if sizes.count() != 1 {
		t.Errorf("size callbacks = %d, want 1", sizes.count())
	}
}

func TestTriggerRetryDelivers(t *testing.T) {
	m, q, sender := newTestManager(t, queue.Config{}, Config{})
	ctx := context.Background()

	m.QueueFailed(ctx, event.Event{Name: "a"}, nil)
	m.QueueFailed(ctx, event.Event{Name: "b"}, nil)

	m.TriggerRetry(ctx)

	if got := sender.delivered(); len(got) != 2 {
		t.Fatalf("delivered = %v, want both events", got)
	}
	size, err := q.Size(ctx)
	if err != nil {
		t.Fatalf("Size error: %v", err)
	}
	if size != 0 {
		t.Errorf("queue size after successful cycle = %d, want 0", size)
	}
	if !m.Connected() {
		t.Error("status must stay connected after successful dispatch")
	}
}

func TestFailedDispatchRecordsAttempt(t *testing.T) {
	m, q, sender := newTestManager(t, queue.Config{}, Config{})
	sender.setReply(failAll)
	ctx := context.Background()

	m.QueueFailed(ctx, event.Event{Name: "a"}, nil)
	m.TriggerRetry(ctx)

	all, err := q.All(ctx)
	if err != nil {
		t.Fatalf("All error: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("queue size = %d, want 1", len(all))
	}
	if all[0].RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", all[0].RetryCount)
	}
	if all[0].LastError != "send failed" {
		t.Errorf("LastError = %q, want send failed", all[0].LastError)
	}
	if all[0].LastAttemptAt.IsZero() {
		t.Error("LastAttemptAt not recorded")
	}

	// The event is now backing off, so an immediate second cycle must not
	// dispatch it again (and with nothing eligible, must not probe either).
	before := len(sender.delivered())
	probes := sender.sentinels()
	m.TriggerRetry(ctx)
	if got := len(sender.delivered()); got != before {
		t.Errorf("backing-off event dispatched again: %d sends, want %d", got, before)
	}
	if got := sender.sentinels(); got != probes {
		t.Errorf("probe sent on an empty cycle: %d, want %d", got, probes)
	}
}

func TestStatusFlipsOnBatchOutcomes(t *testing.T) {
	status := &statusRecorder{}
	m, _, sender := newTestManager(t, queue.Config{}, Config{
		OnConnectionStatusChange: status.record,
	})
	ctx := context.Background()

	// Cycle 1: every send fails while status is connected.
	sender.setReply(failAll)
	m.QueueFailed(ctx, event.Event{Name: "a"}, nil)
	m.TriggerRetry(ctx)

	if m.Connected() {
		t.Error("all-failed batch must flip status to disconnected")
	}
	if got := status.snapshot(); len(got) != 1 || got[0] != false {
		t.Fatalf("status callbacks = %v, want [false]", got)
	}

	// Cycle 2: a fresh event succeeds while the first one backs off.
	sender.setReply(nil)
	m.QueueFailed(ctx, event.Event{Name: "b"}, nil)
	m.TriggerRetry(ctx)

	if !m.Connected() {
		t.Error("successful batch must flip status back to connected")
	}
	if got := status.snapshot(); len(got) != 2 || got[1] != true {
		t.Errorf("status callbacks = %v, want [false true]", got)
	}
}

func TestPartialBatchKeepsConnected(t *testing.T) {
	status := &statusRecorder{}
	m, _, sender := newTestManager(t, queue.Config{}, Config{
		OnConnectionStatusChange: status.record,
	})
	ctx := context.Background()

	// One of two sends fails: not an all-failed batch, status holds.
	sender.setReply(func(ev event.Event) error {
		if ev.Name == "bad" {
			return errors.New("rejected")
		}
		return nil
	})
	m.QueueFailed(ctx, event.Event{Name: "good"}, nil)
	m.QueueFailed(ctx, event.Event{Name: "bad"}, nil)
	m.TriggerRetry(ctx)

	if !m.Connected() {
		t.Error("partial failure must leave status connected")
	}
	if got := status.snapshot(); len(got) != 0 {
		t.Errorf("status callbacks = %v, want none", got)
	}
}

func TestBatchPartitioning(t *testing.T) {
	m, q, sender := newTestManager(t, queue.Config{}, Config{BatchSize: 10})
	ctx := context.Background()

	var inFlight, maxInFlight atomic.Int64
	sender.setReply(func(ev event.Event) error {
		cur := inFlight.Add(1)
		for {
			prev := maxInFlight.Load()
			if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	})

	for i := 0; i < 25; i++ {
		m.QueueFailed(ctx, event.Event{Name: fmt.Sprintf("ev-%d", i)}, nil)
	}
	m.TriggerRetry(ctx)

	delivered := sender.delivered()
	if len(delivered) != 25 {
		t.Fatalf("delivered %d events, want 25", len(delivered))
	}
	if got := maxInFlight.Load(); got > 10 {
		t.Errorf("max in-flight sends = %d, want at most batch size 10", got)
	}

	// Batches run strictly in order: the first ten sends are exactly the
	// first ten enqueued events, in some order.
	seen := make(map[string]bool, 10)
	for _, name := range delivered[:10] {
		seen[name] = true
	}
	for i := 0; i < 10; i++ {
		if !seen[fmt.Sprintf("ev-%d", i)] {
			t.Errorf("first batch missing ev-%d: %v", i, delivered[:10])
			break
		}
	}

	size, err := q.Size(ctx)
	if err != nil {
		t.Fatalf("Size error: %v", err)
	}
	if size != 0 {
		t.Errorf("queue size = %d, want 0", size)
	}
}

func TestGuardDropsOverlappingCycle(t *testing.T) {
	m, _, sender := newTestManager(t, queue.Config{}, Config{})
	ctx := context.Background()

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	sender.setReply(func(ev event.Event) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return nil
	})

	m.QueueFailed(ctx, event.Event{Name: "slow"}, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.TriggerRetry(ctx)
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("cycle never reached the sender")
	}

	// A second invocation while the first is mid-send must return
	// immediately without dispatching anything.
	done := make(chan struct{})
	go func() {
		m.TriggerRetry(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("overlapping cycle was not dropped")
	}

	close(release)
	wg.Wait()

	if got := sender.delivered(); len(got) != 1 {
		t.Errorf("delivered = %v, want the single slow event once", got)
	}
}

func TestProbeCadence(t *testing.T) {
	m, _, sender := newTestManager(t, queue.Config{}, Config{})
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }

	// First cycle with traffic probes immediately.
	m.QueueFailed(ctx, event.Event{Name: "a"}, nil)
	m.TriggerRetry(ctx)
	if got := sender.sentinels(); got != 1 {
		t.Fatalf("sentinels after first cycle = %d, want 1", got)
	}

	// Thirty seconds later the probe is still fresh.
	m.now = func() time.Time { return base.Add(30 * time.Second) }
	m.QueueFailed(ctx, event.Event{Name: "b"}, nil)
	m.TriggerRetry(ctx)
	if got := sender.sentinels(); got != 1 {
		t.Errorf("sentinels after 30s = %d, want still 1", got)
	}

	// Past the check interval a new probe goes out.
	m.now = func() time.Time { return base.Add(61 * time.Second) }
	m.QueueFailed(ctx, event.Event{Name: "c"}, nil)
	m.TriggerRetry(ctx)
	if got := sender.sentinels(); got != 2 {
		t.Errorf("sentinels after 61s = %d, want 2", got)
	}
}

func TestProbeFailureFlipsStatus(t *testing.T) {
	status := &statusRecorder{}
	m, _, sender := newTestManager(t, queue.Config{}, Config{
		OnConnectionStatusChange: status.record,
	})
	ctx := context.Background()

	// Real events succeed but the sentinel is rejected.
	sender.setReply(func(ev event.Event) error {
		if event.IsSentinel(ev) {
			return errors.New("probe rejected")
		}
		return nil
	})

	m.QueueFailed(ctx, event.Event{Name: "a"}, nil)
	m.TriggerRetry(ctx)

	if m.Connected() {
		t.Error("failed probe must flip status to disconnected")
	}
	if got := status.snapshot(); len(got) != 1 || got[0] != false {
		t.Errorf("status callbacks = %v, want [false]", got)
	}
}

func TestProbeSuccessRestoresStatus(t *testing.T) {
	m, _, sender := newTestManager(t, queue.Config{}, Config{})
	ctx := context.Background()

	// Flip to disconnected first.
	m.QueueFailed(ctx, event.Event{Name: "a"}, errors.New("down"))
	if m.Connected() {
		t.Fatal("setup: expected disconnected")
	}

	// Batch fails again, but the probe gets through and wins (it runs last).
	sender.setReply(func(ev event.Event) error {
		if event.IsSentinel(ev) {
			return nil
		}
		return errors.New("still failing")
	})
	m.TriggerRetry(ctx)

	if !m.Connected() {
		t.Error("successful probe must flip status back to connected")
	}
}

func TestEmptyCycleStillReportsQueueSize(t *testing.T) {
	sizes := &sizeRecorder{}
	m, _, sender := newTestManager(t, queue.Config{}, Config{
		OnQueueSizeChange: sizes.record,
	})
	ctx := context.Background()

	m.TriggerRetry(ctx)

	if len(sender.delivered()) != 0 || sender.sentinels() != 0 {
		t.Error("empty cycle must not send anything")
	}
	if sizes.count() != 1 {
		t.Fatalf("size callbacks = %d, want 1", sizes.count())
	}
	if size, above := sizes.last(); size != 0 || above {
		t.Errorf("reported (%d, %v), want (0, false)", size, above)
	}
}

func TestWarningThresholdReported(t *testing.T) {
	sizes := &sizeRecorder{}
	m, _, _ := newTestManager(t, queue.Config{WarningThreshold: 2}, Config{
		OnQueueSizeChange: sizes.record,
	})
	ctx := context.Background()

	m.QueueFailed(ctx, event.Event{Name: "a"}, nil)
	if _, above := sizes.last(); above {
		t.Error("below threshold reported as above")
	}
	m.QueueFailed(ctx, event.Event{Name: "b"}, nil)
	if size, above := sizes.last(); size != 2 || !above {
		t.Errorf("reported (%d, %v), want (2, true)", size, above)
	}
}

func TestStartIdempotentSingleTimer(t *testing.T) {
	sizes := &sizeRecorder{}
	m, _, _ := newTestManager(t, queue.Config{}, Config{
		RetryInterval:     25 * time.Millisecond,
		OnQueueSizeChange: sizes.record,
	})

	m.Start()
	m.Start()

	time.Sleep(130 * time.Millisecond)
	m.Stop()

	// A single 25ms timer fires about five times in 130ms; a doubled timer
	// would fire about ten. Wide margins keep this stable under load.
	got := sizes.count()
	if got < 3 || got > 7 {
		t.Errorf("cycles across 130ms = %d, want one timer's worth (3..7)", got)
	}
}

func TestStopIdempotentAndRestartable(t *testing.T) {
	m, _, _ := newTestManager(t, queue.Config{}, Config{RetryInterval: 10 * time.Millisecond})

	m.Stop() // never started: no-op

	m.Start()
	m.Stop()
	m.Stop()

	m.Start()
	m.Stop()
}

func TestStopWaitsForInflightCycle(t *testing.T) {
	m, q, sender := newTestManager(t, queue.Config{}, Config{RetryInterval: 10 * time.Millisecond})
	ctx := context.Background()

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	sender.setReply(func(ev event.Event) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return nil
	})

	m.QueueFailed(ctx, event.Event{Name: "slow"}, nil)
	m.Start()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("timer cycle never reached the sender")
	}

	stopDone := make(chan struct{})
	go func() {
		m.Stop()
		close(stopDone)
	}()

	// Stop must block on the in-flight cycle, not cancel it.
	select {
	case <-stopDone:
		t.Fatal("Stop returned while a cycle was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopDone:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop never returned after the cycle completed")
	}

	// The in-flight send completed and was committed as delivered.
	size, err := q.Size(ctx)
	if err != nil {
		t.Fatalf("Size error: %v", err)
	}
	if size != 0 {
		t.Errorf("queue size after stop = %d, want 0 (delivery completed)", size)
	}
}

func TestIndependentManagers(t *testing.T) {
	ctx := context.Background()

	m1, _, _ := newTestManager(t, queue.Config{}, Config{})
	m2, _, s2 := newTestManager(t, queue.Config{}, Config{})

	m1.QueueFailed(ctx, event.Event{Name: "a"}, errors.New("down"))

	if m1.Connected() {
		t.Error("m1 must be disconnected")
	}
	if !m2.Connected() {
		t.Error("m2 must be unaffected by m1's state")
	}
	if len(s2.delivered()) != 0 {
		t.Error("m2's sender must not see m1's traffic")
	}
}

// captureStats records delivery outcome notifications.
type captureStats struct {
	mu        sync.Mutex
	delivered []string
	failed    int
	pruned    int
}

func (c *captureStats) RecordDelivered(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delivered = append(c.delivered, id)
}

func (c *captureStats) RecordFailed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed++
}

func (c *captureStats) RecordPruned(count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruned += count
}

func TestManagerNotifiesStatsRecorder(t *testing.T) {
	rec := &captureStats{}
	q := queue.New(store.NewMemory(), queue.Config{MaxRetries: 1})
	sender := &fakeSender{}
	m := New(q, sender, Config{Stats: rec})
	ctx := context.Background()

	// The first event burns its only attempt and is pruned next cycle.
	sender.setReply(failAll)
	m.QueueFailed(ctx, event.Event{Name: "doomed"}, nil)
	m.TriggerRetry(ctx)

	sender.setReply(nil)
	m.QueueFailed(ctx, event.Event{Name: "fresh"}, nil)
	m.TriggerRetry(ctx)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.failed != 1 {
		t.Errorf("failed notifications = %d, want 1", rec.failed)
	}
	if rec.pruned != 1 {
		t.Errorf("pruned notifications = %d, want 1", rec.pruned)
	}
	if len(rec.delivered) != 1 || rec.delivered[0] == "" {
		t.Errorf("delivered notifications = %v, want one entry id", rec.delivered)
	}
}
