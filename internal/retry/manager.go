// Package retry drives redelivery of spooled events: a periodic timer walks
// the failure queue, dispatches eligible events in bounded concurrent
// batches, feeds outcomes back into the queue, and derives connection health
// from what it observes.
package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/eventspool/eventspool/internal/event"
	"github.com/eventspool/eventspool/internal/logging"
	"github.com/eventspool/eventspool/internal/queue"
	"github.com/eventspool/eventspool/internal/transport"
)

// connectionCheckInterval is the minimum spacing between sentinel probes.
// Fixed on purpose: probe cadence must not drift with the retry interval.
const connectionCheckInterval = 60 * time.Second

// StatsRecorder receives delivery outcomes. Implemented by
// internal/stats; nil disables recording.
type StatsRecorder interface {
	RecordDelivered(id string)
	RecordFailed()
	RecordPruned(count int)
}

// Config holds the retry manager configuration.
type Config struct {
	// RetryInterval is the period between dispatch cycles.
	RetryInterval time.Duration
	// BatchSize caps how many sends are in flight at once within a cycle.
	BatchSize int
	// Stats, when set, is notified of delivery outcomes.
	Stats StatsRecorder
	// OnConnectionStatusChange fires on every connected/disconnected
	// transition, never on same-value updates. Invoked inline with the
	// dispatch cycle; keep it fast.
	OnConnectionStatusChange func(connected bool)
	// OnQueueSizeChange fires after every spooled event and dispatch cycle
	// with the current queue size and whether it crossed the warning
	// threshold. Invoked inline; keep it fast.
	OnQueueSizeChange func(size int, aboveThreshold bool)
}

// DefaultConfig returns the default retry manager configuration.
func DefaultConfig() Config {
	return Config{
		RetryInterval: 30 * time.Second,
		BatchSize:     10,
	}
}

// Manager owns the retry schedule for one queue and one transport. All state
// is instance-scoped, so independent managers can coexist in one process.
type Manager struct {
	queue  *queue.Queue
	sender transport.Sender
	cfg    Config

	// connected is the optimistic health flag: true until proven otherwise.
	connected atomic.Bool
	// processing is the cycle re-entrancy guard. An invocation that finds it
	// held is dropped, not queued.
	processing atomic.Bool

	// lastProbe is only touched while the processing guard is held.
	lastProbe time.Time

	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}

	// now is replaceable in tests.
	now func() time.Time
}

// New creates a retry manager over q, delivering through sender. Zero config
// values take defaults.
func New(q *queue.Queue, sender transport.Sender, cfg Config) *Manager {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	m := &Manager{
		queue:  q,
		sender: sender,
		cfg:    cfg,
		now:    time.Now,
	}
	m.connected.Store(true)
	connectionUp.Set(1)
	return m
}

// Start launches the periodic dispatch loop. Calling it while the loop is
// already running is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopCh != nil {
		return
	}
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	go m.loop(m.stopCh, m.doneCh)

	logging.Info("retry loop started", logging.F(
		"interval", m.cfg.RetryInterval.String(),
		"batch_size", m.cfg.BatchSize,
	))
}

// Stop halts future timer firings and waits for the loop goroutine to exit.
// An in-flight cycle and its sends run to completion. Idempotent; the
// manager can be started again afterwards.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopCh == nil {
		m.mu.Unlock()
		return
	}
	stopCh, doneCh := m.stopCh, m.doneCh
	m.stopCh, m.doneCh = nil, nil
	m.mu.Unlock()

	close(stopCh)
	<-doneCh

	logging.Info("retry loop stopped")
}

func (m *Manager) loop(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(m.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.processQueue(context.Background())
		}
	}
}

// TriggerRetry runs one dispatch cycle immediately, bypassing the timer. The
// re-entrancy guard still applies: if a cycle is already running, the call
// is dropped.
func (m *Manager) TriggerRetry(ctx context.Context) {
	m.processQueue(ctx)
}

// QueueFailed spools an event whose immediate delivery failed. It never
// reports an error back: this layer exists so telemetry failures stay
// invisible to the application, so storage trouble is logged and absorbed.
// A non-nil cause while the manager still believes the connection is healthy
// flips the status to disconnected ahead of the next cycle.
func (m *Manager) QueueFailed(ctx context.Context, ev event.Event, cause error) {
	if err := m.queue.Enqueue(ctx, ev, cause); err != nil {
		logging.Error("failed to spool event", logging.F(
			"event", ev.Name,
			"error", err.Error(),
		))
		return
	}
	eventsSpooledTotal.Inc()

	if cause != nil {
		m.setConnected(false)
	}
	m.notifyQueueSize(ctx)
}

// Connected reports the current connection status. The initial value is
// optimistic: healthy until a failure proves otherwise.
func (m *Manager) Connected() bool {
	return m.connected.Load()
}

// processQueue runs one dispatch cycle: prune, collect eligible events,
// dispatch them in sequential batches, probe connectivity, report queue
// size. Every failure inside the cycle is logged and swallowed so the timer
// keeps ticking on schedule.
func (m *Manager) processQueue(ctx context.Context) {
	if !m.processing.CompareAndSwap(false, true) {
		cyclesDroppedTotal.Inc()
		return
	}
	defer m.processing.Store(false)
	defer func() {
		if r := recover(); r != nil {
			logging.Error("dispatch cycle panic", logging.F("error", fmt.Sprintf("%v", r)))
		}
	}()

	cyclesTotal.Inc()

	if pruned, err := m.queue.Prune(ctx); err != nil {
		logging.Error("failed to prune exhausted events", logging.F("error", err.Error()))
	} else if pruned > 0 {
		logging.Info("dropped events that exhausted their retries", logging.F("count", pruned))
		if m.cfg.Stats != nil {
			m.cfg.Stats.RecordPruned(pruned)
		}
	}

	eligible, err := m.queue.Eligible(ctx)
	if err != nil {
		logging.Error("failed to collect retry candidates", logging.F("error", err.Error()))
	}

	if len(eligible) > 0 {
		for start := 0; start < len(eligible); start += m.cfg.BatchSize {
			end := start + m.cfg.BatchSize
			if end > len(eligible) {
				end = len(eligible)
			}
			m.dispatchBatch(ctx, eligible[start:end])
		}
		m.maybeProbe(ctx)
	}

	m.notifyQueueSize(ctx)
}

// dispatchBatch sends every entry in the batch concurrently, waits for all
// outcomes, and commits each one to the queue. One entry's failure never
// aborts its siblings.
func (m *Manager) dispatchBatch(ctx context.Context, batch []queue.Entry) {
	results := make([]error, len(batch))

	var g errgroup.Group
	for i, e := range batch {
		g.Go(func() error {
			results[i] = m.sender.Send(ctx, e.Event)
			return nil
		})
	}
	// Send outcomes land in results; the group itself never carries errors.
	_ = g.Wait()

	succeeded := 0
	for i, e := range batch {
		cause := results[i]
		if cause == nil {
			succeeded++
			if m.cfg.Stats != nil {
				m.cfg.Stats.RecordDelivered(e.ID)
			}
		} else {
			if m.cfg.Stats != nil {
				m.cfg.Stats.RecordFailed()
			}
			kv := []interface{}{
				"event", e.Event.Name,
				"attempts", e.RetryCount + 1,
				"error", cause.Error(),
				"error_type", string(transport.Classify(cause)),
			}
			var se *transport.SendError
			if errors.As(cause, &se) {
				kv = append(kv, "retryable", se.IsRetryable())
			}
			logging.Warn("redelivery failed", logging.F(kv...))
		}
		if err := m.queue.Resolve(ctx, e.ID, cause == nil, cause); err != nil {
			logging.Error("failed to record redelivery outcome", logging.F(
				"id", e.ID,
				"error", err.Error(),
			))
		}
	}
	batchesTotal.Inc()

	// Status is refined batch by batch: any success proves the link, a fully
	// failed batch condemns it, anything in between leaves it alone.
	if succeeded > 0 {
		m.setConnected(true)
	} else {
		m.setConnected(false)
	}
}

// maybeProbe sends a sentinel event through the transport when enough time
// has passed since the last probe. The sentinel is never persisted; its only
// effect is on the connection status.
func (m *Manager) maybeProbe(ctx context.Context) {
	now := m.now()
	if !m.lastProbe.IsZero() && now.Sub(m.lastProbe) < connectionCheckInterval {
		return
	}
	m.lastProbe = now

	probesTotal.Inc()
	if err := m.sender.Send(ctx, event.Sentinel()); err != nil {
		probeFailuresTotal.Inc()
		logging.Warn("connectivity probe failed", logging.F("error", err.Error()))
		m.setConnected(false)
		return
	}
	m.setConnected(true)
}

// setConnected flips the status flag and fires the callback on actual
// transitions only. Same-value updates are dropped before any side effect.
func (m *Manager) setConnected(up bool) {
	if !m.connected.CompareAndSwap(!up, up) {
		return
	}

	if up {
		connectionUp.Set(1)
		logging.Info("connection restored")
	} else {
		connectionUp.Set(0)
		connectionDropsTotal.Inc()
		logging.Warn("connection lost")
	}

	if m.cfg.OnConnectionStatusChange != nil {
		m.cfg.OnConnectionStatusChange(up)
	}
}

// notifyQueueSize reads fresh queue metadata and fires the size callback.
func (m *Manager) notifyQueueSize(ctx context.Context) {
	md, err := m.queue.Metadata(ctx)
	if err != nil {
		logging.Error("failed to read queue metadata", logging.F("error", err.Error()))
		return
	}

	if md.IsAboveWarningThreshold {
		logging.Warn("queue above warning threshold", logging.F("size", md.Size))
	}
	if m.cfg.OnQueueSizeChange != nil {
		m.cfg.OnQueueSizeChange(md.Size, md.IsAboveWarningThreshold)
	}
}
