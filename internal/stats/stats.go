// Package stats collects delivery statistics for the spool: plain
// counters for the event lifecycle, probabilistic trackers for
// unique event names and likely-duplicate deliveries, and a JSON
// snapshot endpoint for operators.
package stats

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/eventspool/eventspool/internal/cardinality"
	"github.com/eventspool/eventspool/internal/logging"
)

// Collector accumulates delivery statistics. It implements the
// queue.StatsRecorder and retry.StatsRecorder interfaces plus
// http.Handler for the snapshot endpoint. Safe for concurrent use.
type Collector struct {
	mu sync.RWMutex

	received   uint64
	spooled    uint64
	delivered  uint64
	failed     uint64
	pruned     uint64
	evicted    uint64
	duplicates uint64

	queueSize      int
	aboveThreshold bool
	connected      bool

	startedAt time.Time

	// eventNames estimates unique event names seen at ingest.
	eventNames cardinality.Tracker
	// deliveredIDs detects entry ids delivered more than once. The spool
	// is at-least-once: a crash between a successful send and the queue
	// update re-sends the entry on restart.
	deliveredIDs cardinality.Tracker
}

// Snapshot is the externally visible state of the collector.
type Snapshot struct {
	UptimeSeconds int64 `json:"uptimeSeconds"`

	Received         uint64 `json:"received"`
	Spooled          uint64 `json:"spooled"`
	Delivered        uint64 `json:"delivered"`
	FailedAttempts   uint64 `json:"failedAttempts"`
	Pruned           uint64 `json:"pruned"`
	Evicted          uint64 `json:"evicted"`
	LikelyDuplicates uint64 `json:"likelyDuplicates"`

	QueueSize           int  `json:"queueSize"`
	QueueAboveThreshold bool `json:"queueAboveThreshold"`
	Connected           bool `json:"connected"`

	UniqueEventNames   int64  `json:"uniqueEventNames"`
	TrackerMemoryBytes uint64 `json:"trackerMemoryBytes"`
}

// NewCollector creates a collector. Connection status starts healthy,
// matching the retry manager's optimistic initial state.
func NewCollector() *Collector {
	return &Collector{
		connected:    true,
		startedAt:    time.Now(),
		eventNames:   cardinality.NewHLLTracker(),
		deliveredIDs: cardinality.NewBloomTracker(cardinality.DefaultConfig()),
	}
}

// RecordReceived records an event accepted by the ingest API.
func (c *Collector) RecordReceived(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.received++
	c.eventNames.Add([]byte(name))
}

// RecordSpooled records an event persisted to the failure queue.
func (c *Collector) RecordSpooled() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spooled++
}

// RecordEvicted records entries displaced by enqueues at capacity.
func (c *Collector) RecordEvicted(count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evicted += uint64(count)
}

// RecordDelivered records a confirmed delivery. An entry id seen twice
// counts as a likely duplicate, modulo the Bloom filter's false
// positive rate.
func (c *Collector) RecordDelivered(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delivered++
	if !c.deliveredIDs.Add([]byte(id)) {
		c.duplicates++
	}
}

// RecordFailed records a failed delivery attempt.
func (c *Collector) RecordFailed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed++
}

// RecordPruned records entries dropped after exhausting their retries.
func (c *Collector) RecordPruned(count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruned += uint64(count)
}

// SetQueueStatus records the current queue size. Wired to the retry
// manager's queue-size callback.
func (c *Collector) SetQueueStatus(size int, aboveThreshold bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queueSize = size
	c.aboveThreshold = aboveThreshold
}

// SetConnected records the current connection status. Wired to the
// retry manager's status callback.
func (c *Collector) SetConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = connected
}

// Snapshot returns a copy of the current state.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		UptimeSeconds:       int64(time.Since(c.startedAt).Seconds()),
		Received:            c.received,
		Spooled:             c.spooled,
		Delivered:           c.delivered,
		FailedAttempts:      c.failed,
		Pruned:              c.pruned,
		Evicted:             c.evicted,
		LikelyDuplicates:    c.duplicates,
		QueueSize:           c.queueSize,
		QueueAboveThreshold: c.aboveThreshold,
		Connected:           c.connected,
		UniqueEventNames:    c.eventNames.Count(),
		TrackerMemoryBytes:  c.eventNames.MemoryUsage() + c.deliveredIDs.MemoryUsage(),
	}
}

// ServeHTTP writes the snapshot as JSON.
func (c *Collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c.Snapshot()); err != nil {
		logging.Error("failed to encode stats snapshot", logging.F("error", err.Error()))
	}
}

// StartPeriodicLogging logs a stats summary every interval until the
// context is canceled. Run it in its own goroutine.
func (c *Collector) StartPeriodicLogging(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := c.Snapshot()
			logging.Info("delivery stats", logging.F(
				"received", snap.Received,
				"spooled", snap.Spooled,
				"delivered", snap.Delivered,
				"failed_attempts", snap.FailedAttempts,
				"pruned", snap.Pruned,
				"evicted", snap.Evicted,
				"likely_duplicates", snap.LikelyDuplicates,
				"queue_size", snap.QueueSize,
				"connected", snap.Connected,
				"unique_event_names", snap.UniqueEventNames,
			))
		}
	}
}
