// Package queue implements the durable, capacity-bounded failure queue that
// holds telemetry events awaiting redelivery.
//
// The queue owns no in-memory collection: every operation is an atomic
// read-modify-persist sequence against the backing key-value store, under one
// queue-wide lock. A restarted process therefore resumes exactly where the
// previous one stopped. Full-collection rewrites are the accepted strategy at
// the target bound of about a thousand entries.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eventspool/eventspool/internal/event"
	"github.com/eventspool/eventspool/internal/store"
)

// Store keys for the persisted collection and its bookkeeping record.
const (
	eventsKey = "spool.events"
	metaKey   = "spool.meta"
)

// maxErrorLen bounds the persisted failure reason so driver errors cannot
// grow the stored collection without bound.
const maxErrorLen = 256

// backoffMaxShift caps the backoff exponent so the shift cannot overflow
// a time.Duration.
const backoffMaxShift = 32

// StatsRecorder receives queue lifecycle outcomes. Implemented by
// internal/stats; nil disables recording.
type StatsRecorder interface {
	RecordSpooled()
	RecordEvicted(count int)
}

// Config holds the queue configuration. Immutable after construction.
type Config struct {
	// MaxQueueSize is the capacity; enqueueing beyond it evicts the oldest entry.
	MaxQueueSize int
	// MaxRetries is the delivery attempt ceiling per event.
	MaxRetries int
	// WarningThreshold is the size at which the queue reports backed-up.
	WarningThreshold int
	// Stats, when set, is notified of enqueues and evictions.
	Stats StatsRecorder
}

// DefaultConfig returns the default queue configuration.
func DefaultConfig() Config {
	return Config{
		MaxQueueSize:     1000,
		MaxRetries:       5,
		WarningThreshold: 100,
	}
}

// Entry is one persisted retry candidate.
type Entry struct {
	// ID is the unique handle for later mutation, assigned at enqueue time.
	ID string `json:"id"`
	// Event is the opaque telemetry payload, passed through to the transport.
	Event event.Event `json:"event"`
	// EnqueuedAt is when the entry was appended; never mutated.
	EnqueuedAt time.Time `json:"enqueuedAt"`
	// RetryCount is the number of failed delivery attempts recorded so far.
	RetryCount int `json:"retryCount"`
	// LastAttemptAt anchors the backoff window; zero until the first failure.
	LastAttemptAt time.Time `json:"lastAttemptAt,omitzero"`
	// LastError is the most recent failure reason, if any.
	LastError string `json:"lastError,omitempty"`
}

// Metadata summarizes queue state for observers.
type Metadata struct {
	Size int
	// OldestEventTimestamp and NewestEventTimestamp are the EnqueuedAt of the
	// first and last stored entries; zero when the queue is empty.
	OldestEventTimestamp    time.Time
	NewestEventTimestamp    time.Time
	IsAboveWarningThreshold bool
}

// metaRecord is the small bookkeeping record stored beside the collection.
type metaRecord struct {
	Size      int       `json:"size"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Queue is the persistent failure queue.
type Queue struct {
	mu  sync.Mutex
	kv  store.KV
	cfg Config

	// now is replaceable in tests.
	now func() time.Time
}

// New creates a queue over kv. Zero config values take defaults.
func New(kv store.KV, cfg Config) *Queue {
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 1000
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.WarningThreshold <= 0 {
		cfg.WarningThreshold = 100
	}
	queueCapacity.Set(float64(cfg.MaxQueueSize))
	return &Queue{kv: kv, cfg: cfg, now: time.Now}
}

// Enqueue appends a new entry for ev, evicting the oldest entries first when
// the queue is at capacity. Enqueue never rejects an event. cause, when
// non-nil, is recorded as the entry's initial failure reason.
func (q *Queue) Enqueue(ctx context.Context, ev event.Event, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.load(ctx)
	if err != nil {
		return err
	}

	evicted := 0
	for len(entries) >= q.cfg.MaxQueueSize {
		entries = entries[1:]
		evicted++
		queueEvictedTotal.Inc()
	}

	e := Entry{
		ID:         uuid.New().String(),
		Event:      ev,
		EnqueuedAt: q.now(),
	}
	if cause != nil {
		e.LastError = truncateError(cause)
	}
	entries = append(entries, e)

	if err := q.persist(ctx, entries); err != nil {
		return err
	}
	queueEnqueuedTotal.Inc()
	if q.cfg.Stats != nil {
		q.cfg.Stats.RecordSpooled()
		if evicted > 0 {
			q.cfg.Stats.RecordEvicted(evicted)
		}
	}
	return nil
}

// Eligible returns, in stored order, the entries whose retry ceiling has not
// been reached and whose backoff window has elapsed. The window after a
// failed attempt is 2^RetryCount seconds from that attempt, boundary
// inclusive; an entry that has never been attempted is eligible immediately.
// Read-only.
func (q *Queue) Eligible(ctx context.Context) ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.load(ctx)
	if err != nil {
		return nil, err
	}

	now := q.now()
	var eligible []Entry
	for _, e := range entries {
		if e.RetryCount >= q.cfg.MaxRetries {
			continue
		}
		if e.LastAttemptAt.IsZero() || !now.Before(e.LastAttemptAt.Add(backoffWindow(e.RetryCount))) {
			eligible = append(eligible, e)
		}
	}
	return eligible, nil
}

// Resolve records the outcome of a delivery attempt for the entry with the
// given id. A delivered entry is removed; a failed one gets its retry count
// incremented, the attempt timestamped, and the failure reason replaced, or
// cleared when cause is nil. An unknown id is a benign no-op: the entry may
// already have been removed by an earlier success, prune, or clear.
func (q *Queue) Resolve(ctx context.Context, id string, delivered bool, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.load(ctx)
	if err != nil {
		return err
	}

	idx := -1
	for i := range entries {
		if entries[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	if delivered {
		entries = append(entries[:idx], entries[idx+1:]...)
		queueDeliveredTotal.Inc()
	} else {
		entries[idx].RetryCount++
		entries[idx].LastAttemptAt = q.now()
		if cause != nil {
			entries[idx].LastError = truncateError(cause)
		} else {
			entries[idx].LastError = ""
		}
		queueFailedAttemptsTotal.Inc()
	}

	return q.persist(ctx, entries)
}

// Prune removes every entry that has exhausted its retries and returns the
// removed count. The collection is rewritten only when it actually shrank.
func (q *Queue) Prune(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.load(ctx)
	if err != nil {
		return 0, err
	}

	kept := entries[:0]
	for _, e := range entries {
		if e.RetryCount < q.cfg.MaxRetries {
			kept = append(kept, e)
		}
	}
	pruned := len(entries) - len(kept)
	if pruned == 0 {
		return 0, nil
	}

	if err := q.persist(ctx, kept); err != nil {
		return 0, err
	}
	queuePrunedTotal.Add(float64(pruned))
	return pruned, nil
}

// Size returns the current queue length.
func (q *Queue) Size(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.load(ctx)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Metadata returns the current queue summary.
func (q *Queue) Metadata(ctx context.Context) (Metadata, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.load(ctx)
	if err != nil {
		return Metadata{}, err
	}

	md := Metadata{
		Size:                    len(entries),
		IsAboveWarningThreshold: len(entries) >= q.cfg.WarningThreshold,
	}
	if len(entries) > 0 {
		md.OldestEventTimestamp = entries[0].EnqueuedAt
		md.NewestEventTimestamp = entries[len(entries)-1].EnqueuedAt
	}
	return md, nil
}

// Clear empties the collection and the bookkeeping record.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.kv.Set(ctx, eventsKey, nil); err != nil {
		return fmt.Errorf("queue: clear events: %w", err)
	}
	if err := q.kv.Set(ctx, metaKey, nil); err != nil {
		return fmt.Errorf("queue: clear metadata: %w", err)
	}
	queueSize.Set(0)
	return nil
}

// All returns a snapshot of every entry in insertion order, for diagnostics.
func (q *Queue) All(ctx context.Context) ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load(ctx)
}

// load reads the full collection. Callers must hold q.mu.
func (q *Queue) load(ctx context.Context) ([]Entry, error) {
	data, ok, err := q.kv.Get(ctx, eventsKey)
	if err != nil {
		return nil, fmt.Errorf("queue: load events: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("queue: decode events: %w", err)
	}
	return entries, nil
}

// persist writes the full collection and refreshes the bookkeeping record.
// Callers must hold q.mu.
func (q *Queue) persist(ctx context.Context, entries []Entry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("queue: encode events: %w", err)
	}
	if err := q.kv.Set(ctx, eventsKey, data); err != nil {
		return fmt.Errorf("queue: persist events: %w", err)
	}

	meta, err := json.Marshal(metaRecord{Size: len(entries), UpdatedAt: q.now()})
	if err != nil {
		return fmt.Errorf("queue: encode metadata: %w", err)
	}
	if err := q.kv.Set(ctx, metaKey, meta); err != nil {
		return fmt.Errorf("queue: persist metadata: %w", err)
	}

	queueSize.Set(float64(len(entries)))
	return nil
}

// backoffWindow is the mandatory wait between attempt n and n+1: 2^n seconds,
// clamped so the shift cannot overflow.
func backoffWindow(retryCount int) time.Duration {
	if retryCount > backoffMaxShift {
		retryCount = backoffMaxShift
	}
	return time.Second << uint(retryCount)
}

// truncateError renders cause for storage, bounded to maxErrorLen.
func truncateError(cause error) string {
	msg := cause.Error()
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	return msg
}
