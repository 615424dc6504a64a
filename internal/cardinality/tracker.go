// Package cardinality provides fixed-memory probabilistic trackers for
// delivery statistics: a Bloom filter for membership (have we delivered
// this entry id before) and a HyperLogLog sketch for unique-count
// estimates (how many distinct event names flowed through).
package cardinality

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// Tracker tracks unique byte keys in bounded memory.
type Tracker interface {
	// Add records the key and reports whether it was new. Probabilistic
	// implementations may misreport a new key as seen at their false
	// positive rate.
	Add(key []byte) bool

	// Count returns the number of unique keys seen, exact or estimated
	// depending on the implementation.
	Count() int64

	// Reset clears the tracker for a new window.
	Reset()

	// MemoryUsage returns approximate memory usage in bytes.
	MemoryUsage() uint64
}

// Config sizes the Bloom filter.
type Config struct {
	// ExpectedItems is the expected number of unique keys. Higher values
	// use more memory but keep the false positive rate on target.
	ExpectedItems uint
	// FalsePositiveRate is the target false positive rate, e.g. 0.01
	// for 1%.
	FalsePositiveRate float64
}

// DefaultConfig sizes the filter for a long-lived spool process.
func DefaultConfig() Config {
	return Config{
		ExpectedItems:     100000,
		FalsePositiveRate: 0.01,
	}
}

// BloomTracker tracks membership with a Bloom filter and counts unique
// keys with a manual counter, since Bloom filters cannot estimate
// cardinality themselves.
type BloomTracker struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
	count  int64
}

// NewBloomTracker creates a Bloom filter tracker sized by cfg.
func NewBloomTracker(cfg Config) *BloomTracker {
	return &BloomTracker{
		filter: bloom.NewWithEstimates(cfg.ExpectedItems, cfg.FalsePositiveRate),
	}
}

// Add records the key and reports whether it was new. A false positive
// makes a truly new key report as seen, so Count may slightly
// undercount.
func (t *BloomTracker) Add(key []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.filter.Test(key) {
		return false
	}
	t.filter.Add(key)
	t.count++
	return true
}

// Count returns the number of unique keys seen.
func (t *BloomTracker) Count() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.count
}

// Reset clears the filter and the counter.
func (t *BloomTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.filter.ClearAll()
	t.count = 0
}

// MemoryUsage returns the filter's bit array size in bytes.
func (t *BloomTracker) MemoryUsage() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return uint64(t.filter.Cap()) / 8
}
