package cardinality

import (
	"sync"

	"github.com/axiomhq/hyperloglog"
)

// HLLTracker estimates unique-key counts with a HyperLogLog sketch.
// Memory stays around 12KB at precision 14 no matter how many keys are
// inserted. It cannot answer membership, so Add always reports new.
type HLLTracker struct {
	mu     sync.Mutex
	sketch *hyperloglog.Sketch
}

// NewHLLTracker creates a HyperLogLog tracker at the default precision.
func NewHLLTracker() *HLLTracker {
	return &HLLTracker{
		sketch: hyperloglog.New(),
	}
}

// Add inserts the key into the sketch. Always reports new because the
// sketch cannot test membership.
func (t *HLLTracker) Add(key []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sketch.Insert(key)
	return true
}

// Count returns the estimated number of unique keys. Holds the full
// lock because Estimate may mutate internal state (sparse to dense
// promotion).
func (t *HLLTracker) Count() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return int64(t.sketch.Estimate())
}

// Reset replaces the sketch.
func (t *HLLTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sketch = hyperloglog.New()
}

// MemoryUsage returns the fixed sketch size for precision 14.
func (t *HLLTracker) MemoryUsage() uint64 {
	return 12288
}
