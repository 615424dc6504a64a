package cardinality

import (
	"fmt"
	"testing"
)

func TestBloomTrackerAdd(t *testing.T) {
	tracker := NewBloomTracker(DefaultConfig())

	if !tracker.Add([]byte("entry-1")) {
		t.Error("first Add should report new")
	}
	if tracker.Add([]byte("entry-1")) {
		t.Error("second Add of same key should report seen")
	}
	if !tracker.Add([]byte("entry-2")) {
		t.Error("different key should report new")
	}
	if got := tracker.Count(); got != 2 {
		t.Errorf("Count() = %d, want 2", got)
	}
}

func TestBloomTrackerCountTracksUniques(t *testing.T) {
	tracker := NewBloomTracker(Config{ExpectedItems: 10000, FalsePositiveRate: 0.01})

	const n = 5000
	for i := 0; i < n; i++ {
		tracker.Add([]byte(fmt.Sprintf("id-%d", i)))
	}
	// Duplicates must not move the count.
	for i := 0; i < n; i++ {
		tracker.Add([]byte(fmt.Sprintf("id-%d", i)))
	}

	got := tracker.Count()
	// False positives on Add can only undercount, never overcount.
	if got > n {
		t.Errorf("Count() = %d, want <= %d", got, n)
	}
	if got < n*99/100 {
		t.Errorf("Count() = %d, undercounts beyond the 1%% false positive budget", got)
	}
}

func TestBloomTrackerReset(t *testing.T) {
	tracker := NewBloomTracker(DefaultConfig())

	tracker.Add([]byte("entry-1"))
	tracker.Reset()

	if got := tracker.Count(); got != 0 {
		t.Errorf("Count() after Reset = %d, want 0", got)
	}
	if !tracker.Add([]byte("entry-1")) {
		t.Error("key added before Reset should report new again")
	}
}

func TestBloomTrackerMemoryUsage(t *testing.T) {
	small := NewBloomTracker(Config{ExpectedItems: 1000, FalsePositiveRate: 0.01})
	large := NewBloomTracker(Config{ExpectedItems: 1000000, FalsePositiveRate: 0.01})

	if small.MemoryUsage() == 0 {
		t.Error("expected non-zero memory usage")
	}
	if small.MemoryUsage() >= large.MemoryUsage() {
		t.Errorf("larger filter should use more memory: %d vs %d", small.MemoryUsage(), large.MemoryUsage())
	}
}

func TestHLLTrackerEstimate(t *testing.T) {
	tracker := NewHLLTracker()

	const n = 10000
	for i := 0; i < n; i++ {
		tracker.Add([]byte(fmt.Sprintf("event.name.%d", i)))
	}
	// A second pass must not inflate the estimate.
	for i := 0; i < n; i++ {
		tracker.Add([]byte(fmt.Sprintf("event.name.%d", i)))
	}

	got := tracker.Count()
	// HLL at precision 14 has ~0.8% standard error; allow 3%.
	if got < n*97/100 || got > n*103/100 {
		t.Errorf("Count() = %d, want within 3%% of %d", got, n)
	}
}

func TestHLLTrackerAddAlwaysNew(t *testing.T) {
	tracker := NewHLLTracker()

	if !tracker.Add([]byte("x")) {
		t.Error("HLL Add should always report new")
	}
	if !tracker.Add([]byte("x")) {
		t.Error("HLL Add should always report new, even for repeats")
	}
}

func TestHLLTrackerReset(t *testing.T) {
	tracker := NewHLLTracker()

	for i := 0; i < 100; i++ {
		tracker.Add([]byte(fmt.Sprintf("k%d", i)))
	}
	tracker.Reset()

	if got := tracker.Count(); got != 0 {
		t.Errorf("Count() after Reset = %d, want 0", got)
	}
}

func TestTrackersImplementInterface(t *testing.T) {
	var _ Tracker = NewBloomTracker(DefaultConfig())
	var _ Tracker = NewHLLTracker()
}
