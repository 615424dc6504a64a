package logging

// --- Race condition tests ---
//
// Run with: go test -race ./internal/logging/

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"testing"
)

// syncBuffer guards reads that happen after writers finish; the logger
// itself serializes writes under its own mutex.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestConcurrentLoggingKeepsLinesIntact(t *testing.T) {
	var buf syncBuffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	const goroutines = 8
	const perGoroutine = 50

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				Info("concurrent write", F("iteration", i))
			}
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != goroutines*perGoroutine {
		t.Fatalf("expected %d lines, got %d", goroutines*perGoroutine, len(lines))
	}
	for _, line := range lines {
		var entry LogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("interleaved log line: %v\n%s", err, line)
		}
	}
}

func TestConcurrentConfigurationChanges(t *testing.T) {
	var buf syncBuffer
	SetOutput(&buf)
	defer func() {
		SetOutput(os.Stdout)
		SetResource(nil)
		SetHook(nil)
	}()

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			Info("writer")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			SetResource(map[string]string{"service.name": "eventspool"})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			SetHook(func(Level, string, map[string]interface{}) {})
		}
	}()

	wg.Wait()
}
