package receiver

// --- Race condition tests ---
//
// These tests are most useful under `go test -race`. They drive the ingest
// API from many clients at once while the diagnostics endpoints read the
// spool state.

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
)

func TestConcurrentIngestAndList(t *testing.T) {
	stub := &spoolStub{}
	srv := newTestServer(t, Config{Stats: &recordingStats{}}, stub)

	const (
		writers      = 8
		perGoroutine = 25
	)

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				body := fmt.Sprintf(`{"name":"writer-%d.event-%d"}`, id, i)
				resp, err := http.Post(srv.URL+"/v1/events", "application/json", strings.NewReader(body))
				if err != nil {
					t.Errorf("post failed: %v", err)
					return
				}
				resp.Body.Close()
				if resp.StatusCode != http.StatusAccepted {
					t.Errorf("expected 202, got %d", resp.StatusCode)
				}
			}
		}(w)
	}

	// Readers hit the list endpoint while writers post.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			resp, err := http.Get(srv.URL + "/v1/events")
			if err != nil {
				return
			}
			resp.Body.Close()
		}
	}()

	wg.Wait()

	if got := len(stub.queuedEvents()); got != writers*perGoroutine {
		t.Errorf("expected %d queued events, got %d", writers*perGoroutine, got)
	}
}
