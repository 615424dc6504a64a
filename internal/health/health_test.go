package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func doProbe(t *testing.T, handler http.HandlerFunc) (int, Response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	return rec.Code, resp
}

func TestLiveHealthy(t *testing.T) {
	c := New()

	code, resp := doProbe(t, c.LiveHandler())
	if code != http.StatusOK {
		t.Errorf("status = %d, want 200", code)
	}
	if resp.Status != StatusUp {
		t.Errorf("Status = %q, want up", resp.Status)
	}
	if resp.Timestamp == "" {
		t.Error("Timestamp missing")
	}
}

func TestReadyWithoutChecks(t *testing.T) {
	c := New()

	code, resp := doProbe(t, c.ReadyHandler())
	if code != http.StatusOK {
		t.Errorf("status = %d, want 200", code)
	}
	if resp.Status != StatusUp {
		t.Errorf("Status = %q, want up", resp.Status)
	}
}

func TestReadyAllComponentsHealthy(t *testing.T) {
	c := New()
	c.RegisterReadiness("store", func() error { return nil })
	c.RegisterReadiness("delivery", func() error { return nil })

	code, resp := doProbe(t, c.ReadyHandler())
	if code != http.StatusOK {
		t.Errorf("status = %d, want 200", code)
	}
	if len(resp.Components) != 2 {
		t.Fatalf("components = %d, want 2", len(resp.Components))
	}
	for name, comp := range resp.Components {
		if comp.Status != StatusUp {
			t.Errorf("component %q = %q, want up", name, comp.Status)
		}
	}
}

func TestReadyFailingComponent(t *testing.T) {
	c := New()
	c.RegisterReadiness("store", func() error { return nil })
	c.RegisterReadiness("delivery", func() error { return errors.New("connection lost") })

	code, resp := doProbe(t, c.ReadyHandler())
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
	if resp.Status != StatusDown {
		t.Errorf("Status = %q, want down", resp.Status)
	}
	if resp.Components["delivery"].Message != "connection lost" {
		t.Errorf("delivery message = %q, want connection lost", resp.Components["delivery"].Message)
	}
	if resp.Components["store"].Status != StatusUp {
		t.Error("healthy component dragged down by failing sibling")
	}
}

func TestReadyReevaluatesPerRequest(t *testing.T) {
	c := New()
	healthy := false
	c.RegisterReadiness("store", func() error {
		if healthy {
			return nil
		}
		return errors.New("not yet")
	})

	if code, _ := doProbe(t, c.ReadyHandler()); code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 before recovery", code)
	}

	healthy = true
	if code, _ := doProbe(t, c.ReadyHandler()); code != http.StatusOK {
		t.Errorf("status = %d, want 200 after recovery", code)
	}
}

func TestShuttingDownFlipsBothProbes(t *testing.T) {
	c := New()
	c.RegisterReadiness("store", func() error { return nil })
	c.SetShuttingDown()

	for _, handler := range []http.HandlerFunc{c.LiveHandler(), c.ReadyHandler()} {
		code, resp := doProbe(t, handler)
		if code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503 while draining", code)
		}
		if resp.Components["process"].Message != "shutting down" {
			t.Errorf("process message = %q, want shutting down", resp.Components["process"].Message)
		}
	}
}

func TestRegisterReadinessReplaces(t *testing.T) {
	c := New()
	c.RegisterReadiness("store", func() error { return errors.New("old") })
	c.RegisterReadiness("store", func() error { return nil })

	if code, _ := doProbe(t, c.ReadyHandler()); code != http.StatusOK {
		t.Errorf("status = %d, want 200 after re-register", code)
	}
}
