package compression

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// counterValue reads a labeled counter from the default registry.
// Counters the package has not touched yet read as 0.
func counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metric:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metric
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestCompressionMetrics_Registration(t *testing.T) {
	// Touch both directions so the labeled children exist.
	payload := samplePayload()
	compressed, err := Compress(payload, Config{Type: TypeGzip})
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if _, err := Decompress(compressed, TypeGzip); err != nil {
		t.Fatalf("Decompress: %v", err)
	}

	expectedMetrics := []string{
		"eventspool_compression_compress_bytes_in_total",
		"eventspool_compression_compress_bytes_out_total",
		"eventspool_compression_decompress_bytes_in_total",
		"eventspool_compression_decompress_bytes_out_total",
	}

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	gathered := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		gathered[mf.GetName()] = mf
	}

	for _, name := range expectedMetrics {
		mf, ok := gathered[name]
		if !ok {
			t.Errorf("metric %q not found in gathered metrics", name)
			continue
		}
		if mf.GetType() != dto.MetricType_COUNTER {
			t.Errorf("metric %q: expected type COUNTER, got %v", name, mf.GetType())
		}
		if len(mf.GetMetric()) == 0 {
			t.Errorf("metric %q: no metric samples", name)
		}
	}
}

func TestCompressionMetrics_ByteAccounting(t *testing.T) {
	payload := samplePayload()
	gzipLabel := map[string]string{"type": "gzip"}

	inBefore := counterValue(t, "eventspool_compression_compress_bytes_in_total", gzipLabel)
	outBefore := counterValue(t, "eventspool_compression_compress_bytes_out_total", gzipLabel)

	compressed, err := Compress(payload, Config{Type: TypeGzip})
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}

	inAfter := counterValue(t, "eventspool_compression_compress_bytes_in_total", gzipLabel)
	outAfter := counterValue(t, "eventspool_compression_compress_bytes_out_total", gzipLabel)

	if got, want := inAfter-inBefore, float64(len(payload)); got != want {
		t.Errorf("compress_bytes_in delta = %f, want %f", got, want)
	}
	if got, want := outAfter-outBefore, float64(len(compressed)); got != want {
		t.Errorf("compress_bytes_out delta = %f, want %f", got, want)
	}

	dinBefore := counterValue(t, "eventspool_compression_decompress_bytes_in_total", gzipLabel)
	doutBefore := counterValue(t, "eventspool_compression_decompress_bytes_out_total", gzipLabel)

	decompressed, err := Decompress(compressed, TypeGzip)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}

	dinAfter := counterValue(t, "eventspool_compression_decompress_bytes_in_total", gzipLabel)
	doutAfter := counterValue(t, "eventspool_compression_decompress_bytes_out_total", gzipLabel)

	if got, want := dinAfter-dinBefore, float64(len(compressed)); got != want {
		t.Errorf("decompress_bytes_in delta = %f, want %f", got, want)
	}
	if got, want := doutAfter-doutBefore, float64(len(decompressed)); got != want {
		t.Errorf("decompress_bytes_out delta = %f, want %f", got, want)
	}
}

func TestCompressionMetrics_ErrorCounting(t *testing.T) {
	label := map[string]string{"op": "decompress"}

	before := counterValue(t, "eventspool_compression_errors_total", label)
	if _, err := Decompress([]byte("garbage"), TypeGzip); err == nil {
		t.Fatal("expected decompress failure")
	}
	after := counterValue(t, "eventspool_compression_errors_total", label)

	if got := after - before; got != 1 {
		t.Errorf("errors_total{op=decompress} delta = %f, want 1", got)
	}
}
