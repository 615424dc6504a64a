// Package receiver exposes the ingest API: an HTTP surface through which
// applications hand failed telemetry events to the spool and inspect what
// is waiting for redelivery.
package receiver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/eventspool/eventspool/internal/auth"
	"github.com/eventspool/eventspool/internal/compression"
	"github.com/eventspool/eventspool/internal/event"
	"github.com/eventspool/eventspool/internal/logging"
	"github.com/eventspool/eventspool/internal/queue"
	tlspkg "github.com/eventspool/eventspool/internal/tls"
)

// Spooler accepts events that failed delivery. Implemented by retry.Manager.
type Spooler interface {
	QueueFailed(ctx context.Context, ev event.Event, cause error)
}

// Inspector exposes the spool contents for the diagnostics endpoints.
// Implemented by queue.Queue.
type Inspector interface {
	All(ctx context.Context) ([]queue.Entry, error)
	Size(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}

// StatsRecorder observes accepted events. Implemented by internal/stats;
// nil disables recording.
type StatsRecorder interface {
	RecordReceived(name string)
}

// Config holds the ingest API settings.
type Config struct {
	Addr string
	Auth auth.ServerConfig
	TLS  tlspkg.ServerConfig
	// MaxBodyBytes caps the request body size; zero means no limit.
	MaxBodyBytes int64
	Stats        StatsRecorder
}

// Receiver serves the ingest API over HTTP.
type Receiver struct {
	server  *http.Server
	spooler Spooler
	spool   Inspector
	stats   StatsRecorder
	addr    string
	maxBody int64
}

// New builds the receiver and its routes. The server is not listening until
// Start is called.
func New(cfg Config, spooler Spooler, spool Inspector) (*Receiver, error) {
	r := &Receiver{
		spooler: spooler,
		spool:   spool,
		stats:   cfg.Stats,
		addr:    cfg.Addr,
		maxBody: cfg.MaxBodyBytes,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/events", r.handleEvents)

	tlsCfg, err := tlspkg.NewServerTLSConfig(cfg.TLS)
	if err != nil {
		return nil, err
	}

	r.server = &http.Server{
		Addr:      cfg.Addr,
		Handler:   auth.HTTPMiddleware(cfg.Auth, mux),
		TLSConfig: tlsCfg,
	}

	return r, nil
}

// handleEvents dispatches on method: POST spools, GET lists, DELETE clears.
func (r *Receiver) handleEvents(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodPost:
		r.handleIngest(w, req)
	case http.MethodGet:
		r.handleList(w, req)
	case http.MethodDelete:
		r.handleClear(w, req)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleIngest accepts a single JSON event or an array of events and hands
// each to the spooler. The body may be compressed; the X-Spool-Reason header
// is recorded as the enqueue cause.
func (r *Receiver) handleIngest(w http.ResponseWriter, req *http.Request) {
	receiverRequestsTotal.WithLabelValues("ingest").Inc()

	reader := req.Body
	if r.maxBody > 0 {
		reader = http.MaxBytesReader(w, req.Body, r.maxBody)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		receiverErrorsTotal.WithLabelValues("read").Inc()
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	defer req.Body.Close()

	if encoding := req.Header.Get("Content-Encoding"); encoding != "" {
		typ := compression.ParseContentEncoding(encoding)
		if typ == compression.TypeNone && !strings.EqualFold(strings.TrimSpace(encoding), "identity") {
			receiverErrorsTotal.WithLabelValues("encoding").Inc()
			http.Error(w, "Unsupported content encoding", http.StatusUnsupportedMediaType)
			return
		}
		body, err = compression.Decompress(body, typ)
		if err != nil {
			receiverErrorsTotal.WithLabelValues("decompress").Inc()
			http.Error(w, "Failed to decompress body", http.StatusBadRequest)
			return
		}
	}

	events, err := decodeEvents(body)
	if err != nil {
		receiverErrorsTotal.WithLabelValues("decode").Inc()
		http.Error(w, "Failed to decode events: "+err.Error(), http.StatusBadRequest)
		return
	}

	var cause error
	if reason := req.Header.Get("X-Spool-Reason"); reason != "" {
		cause = errors.New(reason)
	}

	for _, ev := range events {
		if r.stats != nil {
			r.stats.RecordReceived(ev.Name)
		}
		r.spooler.QueueFailed(req.Context(), ev, cause)
	}
	receiverEventsTotal.Add(float64(len(events)))

	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": len(events)})
}

// handleList returns every spooled entry as JSON.
func (r *Receiver) handleList(w http.ResponseWriter, req *http.Request) {
	receiverRequestsTotal.WithLabelValues("list").Inc()

	entries, err := r.spool.All(req.Context())
	if err != nil {
		receiverErrorsTotal.WithLabelValues("store").Inc()
		http.Error(w, "Failed to read spool", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []queue.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleClear drops every spooled entry and reports how many were removed.
func (r *Receiver) handleClear(w http.ResponseWriter, req *http.Request) {
	receiverRequestsTotal.WithLabelValues("clear").Inc()

	size, err := r.spool.Size(req.Context())
	if err != nil {
		receiverErrorsTotal.WithLabelValues("store").Inc()
		http.Error(w, "Failed to read spool", http.StatusInternalServerError)
		return
	}
	if err := r.spool.Clear(req.Context()); err != nil {
		receiverErrorsTotal.WithLabelValues("store").Inc()
		http.Error(w, "Failed to clear spool", http.StatusInternalServerError)
		return
	}

	logging.Info("spool cleared via API", logging.F("cleared", size))
	writeJSON(w, http.StatusOK, map[string]int{"cleared": size})
}

// decodeEvents parses the body as either a single event object or an array
// of events. Every event must carry a name.
func decodeEvents(body []byte) ([]event.Event, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty body")
	}

	var events []event.Event
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, err
		}
	} else {
		var ev event.Event
		if err := json.Unmarshal(trimmed, &ev); err != nil {
			return nil, err
		}
		events = []event.Event{ev}
	}

	for _, ev := range events {
		if ev.Name == "" {
			return nil, errors.New("event missing name")
		}
	}
	return events, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to write response", logging.F("error", err.Error()))
	}
}

// Start begins serving and blocks until the server stops.
func (r *Receiver) Start() error {
	logging.Info("ingest API listening", logging.F("addr", r.addr))
	if r.server.TLSConfig != nil {
		return r.server.ListenAndServeTLS("", "")
	}
	return r.server.ListenAndServe()
}

// Stop gracefully shuts down the server, letting in-flight requests finish.
func (r *Receiver) Stop(ctx context.Context) error {
	return r.server.Shutdown(ctx)
}
