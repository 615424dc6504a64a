package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eventspool/eventspool/internal/config"
	"github.com/eventspool/eventspool/internal/health"
	"github.com/eventspool/eventspool/internal/logging"
	"github.com/eventspool/eventspool/internal/queue"
	"github.com/eventspool/eventspool/internal/receiver"
	"github.com/eventspool/eventspool/internal/retry"
	"github.com/eventspool/eventspool/internal/stats"
	"github.com/eventspool/eventspool/internal/store"
	"github.com/eventspool/eventspool/internal/telemetry"
	"github.com/eventspool/eventspool/internal/transport"
)

// shutdownGrace bounds the drain on exit: in-flight ingest requests, the
// final delivery attempt, and the stats server all share this budget.
const shutdownGrace = 30 * time.Second

func main() {
	cfg := config.ParseFlags()

	if cfg.ShowVersion {
		config.PrintVersion()
		os.Exit(0)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logging.SetResource(cfg.LogResourceAttrs())

	// Derive GOMEMLIMIT from the container memory limit. Outside a
	// container there is no limit to read, which is not an error.
	if limit, err := memlimit.SetGoMemLimitWithOpts(memlimit.WithRatio(cfg.MemoryLimitRatio)); err == nil {
		logging.Info("GOMEMLIMIT set", logging.F("bytes", limit, "ratio", cfg.MemoryLimitRatio))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Self-telemetry (disabled unless an endpoint is configured)
	tel, err := telemetry.Init(ctx, cfg.TelemetryConfig(), cfg.ServiceName, config.Version())
	if err != nil {
		logging.Fatal("failed to initialize telemetry", logging.F("error", err.Error()))
	}
	if tel.Enabled() {
		logging.SetHook(tel.NewLogHook())
		logging.Info("self-telemetry enabled", logging.F(
			"endpoint", cfg.TelemetryEndpoint,
			"protocol", cfg.TelemetryProtocol,
		))
	}

	// Spool store
	kv, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logging.Fatal("failed to open spool store", logging.F("error", err.Error(), "backend", cfg.StoreBackend))
	}
	defer closeStore()

	// Stats collector
	statsCollector := stats.NewCollector()

	// Spool queue
	queueCfg := cfg.QueueConfig()
	queueCfg.Stats = statsCollector
	q := queue.New(kv, queueCfg)

	// Exporter transport
	sender, err := transport.New(ctx, cfg.TransportConfig())
	if err != nil {
		logging.Fatal("failed to create exporter", logging.F("error", err.Error()))
	}
	defer sender.Close()

	// Retry manager, fanning its callbacks out to stats and logs
	retryCfg := cfg.RetryConfig()
	retryCfg.Stats = statsCollector
	retryCfg.OnConnectionStatusChange = func(connected bool) {
		statsCollector.SetConnected(connected)
		if connected {
			logging.Info("exporter connection restored")
		} else {
			logging.Warn("exporter connection lost", logging.F("endpoint", cfg.ExporterEndpoint))
		}
	}
	retryCfg.OnQueueSizeChange = func(size int, aboveThreshold bool) {
		statsCollector.SetQueueStatus(size, aboveThreshold)
	}
	manager := retry.New(q, sender, retryCfg)
	manager.Start()

	// Ingest API
	rcvCfg := cfg.ReceiverConfig()
	rcvCfg.Stats = statsCollector
	rcv, err := receiver.New(rcvCfg, manager, q)
	if err != nil {
		logging.Fatal("failed to create receiver", logging.F("error", err.Error()))
	}
	go func() {
		if err := rcv.Start(); err != nil && err != http.ErrServerClosed {
			logging.Error("ingest server error", logging.F("error", err.Error()))
		}
	}()

	// Health checker; readiness is store reachability plus drain state.
	// Exporter health never gates readiness: the spool must keep
	// accepting events while the collector is down.
	checker := health.New()
	checker.RegisterReadiness("spool", func() error {
		checkCtx, checkCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer checkCancel()
		_, err := q.Size(checkCtx)
		return err
	})

	// Stats / health endpoint
	statsMux := http.NewServeMux()
	statsMux.Handle("/stats", statsCollector)
	statsMux.Handle("/metrics", promhttp.Handler())
	statsMux.HandleFunc("/health/live", checker.LiveHandler())
	statsMux.HandleFunc("/health/ready", checker.ReadyHandler())

	statsServer := &http.Server{
		Addr:    cfg.StatsListenAddr,
		Handler: statsMux,
	}
	go func() {
		logging.Info("stats endpoint started", logging.F("addr", cfg.StatsListenAddr))
		if err := statsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("stats server error", logging.F("error", err.Error()))
		}
	}()

	go statsCollector.StartPeriodicLogging(ctx, cfg.StatsLogInterval)

	logging.Info("eventspool started", logging.F(
		"ingest_addr", cfg.IngestListenAddr,
		"exporter_endpoint", cfg.ExporterEndpoint,
		"stats_addr", cfg.StatsListenAddr,
		"store", cfg.StoreBackend,
		"spool_max_size", cfg.QueueMaxSize,
	))

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logging.Info("shutting down")
	checker.SetShuttingDown()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer drainCancel()

	// Stop accepting events, then give the spool one last delivery pass.
	if err := rcv.Stop(drainCtx); err != nil {
		logging.Error("ingest shutdown error", logging.F("error", err.Error()))
	}
	manager.Stop()
	manager.TriggerRetry(drainCtx)

	if err := statsServer.Shutdown(drainCtx); err != nil {
		logging.Error("stats shutdown error", logging.F("error", err.Error()))
	}
	cancel()

	logging.Info("shutdown complete")

	if tel.Enabled() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), tel.ShutdownTimeout())
		defer flushCancel()
		if err := tel.Shutdown(flushCtx); err != nil {
			fmt.Fprintf(os.Stderr, "telemetry shutdown error: %v\n", err)
		}
	}
}

// openStore builds the spool's key-value backend. The second return value
// releases backend resources and is safe to call once.
func openStore(ctx context.Context, cfg *config.Config) (store.KV, func(), error) {
	switch cfg.StoreBackend {
	case "memory":
		return store.NewMemory(), func() {}, nil
	case "file":
		fs, err := store.NewFile(cfg.StoreDir)
		if err != nil {
			return nil, nil, err
		}
		return fs, func() {}, nil
	case "redis":
		rs, err := store.NewRedis(ctx, cfg.RedisOptions())
		if err != nil {
			return nil, nil, err
		}
		return rs, func() { _ = rs.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
