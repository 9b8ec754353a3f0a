// Command broker runs the pub/sub broker process: it loads
// configuration, wires the registry, dispatcher, heartbeat ticker and
// NATS transport together, and serves a side HTTP listener for health
// and Prometheus metrics.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/rounaksalim95/pubsub-broker/internal/broker"
	"github.com/rounaksalim95/pubsub-broker/internal/config"
	"github.com/rounaksalim95/pubsub-broker/internal/logging"
	"github.com/rounaksalim95/pubsub-broker/internal/metrics"
	"github.com/rounaksalim95/pubsub-broker/internal/registry"
	"github.com/rounaksalim95/pubsub-broker/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging, "broker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() // nolint:errcheck

	metricsRegistry := metrics.NewRegistry()
	reg := registry.New()

	tr, err := transport.NewBrokerTransport(cfg.NATS, logger)
	if err != nil {
		logger.Fatal("connect to nats failed", zap.Error(err))
	}

	dispatcher := broker.NewDispatcher(reg, tr, metricsRegistry, logger)
	ticker := broker.NewTicker(reg, tr, metricsRegistry, logger, cfg.Broker.HeartbeatInterval)
	b := broker.New(tr, dispatcher, ticker, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- b.Run(ctx)
	}()

	httpErrCh := make(chan error, 1)
	if cfg.Metrics.Enabled {
		go func() {
			httpErrCh <- runHTTPServer(ctx, cfg, reg, metricsRegistry, logger)
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-runErrCh:
		if err != nil {
			logger.Error("broker run error", zap.Error(err))
		}
		stop()
	case err := <-httpErrCh:
		if err != nil {
			logger.Error("http server error", zap.Error(err))
		}
		stop()
	}

	b.Stop()
	logger.Info("broker exited")
}

func runHTTPServer(ctx context.Context, cfg config.Config, reg *registry.Registry, metricsRegistry *metrics.Registry, logger *zap.Logger) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"status":     "healthy",
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
			"clients":    reg.ClientCount(),
			"publishers": reg.PublisherCount(),
			"system":     systemStats(),
		})
	})

	mux.Handle("/metrics", metricsRegistry.Handler())

	httpServer := &http.Server{
		Addr:         cfg.Metrics.ListenAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics http server starting", zap.String("addr", cfg.Metrics.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics http server shutdown error", zap.Error(err))
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

// systemStats surfaces host memory and goroutine counts for the health
// endpoint, backed by gopsutil rather than runtime.MemStats alone.
func systemStats() map[string]any {
	stats := map[string]any{
		"goroutines": runtime.NumGoroutine(),
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		stats["memory_used_percent"] = vm.UsedPercent
		stats["memory_total"] = vm.Total
	}
	return stats
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
