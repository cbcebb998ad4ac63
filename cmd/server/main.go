package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"taxdesk/internal/platform/config"
	"taxdesk/internal/platform/httpserver"
	"taxdesk/internal/platform/logger"
	"taxdesk/internal/platform/metrics"
	"taxdesk/internal/platform/middleware"
	"taxdesk/internal/recordstore"
	rsmetrics "taxdesk/internal/recordstore/metrics"
	"taxdesk/internal/recordstore/store"
	"taxdesk/internal/syncctl"
	"taxdesk/internal/syncctl/handler"
	ctlmetrics "taxdesk/internal/syncctl/metrics"
	"taxdesk/pkg/platform/circuit"
)

// main wires the console: record store client, synchronization controller
// and the HTTP API in front of it.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	client, closeStore, err := newRecordStore(ctx, cfg, log, reg)
	if err != nil {
		return err
	}
	defer closeStore()

	ctl := syncctl.New(client,
		syncctl.WithLogger(log),
		syncctl.WithMetrics(ctlmetrics.New(reg)),
		syncctl.WithCallTimeout(cfg.CallTimeout),
	)

	r := newRouter(ctl, log, reg)

	// Load the table once at startup, as the console shows it on open.
	ctl.Refresh(ctx)

	srv := httpserver.New(cfg.Addr, r)
	log.InfoContext(ctx, "starting taxdesk console",
		"addr", cfg.Addr,
		"record_store", storeDescription(cfg),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := httpserver.Run(gctx, srv, cfg.ShutdownGrace)
		// Drain once handlers stop issuing commands. Calls are bounded by
		// CallTimeout, so this ends.
		ctl.Wait()
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("console server: %w", err)
	}
	log.Info("taxdesk console stopped")
	return nil
}

// newRouter assembles the console API with health and metrics endpoints.
func newRouter(ctl handler.Controller, log *slog.Logger, reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(log))
	r.Use(middleware.Latency(metrics.New(reg, "taxdesk_console")))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	handler.New(ctl, log).Register(r)
	return r
}

// newRecordStore returns an HTTP client when RECORD_STORE_URL is set and an
// in-process store otherwise.
func newRecordStore(ctx context.Context, cfg config.Server, log *slog.Logger, reg prometheus.Registerer) (recordstore.Client, func(), error) {
	if cfg.RecordStore.URL == "" {
		backend, closeFn, err := store.Open(ctx, cfg.Store, log)
		if err != nil {
			return nil, nil, fmt.Errorf("open record store: %w", err)
		}
		return recordstore.NewLocal(backend), closeFn, nil
	}

	breaker := circuit.New("recordstore",
		circuit.WithFailureThreshold(cfg.RecordStore.Breaker.FailureThreshold),
		circuit.WithSuccessThreshold(cfg.RecordStore.Breaker.SuccessThreshold),
		circuit.WithCooldown(cfg.RecordStore.Breaker.Cooldown),
	)
	client, err := recordstore.NewHTTPClient(cfg.RecordStore.URL, cfg.RecordStore.Timeout,
		recordstore.WithBreaker(breaker),
		recordstore.WithMetrics(rsmetrics.New(reg)),
		recordstore.WithLogger(log),
	)
	if err != nil {
		return nil, nil, err
	}
	return client, func() {}, nil
}

func storeDescription(cfg config.Server) string {
	if cfg.RecordStore.URL != "" {
		return cfg.RecordStore.URL
	}
	return "in-process " + cfg.Store.Backend
}
