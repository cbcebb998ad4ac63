package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"taxdesk/internal/platform/config"
	"taxdesk/internal/platform/httpserver"
	"taxdesk/internal/platform/logger"
	"taxdesk/internal/platform/metrics"
	"taxdesk/internal/platform/middleware"
	"taxdesk/internal/recordstore/server"
	"taxdesk/internal/recordstore/store"
)

// main serves the reference record store over HTTP/JSON.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.RecordStoreFromEnv()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, closeBackend, err := store.Open(ctx, cfg.Store, log)
	if err != nil {
		return fmt.Errorf("open record store: %w", err)
	}
	defer closeBackend()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	api := chi.NewRouter()
	api.Use(middleware.Recovery(log))
	api.Use(middleware.RequestID)
	api.Use(middleware.Logger(log))
	api.Use(middleware.Latency(metrics.New(reg, "taxdesk_recordstore")))
	server.New(backend, log).Register(api)

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Mount("/", otelhttp.NewHandler(api, "recordstore"))

	srv := httpserver.New(cfg.Addr, r)
	log.InfoContext(ctx, "starting taxdesk record store",
		"addr", cfg.Addr,
		"backend", cfg.Store.Backend,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Run(gctx, srv, cfg.ShutdownGrace)
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("record store server: %w", err)
	}
	log.Info("taxdesk record store stopped")
	return nil
}
