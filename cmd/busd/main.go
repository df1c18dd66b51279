// busd runs the Crisalid bus consumer fleet: one supervised AMQP connection
// per active tenant, a task worker for deferred handlers, and a Prometheus
// endpoint.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/projects-backend/crisalidbus/internal/runtime"
	"github.com/projects-backend/crisalidbus/internal/runtime/config"
	"github.com/projects-backend/crisalidbus/internal/runtime/events"
	"github.com/projects-backend/crisalidbus/internal/runtime/logging"
	"github.com/projects-backend/crisalidbus/internal/runtime/metrics"
	"github.com/projects-backend/crisalidbus/internal/runtime/tasks"
)

func main() {
	if err := run(); err != nil {
		slog.Error("busd terminated", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	slogger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	log := logging.NewSlogLogger(slogger)

	busMetrics := metrics.NewBus(nil)
	if err := busMetrics.Register(); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	transport, err := tasks.NewTransport(cfg.TasksTransport, tasks.TransportOptions{AMQPURL: cfg.TasksAMQPURL}, logging.NewWatermillAdapter(log))
	if err != nil {
		return err
	}
	bridge := tasks.NewBridge(transport.Publisher, log, busMetrics)
	worker, err := tasks.NewWorker(bridge, transport.Subscriber, log)
	if err != nil {
		return err
	}

	registry := runtime.NewRegistry()
	store := events.NewLogStore(log)
	if err := events.RegisterDirectoryHandlers(registry, store, events.Options{Bridge: bridge}); err != nil {
		return err
	}

	supervisor := runtime.NewSupervisor(registry, log, runtime.SupervisorOptions{
		StopTimeout: cfg.StopTimeout,
		Metrics:     busMetrics,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	workerDone := make(chan error, 1)
	go func() {
		workerDone <- worker.Run(ctx)
	}()

	if cfg.MetricsEnabled {
		addr := fmt.Sprintf(":%d", cfg.MetricsPort)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		log.Info("starting metrics server", logging.LogFields{"address": addr})
		go func() {
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Error("metrics server stopped", err, logging.LogFields{"address": addr})
			}
		}()
	}

	tenants := config.FileStore{Path: cfg.TenantsFile}
	if err := supervisor.StartAll(ctx, tenants); err != nil {
		return err
	}
	log.Info("crisalid bus supervisor running", logging.LogFields{"tenants": supervisor.Running()})

	<-ctx.Done()
	log.Info("shutting down", nil)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()
	supervisor.Shutdown(shutdownCtx)

	if err := worker.Close(); err != nil {
		log.Error("close task worker", err, nil)
	}
	select {
	case err := <-workerDone:
		if err != nil {
			log.Error("task worker stopped with error", err, nil)
		}
	case <-shutdownCtx.Done():
	}

	return nil
}
