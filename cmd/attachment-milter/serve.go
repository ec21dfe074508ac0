package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/infodancer/attachment-milter/internal/config"
	"github.com/infodancer/attachment-milter/internal/dispatch"
	"github.com/infodancer/attachment-milter/internal/eventlog"
	"github.com/infodancer/attachment-milter/internal/logging"
	"github.com/infodancer/attachment-milter/internal/metrics"
	"github.com/infodancer/attachment-milter/internal/server"
)

func runServe(args []string) {
	flags, err := config.ParseFlags("serve", args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	cfg, err := config.LoadWithFlags(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	sink, err := eventlog.Open(ctx, eventlog.Config{
		Type:      eventlog.Type(cfg.EventLog.Type),
		QueueSize: cfg.EventLog.QueueSize,
		Path:      cfg.EventLog.Path,
		Redis: eventlog.RedisConfig{
			Addr:     cfg.EventLog.Redis.Address,
			Password: cfg.EventLog.Redis.Password,
			DB:       cfg.EventLog.Redis.DB,
			Key:      cfg.EventLog.Redis.Key,
		},
		Output: os.Stdout,
	}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening event log: %v\n", err)
		os.Exit(1)
	}

	collector, metricsServer := metrics.New(metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Address: cfg.Metrics.Address,
		Path:    cfg.Metrics.Path,
	})
	go func() {
		if err := metricsServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	dispatcher := dispatch.NewHTTPDispatcher(cfg.Dispatch.URL, cfg.Timeouts.DispatchTimeout())
	handler := &milterHandler{
		sink:     sink,
		pipeline: dispatch.NewPipeline(dispatcher, cfg.Dispatch.Concurrency),
		metrics:  collector,
	}

	srv, err := server.New(&cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating server: %v\n", err)
		os.Exit(1)
	}
	srv.SetMilter(handler.newMilter)
	srv.SetMetrics(collector)

	logger.Info("starting attachment-milter",
		"name", cfg.Name,
		"listeners", len(cfg.Listeners),
		"dispatch_url", dispatcher.URL(),
		"event_log", cfg.EventLog.Type)

	runErr := srv.Run(ctx)

	// Connections have finished; drain the event log before exiting.
	if err := sink.Close(); err != nil {
		logger.Error("error closing event log", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("error stopping metrics server", "error", err)
	}

	logger.Info("attachment-milter stopped")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		fmt.Fprintf(os.Stderr, "server error: %v\n", runErr)
		os.Exit(1)
	}
}
