package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fleet-monitor/telemetry/internal/analytics"
	"fleet-monitor/telemetry/internal/auth"
	"fleet-monitor/telemetry/internal/broker"
	"fleet-monitor/telemetry/internal/config"
	"fleet-monitor/telemetry/internal/ingest"
	"fleet-monitor/telemetry/internal/live"
	"fleet-monitor/telemetry/internal/metrics"
	"fleet-monitor/telemetry/internal/pipeline"
	"fleet-monitor/telemetry/internal/store"
	httptransport "fleet-monitor/telemetry/internal/transport/http"
	"fleet-monitor/telemetry/internal/transport/mqtt"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	metrics.RegisterDefault()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Primary sink and reader
	var (
		sink   pipeline.BatchSink
		reader store.Reader
	)
	switch cfg.Store {
	case "timescale":
		ts, err := store.NewTimescaleStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer ts.Close()
		sink, reader = ts, ts
		logger.Info("timescale store ready", "host", cfg.DBHost, "db", cfg.DBName)
	default:
		mem := store.NewMemory(cfg.MemoryStoreCapacity)
		sink, reader = mem, mem
		logger.Info("in-memory store ready", "capacity_per_device", cfg.MemoryStoreCapacity)
	}

	// Mirrors, live state and API keys
	hub := live.NewBroker()
	var (
		mirrors   []pipeline.Mirror
		keyLookup auth.KeyLookup
	)
	if cfg.RedisAddr != "" {
		rs, err := store.NewRedisStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer rs.Close()
		mirrors = append(mirrors, pipeline.NewStateWriter(rs))
		keyLookup = rs

		go func() {
			if err := rs.Relay(ctx, hub.Publish); err != nil {
				logger.Error("live relay stopped", "err", err)
			}
		}()
		logger.Info("redis live state enabled", "addr", cfg.RedisAddr)
	} else {
		mirrors = append(mirrors, pipeline.NewStateWriter(hub))
	}

	if len(cfg.KafkaBrokers) > 0 {
		km := broker.NewKafkaMirror(cfg)
		defer func() {
			if err := km.Close(); err != nil {
				logger.Warn("kafka writer close failed", "err", err)
			}
		}()
		mirrors = append(mirrors, km)
		logger.Info("kafka mirror enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	if cfg.InfluxURL != "" {
		im := store.NewInfluxMirror(cfg)
		defer im.Close()
		mirrors = append(mirrors, im)
		logger.Info("influx mirror enabled", "url", cfg.InfluxURL, "bucket", cfg.InfluxBucket)
	}

	// Pipeline
	dispatcher := pipeline.NewDispatcher(sink, logger, mirrors...)
	buf := pipeline.NewBuffer(dispatcher, pipeline.BufferConfig{
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.BatchFlushInterval,
		RetryBackoff:  cfg.BatchRetryBackoff,
	}, logger)
	buf.Start(ctx)

	ingestSvc := ingest.NewService(buf, logger)
	analyticsSvc := analytics.NewService(reader, cfg, cfg.AnalyticsWorkers, logger)
	authenticator := auth.NewAuthenticator(cfg, keyLookup, logger)
	if !authenticator.Enabled() {
		logger.Warn("no API keys configured, ingestion is unauthenticated")
	}

	api := httptransport.NewServer(ingestSvc, analyticsSvc, hub, authenticator, httptransport.Options{
		SystemCost:      cfg.SystemCost,
		IngestRateLimit: cfg.IngestRateLimit,
		IngestRateBurst: cfg.IngestRateBurst,
	}, logger)
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var sub *mqtt.Subscriber
	if cfg.MQTTBroker != "" {
		sub = mqtt.NewSubscriber(cfg, ingestSvc, logger)
		go func() {
			if err := sub.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("mqtt subscriber failed", "err", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case serveErr = <-errCh:
	}

	// Producers first, then the final flush, then the stores close via defer.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if sub != nil {
		sub.Stop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "err", err)
	}
	buf.Stop(shutdownCtx)
	logger.Info("shutdown complete")
	return serveErr
}
