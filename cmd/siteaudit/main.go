// Package main wires together the audit service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/convertlab/siteaudit/internal/api"
	"github.com/convertlab/siteaudit/internal/audit"
	"github.com/convertlab/siteaudit/internal/backoff"
	"github.com/convertlab/siteaudit/internal/clock"
	"github.com/convertlab/siteaudit/internal/collector"
	"github.com/convertlab/siteaudit/internal/config"
	"github.com/convertlab/siteaudit/internal/detector"
	"github.com/convertlab/siteaudit/internal/id"
	"github.com/convertlab/siteaudit/internal/insight"
	"github.com/convertlab/siteaudit/internal/logging"
	"github.com/convertlab/siteaudit/internal/metrics"
	"github.com/convertlab/siteaudit/internal/pagespeed"
	"github.com/convertlab/siteaudit/internal/pipeline"
	memorypublisher "github.com/convertlab/siteaudit/internal/publisher/memory"
	pubsubpublisher "github.com/convertlab/siteaudit/internal/publisher/pubsub"
	"github.com/convertlab/siteaudit/internal/store"
	gcsstorage "github.com/convertlab/siteaudit/internal/storage/gcs"
	localstorage "github.com/convertlab/siteaudit/internal/storage/local"
	memorystorage "github.com/convertlab/siteaudit/internal/storage/memory"
	"github.com/convertlab/siteaudit/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, closeRepo, err := buildRecordStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("record store init failed", zap.Error(err))
	}
	defer closeRepo()
	blobs, err := buildBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}
	publisher, closePublisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal("publisher init failed", zap.Error(err))
	}
	defer closePublisher()

	collect, err := collector.NewDefault(collector.Config{
		UserAgent:          cfg.Collector.UserAgent,
		ProbeTimeout:       time.Duration(cfg.Collector.ProbeTimeoutSec) * time.Second,
		NavigationTimeout:  time.Duration(cfg.Collector.NavTimeoutSec) * time.Second,
		MaxParallelRenders: cfg.Collector.HeadlessMaxParallel,
		SnapshotPrefix:     cfg.Storage.Prefix,
		HeadlessEnabled:    cfg.Collector.HeadlessEnabled,
	}, blobs, logger.Named("collector"))
	if err != nil {
		logger.Fatal("collector init failed", zap.Error(err))
	}

	detect := detector.New(detector.Config{
		BaseURL: cfg.Detector.BaseURL,
		APIKey:  cfg.Detector.APIKey,
		Timeout: time.Duration(cfg.Detector.TimeoutSec) * time.Second,
		Retry:   retryConfig(cfg.Detector.Retry),
	}, logger.Named("detector"))

	scorer := pagespeed.New(pagespeed.Config{
		BaseURL: cfg.PageSpeed.BaseURL,
		APIKey:  cfg.PageSpeed.APIKey,
		Timeout: time.Duration(cfg.PageSpeed.TimeoutSec) * time.Second,
		Retry:   retryConfig(cfg.PageSpeed.Retry),
	}, logger.Named("pagespeed"))

	insights := insight.New(insight.Config{
		APIKey: cfg.Insights.APIKey,
		Model:  cfg.Insights.Model,
		Retry:  retryConfig(cfg.Insights.Retry),
	}, logger.Named("insight"))

	sysClock := clock.System{}
	orchestrator := pipeline.New(pipeline.Config{
		ContentTimeout:      time.Duration(cfg.Pipeline.ContentTimeoutSec) * time.Second,
		TechnologiesTimeout: time.Duration(cfg.Pipeline.TechnologiesTimeoutSec) * time.Second,
		PerformanceTimeout:  time.Duration(cfg.Pipeline.PerformanceTimeoutSec) * time.Second,
		InsightsTimeout:     time.Duration(cfg.Pipeline.InsightsTimeoutSec) * time.Second,
		PerformanceStrategy: cfg.PageSpeed.Strategy,
		TotalBudget:         time.Duration(cfg.Pipeline.TotalBudgetSec) * time.Second,
		CompletionTopic:     cfg.PubSub.TopicName,
	}, repo, collect, detect, scorer, insights, publisher, sysClock, logger.Named("pipeline"))

	runner := pipeline.NewRunner(orchestrator,
		time.Duration(cfg.Pipeline.RunTimeoutSec)*time.Second, logger.Named("runner"))

	apiServer := api.NewServer(repo, runner, id.UUIDGenerator{}, sysClock, api.Options{
		TotalBudget:    orchestrator.TotalBudget(),
		RequestTimeout: cfg.Server.RequestTimeoutDuration(),
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeoutDuration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := runner.Shutdown(shutdownCtx); err != nil {
		logger.Warn("runs still in flight at shutdown", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func retryConfig(rc config.RetryConfig) backoff.Config {
	return backoff.Config{
		MaxAttempts:  rc.MaxAttempts,
		InitialDelay: time.Duration(rc.InitialDelayMs) * time.Millisecond,
	}
}

func buildRecordStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.RecordRepository, func(), error) {
	if cfg.DB.DSN == "" {
		logger.Warn("no database configured, using in-memory record store")
		return memorystorage.NewRecordStore(), func() {}, nil
	}
	recordStore, pool, err := postgres.Connect(ctx, cfg.DB.DSN)
	if err != nil {
		return nil, nil, err
	}
	return recordStore, pool.Close, nil
}

func buildBlobStore(ctx context.Context, cfg config.Config) (audit.BlobStore, error) {
	switch cfg.Storage.Backend {
	case "local":
		return localstorage.New(localstorage.Config{BaseDir: cfg.Storage.LocalDir})
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		return gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.Storage.GCSBucket})
	default:
		return memorystorage.NewBlobStore(), nil
	}
}

func buildPublisher(ctx context.Context, cfg config.Config) (audit.Publisher, func(), error) {
	if cfg.PubSub.TopicName == "" {
		return memorypublisher.New(), func() {}, nil
	}
	p, err := pubsubpublisher.New(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	return p, func() { _ = p.Close() }, nil
}
