package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/your-org/guestlens/internal/ingestion"
	"github.com/your-org/guestlens/internal/media"
	"github.com/your-org/guestlens/internal/pipeline"
	"github.com/your-org/guestlens/internal/quota"
	"github.com/your-org/guestlens/internal/ratelimit"
	"github.com/your-org/guestlens/internal/thumbnail"
	"github.com/your-org/guestlens/internal/validate"
	"github.com/your-org/guestlens/pkg/config"
	"github.com/your-org/guestlens/pkg/kafka"
	"github.com/your-org/guestlens/pkg/logger"
	"github.com/your-org/guestlens/pkg/metrics"
	"github.com/your-org/guestlens/pkg/storage/objectstore"
	"github.com/your-org/guestlens/pkg/tracing"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logr, err := logger.New(cfg.App.LogLevel, cfg.App.LogEncoding)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	traceShutdown, err := tracing.Init(ctx, tracing.Config{
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SampleRatio:    cfg.Tracing.SampleRatio,
		Attributes:     tracing.ParseResourceAttributes(cfg.Tracing.ResourceAttr),
		ServiceName:    cfg.App.Name,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
	})
	if err != nil {
		logr.Fatal("init tracing", zap.Error(err))
	}
	defer traceShutdown(context.Background()) //nolint:errcheck

	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.Kafka.Brokers,
		Topic:        cfg.Kafka.Topic,
		BatchSize:    cfg.Kafka.BatchSize,
		BatchTimeout: cfg.Kafka.BatchTimeout,
		Compression:  kafka.CompressionFromString(cfg.Kafka.CompressionCodec),
		RequiredAcks: kafkago.RequireAll,
		MaxAttempts:  cfg.Kafka.Retries,
	})

	store, err := objectstore.New(objectstore.Config{
		Provider:  cfg.Storage.Provider,
		Endpoint:  cfg.Storage.Endpoint,
		Region:    cfg.Storage.Region,
		Bucket:    cfg.Storage.Bucket,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
	})
	if err != nil {
		logr.Fatal("init object store", zap.Error(err))
	}

	registry := metrics.New(cfg.Metrics.Namespace)

	windows := ratelimit.NewMemoryStore()
	go windows.RunJanitor(ctx, cfg.RateLimit.SweepInterval, logr)

	orchestrator := pipeline.New(pipeline.Params{
		Signature: validate.NewSignatureValidator(),
		Inspector: validate.NewContentInspector(validate.Policy{
			MaxPhotoBytes:     cfg.Policy.MaxPhotoBytes,
			MaxVideoBytes:     cfg.Policy.MaxVideoBytes,
			MinImageDimension: cfg.Policy.MinImageDimension,
			MaxImageDimension: cfg.Policy.MaxImageDimension,
			MaxVideoDuration:  cfg.Policy.MaxVideoDuration,
			MinVideoDimension: cfg.Policy.MinVideoDimension,
			DecodeTimeout:     cfg.Policy.DecodeTimeout,
		}, logr),
		Scanner: validate.NewPatternScanner(),
		Limiter: ratelimit.New(windows, ratelimit.Config{
			Rules:    rateLimitRules(cfg.RateLimit),
			FailOpen: cfg.RateLimit.FailOpen,
		}, logr),
		Quota: quota.NewEnforcer(
			quota.StaticLimits{MaxTotal: cfg.Quota.MaxPerEvent, MaxPerCaller: cfg.Quota.MaxPerContributor},
			quota.NewObjectCounter(store),
			quota.Config{FailOpen: cfg.Quota.FailOpen},
			logr,
		),
		Metrics: registry,
		Logger:  logr,
	})

	thumbs := thumbnail.New(thumbnail.FFmpegDecoder{Path: cfg.Thumbnail.FFmpegPath}, thumbnail.Config{
		Width:     cfg.Thumbnail.Width,
		Quality:   cfg.Thumbnail.Quality,
		Timeout:   cfg.Thumbnail.Timeout,
		MaxPixels: cfg.Thumbnail.MaxPixels,
	}, logr)

	service := ingestion.NewService(ingestion.Params{
		Evaluator:   orchestrator,
		Store:       store,
		Publisher:   producer,
		Thumbnailer: thumbs,
		Logger:      logr,
	})

	handler := ingestion.NewHTTPHandler(service, logr, ingestion.HTTPConfig{
		MaxSizeBytes:   cfg.Upload.MaxSizeBytes,
		FormMemBytes:   cfg.Upload.MultipartMemBytes,
		RequestTimeout: cfg.HTTP.RequestTimeout,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", registry.Handler())
	metricsServer := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logr.Info("ingestion service starting",
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("metrics_addr", cfg.Metrics.Addr),
		zap.Bool("rate_limit_fail_open", cfg.RateLimit.FailOpen),
		zap.Bool("quota_fail_open", cfg.Quota.FailOpen),
	)
	if err := serve(ctx, logr, server, metricsServer, service, 30*time.Second); err != nil {
		logr.Fatal("http server failed", zap.Error(err))
	}
	logr.Info("ingestion service stopped")
}

func rateLimitRules(cfg config.RateLimitConfig) map[media.Kind][]ratelimit.Rule {
	return map[media.Kind][]ratelimit.Rule{
		media.KindPhoto: {
			{Name: "hour", Window: time.Hour, Max: cfg.PhotoPerHour},
			{Name: "day", Window: 24 * time.Hour, Max: cfg.PhotoPerDay},
		},
		media.KindVideo: {
			{Name: "hour", Window: time.Hour, Max: cfg.VideoPerHour},
			{Name: "day", Window: 24 * time.Hour, Max: cfg.VideoPerDay},
		},
	}
}
