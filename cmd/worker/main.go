package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fiapx/fiapx-keyframe-service/internal/domain/keyframe"
	"github.com/fiapx/fiapx-keyframe-service/internal/httpapi"
	"github.com/fiapx/fiapx-keyframe-service/internal/infra/config"
	"github.com/fiapx/fiapx-keyframe-service/internal/infra/email"
	"github.com/fiapx/fiapx-keyframe-service/internal/infra/ffmpeg"
	"github.com/fiapx/fiapx-keyframe-service/internal/infra/metrics"
	miniostorage "github.com/fiapx/fiapx-keyframe-service/internal/infra/minio"
	"github.com/fiapx/fiapx-keyframe-service/internal/infra/postgres"
	"github.com/fiapx/fiapx-keyframe-service/internal/infra/rabbitmq"
	"github.com/fiapx/fiapx-keyframe-service/internal/infra/still"
	"github.com/fiapx/fiapx-keyframe-service/internal/infra/tracing"
	"github.com/fiapx/fiapx-keyframe-service/internal/infra/vidio"
	"github.com/fiapx/fiapx-keyframe-service/internal/usecase"
	"github.com/fiapx/fiapx-keyframe-service/pkg/logger"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	fatalOnErr(err, "load config")

	log, err := logger.New(cfg.LogLevel)
	fatalOnErr(err, "init logger")
	defer log.Sync()

	log.Info("starting fiapx-keyframe-service",
		zap.Float64("min_brightness", cfg.MinBrightness),
		zap.Float64("min_sharpness", cfg.MinSharpness),
		zap.String("source_backend", cfg.SourceBackend),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing (non-fatal if Jaeger unavailable)
	tp, err := tracing.InitTracer(ctx, cfg.JaegerEndpoint, cfg.TraceSampleRatio)
	if err != nil {
		log.Warn("tracing init failed, continuing without tracing", zap.Error(err))
	} else {
		defer tp.Shutdown(ctx)
	}

	// Database
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	fatalOnErr(err, "connect to postgres")
	defer pool.Close()

	if err := postgres.RunMigrations(cfg.DatabaseURL); err != nil {
		log.Warn("migration warning", zap.Error(err))
	}

	// MinIO
	storage, err := miniostorage.NewStorage(miniostorage.StorageConfig{
		Endpoint:    cfg.MinIOEndpoint,
		AccessKey:   cfg.MinIOAccessKey,
		SecretKey:   cfg.MinIOSecretKey,
		UseSSL:      cfg.MinIOUseSSL,
		VideoBucket: cfg.MinIOVideoBucket,
		StillBucket: cfg.MinIOStillBucket,
	})
	fatalOnErr(err, "create minio storage")
	fatalOnErr(storage.EnsureBuckets(ctx), "ensure minio buckets")

	// RabbitMQ publisher connection
	rmqConn, err := amqp.Dial(cfg.RabbitMQURL)
	fatalOnErr(err, "connect to rabbitmq for publisher")
	defer rmqConn.Close()

	pub, err := rabbitmq.NewPublisher(rmqConn, cfg.RabbitMQExchange)
	fatalOnErr(err, "create rabbitmq publisher")
	defer pub.Close()

	statusPub := rabbitmq.NewStatusPublisher(pub)
	dlqPub := rabbitmq.NewDLQPublisher(pub, cfg.RabbitMQDLQ)
	requestPub := rabbitmq.NewRequestPublisher(pub)

	// Infra adapters
	repo := postgres.NewJobRepository(pool)
	opener := newSourceOpener(cfg.SourceBackend, log)
	transcoder := ffmpeg.NewTranscoder(cfg.TranscodePreset, log)
	encoder, err := still.NewEncoder(cfg.StillFormat, cfg.StillQuality, cfg.StillMaxWidth)
	fatalOnErr(err, "create still encoder")
	notifier := email.NewSMTPNotifier(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, log)

	// Use case
	uc := usecase.NewProcessKeyframeUseCase(
		repo, storage, opener, transcoder, encoder,
		statusPub, dlqPub, notifier,
		log,
		usecase.ProcessKeyframeConfig{
			TempDir:    cfg.TempDir,
			MaxRetries: cfg.MaxRetries,
			Thresholds: cfg.Thresholds(),
			Transcode:  cfg.TranscodeEnabled,
		},
	)

	// Metrics and HTTP API
	metricsSrv := metrics.StartMetricsServer(ctx, cfg.MetricsPort, log, pool.Ping)
	apiSrv := httpapi.StartServer(ctx, cfg.HTTPPort, httpapi.NewHandler(uc, requestPub, repo, log).Routes(), log)

	// Consumer (worker pool)
	consumer, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL:         cfg.RabbitMQURL,
		Queue:       cfg.RabbitMQRequestQueue,
		Exchange:    cfg.RabbitMQExchange,
		DLQ:         cfg.RabbitMQDLQ,
		StatusQueue: cfg.RabbitMQStatusQueue,
		Prefetch:    cfg.RabbitMQPrefetch,
		WorkerCount: cfg.WorkerCount,
		BaseDelayMs: cfg.RetryBaseDelayMs,
	}, uc.Execute, log)
	fatalOnErr(err, "create consumer")

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	log.Info("fiapx-keyframe-service started, consuming messages")

	if err := consumer.Start(ctx); err != nil {
		log.Error("consumer error", zap.Error(err))
	}

	// Shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	apiSrv.Shutdown(shutdownCtx)
	metricsSrv.Shutdown(shutdownCtx)

	consumer.Close()
	log.Info("fiapx-keyframe-service stopped")
}

func newSourceOpener(backend string, log *zap.Logger) keyframe.Opener {
	if backend == config.BackendVidio {
		return vidio.NewSourceOpener(log)
	}
	return ffmpeg.NewSourceOpener(log)
}

func fatalOnErr(err error, msg string) {
	if err != nil {
		panic(msg + ": " + err.Error())
	}
}
