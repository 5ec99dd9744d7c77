package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storepulse/internal/config"
	"storepulse/internal/control"
	"storepulse/internal/insights"
	"storepulse/internal/notify"
	"storepulse/internal/queue"
	"storepulse/internal/storage"
	"storepulse/internal/transcriber"
	"storepulse/internal/worker"
	"storepulse/pkg/cache"
	"storepulse/pkg/logger"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// Load .env file
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		panic("Failed to load config: " + err.Error())
	}

	if err := logger.Init(cfg.App.Debug); err != nil {
		panic("Failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("Starting storepulse worker service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Pick the record store: direct Postgres or the control API facade.
	// Workers behave identically against either.
	var controlSurface worker.Control

	switch cfg.Control.Mode {
	case "http":
		client := control.NewClient(cfg.Control.BaseURL)
		if err := client.Ping(ctx); err != nil {
			logger.Fatal("Control API unreachable", zap.Error(err))
			return
		}
		controlSurface = client
		logger.Info("Using control API", zap.String("base_url", cfg.Control.BaseURL))

	default:
		store, err := storage.NewFeedbackStore(ctx, cfg.Postgres.DSN, cfg.Postgres.MigrationsPath)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
			return
		}
		defer store.Close()
		controlSurface = store

		// The direct-mode worker also sweeps records orphaned in
		// processing by a crashed worker.
		go worker.RunReclaimer(ctx, store,
			time.Duration(cfg.Worker.ReclaimSweepMinutes)*time.Minute,
			time.Duration(cfg.Worker.ReclaimAfterMinutes)*time.Minute)

		logger.Info("Database connection established")
	}

	// Optional S3 object store for media referenced by s3:// URL.
	var objects *storage.ObjectStore
	if cfg.S3.Endpoint != "" {
		objects, err = storage.NewObjectStore(
			cfg.S3.Endpoint,
			cfg.S3.AccessKey,
			cfg.S3.SecretKey,
			cfg.S3.Bucket,
			cfg.S3.Region,
		)
		if err != nil {
			logger.Fatal("Failed to initialize S3 object store", zap.Error(err))
			return
		}
		logger.Info("S3 object store initialized", zap.String("bucket", cfg.S3.Bucket))
	}

	media := storage.NewMediaResolver(cfg.Uploads.Dir, objects)

	engine := transcriber.New(transcriber.Config{
		WhisperBin: cfg.Whisper.CLIPath,
		ModelPath:  cfg.Whisper.ModelPath,
		Language:   cfg.Whisper.Language,
		BeamSize:   cfg.Whisper.BeamSize,
		Translate:  cfg.Whisper.Translate,
		Timeout:    time.Duration(cfg.Whisper.TimeoutSeconds) * time.Second,
	})
	if err := engine.CheckDependencies(); err != nil {
		logger.Warn("Transcription dependencies missing, records will fail until fixed",
			zap.Error(err))
	}

	analyzer := insights.NewClient(insights.Config{
		URL:               cfg.LLM.URL,
		APIKey:            cfg.LLM.APIKey,
		TargetServer:      cfg.LLM.TargetServer,
		MaxTokens:         cfg.LLM.MaxTokens,
		Temperature:       cfg.LLM.Temperature,
		Timeout:           time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		RequestsPerMinute: cfg.LLM.RequestsPerMinute,
	})

	interval := time.Duration(cfg.Worker.PollIntervalSeconds) * time.Second

	transcriptionWorker := worker.NewTranscriptionWorker(
		controlSurface, media, engine, interval, cfg.Worker.TranscriptionBatch)
	analysisWorker := worker.NewAnalysisWorker(
		controlSurface, analyzer, interval, cfg.Worker.AnalysisBatch)

	// Optional Redis cache so a retried record with an unchanged
	// transcript skips the LLM call.
	if cfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, 24*time.Hour)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
			return
		}
		defer redisCache.Close()
		analysisWorker.WithResultCache(redisCache)
		logger.Info("Redis cache connection established")
	}

	// Optional RabbitMQ publisher for terminal stage transitions.
	if cfg.RabbitMQ.URL != "" {
		publisher, err := queue.NewPublisher(cfg.RabbitMQ.URL)
		if err != nil {
			logger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
			return
		}
		defer publisher.Close()
		transcriptionWorker.WithEvents(publisher)
		analysisWorker.WithEvents(publisher)
		logger.Info("RabbitMQ connection established")
	}

	// Optional Telegram alerts on stage failures.
	if cfg.Telegram.Token != "" && cfg.Telegram.OpsChatID != 0 {
		notifier, err := notify.NewTelegramNotifier(cfg.Telegram.Token, cfg.Telegram.OpsChatID)
		if err != nil {
			logger.Fatal("Failed to create Telegram notifier", zap.Error(err))
			return
		}
		transcriptionWorker.WithAlerts(notifier)
		analysisWorker.WithAlerts(notifier)
		logger.Info("Telegram ops notifier initialized")
	}

	go transcriptionWorker.Run(ctx)
	go analysisWorker.Run(ctx)

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	cancel()

	logger.Info("Worker service shutdown complete")
}
