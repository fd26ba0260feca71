package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/callquality/backend/internal/biztel"
	"github.com/callquality/backend/internal/config"
	"github.com/callquality/backend/internal/db"
	"github.com/callquality/backend/internal/emotion"
	httpapi "github.com/callquality/backend/internal/http"
	"github.com/callquality/backend/internal/llm"
	"github.com/callquality/backend/internal/lock"
	"github.com/callquality/backend/internal/service"
	"github.com/callquality/backend/internal/storage"
	"github.com/callquality/backend/internal/transcription"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	logger := log.Level(level).With().Str("service", "callquality-backend").Logger()

	loc, err := time.LoadLocation(cfg.SchedulerTimezone)
	if err != nil {
		logger.Warn().Err(err).Str("tz", cfg.SchedulerTimezone).Msg("unknown timezone, using UTC")
		loc = time.UTC
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect db")
	}
	defer store.Close()
	if err := store.Migrate(ctx, logger); err != nil {
		logger.Fatal().Err(err).Msg("migrations failed")
	}

	var blobs storage.Store
	if cfg.GCSBucket == "" {
		blobs = storage.NewMemoryStore()
		logger.Warn().Msg("GCS_BUCKET not set, recordings are kept in memory")
	} else {
		gcs, err := storage.NewGCSStore(ctx, cfg.GCSBucket, cfg.GCSCredentialsJSON)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open recording bucket")
		}
		defer gcs.Close()
		blobs = gcs
	}

	var transcriber transcription.Transcriber
	if cfg.OpenAIAPIKey == "" {
		transcriber = transcription.Mock{}
		logger.Info().Msg("using mock transcriber")
	} else {
		transcriber = transcription.NewWhisper(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.WhisperModel)
	}

	var emotions emotion.Analyzer
	if cfg.HumeAPIKey == "" {
		emotions = emotion.Mock{}
		logger.Info().Msg("using mock emotion analyzer")
	} else {
		hume := emotion.NewHumeClient(cfg.HumeAPIKey, cfg.HumeBaseURL)
		hume.PollInterval = cfg.HumePollInterval
		hume.MaxWait = cfg.HumeMaxWait
		emotions = hume
	}

	var provider llm.Provider
	llmKey := cfg.LLMAPIKey
	if llmKey == "" {
		llmKey = cfg.OpenAIAPIKey
	}
	if llmKey == "" {
		provider = llm.MockProvider{}
		logger.Info().Msg("using mock LLM provider")
	} else {
		provider = llm.NewOpenAIProvider(llmKey, cfg.LLMBaseURL, cfg.LLMModel, cfg.LLMMaxTokens)
	}

	clients := biztel.NewClientCache(cfg.BiztelClientCacheSize, cfg.BiztelClientCacheTTL, func(creds biztel.Credentials) *biztel.Client {
		c := biztel.NewClient(creds)
		c.MinInterval = cfg.BiztelMinInterval
		c.HTTPClient.Timeout = cfg.BiztelTimeout
		c.Location = loc
		return c
	})

	syncer := &service.SyncService{
		Repo:    store,
		Clients: clients,
		Storage: blobs,
		TTLDays: cfg.RecordingTTLDays,
		Logger:  logger.With().Str("component", "sync").Logger(),
	}
	pipeline := &service.Pipeline{
		Repo:        store,
		Storage:     blobs,
		Transcriber: transcriber,
		Emotion:     emotions,
		LLM:         &llm.Analyzer{Provider: provider},
		Language:    cfg.TranscriptionLanguage,
		MaxAttempts: cfg.PipelineMaxAttempts,
		RetryDelay:  cfg.PipelineRetryDelay,
		Logger:      logger.With().Str("component", "pipeline").Logger(),
	}
	queue := service.NewQueue(pipeline, cfg.WorkerConcurrency, cfg.QueueSize, logger.With().Str("component", "queue").Logger())

	var locker lock.Locker
	if cfg.RedisURL == "" {
		locker = lock.NewLocalLocker()
	} else {
		rl, err := lock.NewRedisLocker(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		if err := rl.Ping(ctx); err != nil {
			logger.Fatal().Err(err).Msg("redis unavailable")
		}
		defer rl.Close()
		locker = rl
	}

	scheduler := &service.Scheduler{
		Repo:    store,
		Sync:    syncer,
		Queue:   queue,
		Storage: blobs,
		Locker:  locker,
		Logger:  logger.With().Str("component", "scheduler").Logger(),
		Specs: service.CronSpecs{
			ProcessPending: cfg.CronProcessPending,
			DailySync:      cfg.CronDailySync,
			Cleanup:        cfg.CronCleanup,
		},
		Location: loc,
	}
	if cfg.SchedulerEnabled {
		if err := scheduler.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("scheduler failed to start")
		}
	}

	router := httpapi.Router(cfg, httpapi.Deps{
		Store:    store,
		Storage:  blobs,
		Sync:     syncer,
		Pipeline: pipeline,
		Jobs:     scheduler,
		Queue:    queue,
		Clients:  clients,
		Location: loc,
	}, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	stop()

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	select {
	case <-scheduler.Stop().Done():
	case <-ctxShutdown.Done():
	}
	if err := queue.Close(ctxShutdown); err != nil {
		logger.Warn().Err(err).Int("pending", queue.Pending()).Msg("queue did not drain")
	}
	logger.Info().Msg("server stopped")
}
