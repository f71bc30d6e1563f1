package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	captioner "github.com/snarg/tamil-captioner"
	"github.com/snarg/tamil-captioner/internal/api"
	"github.com/snarg/tamil-captioner/internal/config"
	"github.com/snarg/tamil-captioner/internal/database"
	"github.com/snarg/tamil-captioner/internal/metrics"
	"github.com/snarg/tamil-captioner/internal/mqttclient"
	"github.com/snarg/tamil-captioner/internal/pipeline"
	"github.com/snarg/tamil-captioner/internal/romanize"
	"github.com/snarg/tamil-captioner/internal/storage"
	"github.com/snarg/tamil-captioner/internal/transcribe"
	"github.com/snarg/tamil-captioner/internal/watch"
)

var version = "dev"

// jobStats feeds the live gauges in the metrics collector.
type jobStats struct {
	pipeline *pipeline.Pipeline
	pool     *watch.WorkerPool
}

func (s jobStats) InFlight() int { return s.pipeline.InFlight() }

func (s jobStats) WatchQueueDepth() int {
	if s.pool == nil {
		return 0
	}
	return s.pool.QueueDepth()
}

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file (default .env)")
	flag.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address (HTTP_ADDR)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (LOG_LEVEL)")
	flag.StringVar(&overrides.DatabaseURL, "database-url", "", "Postgres URL for job history (DATABASE_URL)")
	flag.StringVar(&overrides.CaptionDir, "caption-dir", "", "caption document directory (CAPTION_DIR)")
	flag.StringVar(&overrides.WatchDir, "watch-dir", "", "folder to caption automatically (WATCH_DIR)")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().
		Str("version", version).
		Str("stt_provider", cfg.STTProvider).
		Str("language", cfg.Language).
		Msg("tamil-captioner starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Transcription provider
	stt, err := transcribe.New(transcribe.Options{
		Provider: cfg.STTProvider,
		URL:      cfg.WhisperURL,
		Model:    cfg.WhisperModel,
		APIKey:   cfg.STTAPIKey,
		Keyterms: cfg.STTKeyterms,
		Timeout:  cfg.STTTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure transcription provider")
	}
	if cfg.PreprocessAudio && !transcribe.CheckFFmpeg() {
		log.Warn().Msg("PREPROCESS_AUDIO is set but ffmpeg is not in PATH; uploads are sent as-is")
	}

	// Romanization client; the credential arrives with each request.
	romanizer := romanize.NewClient(romanize.Config{
		Endpoint:    cfg.LLMURL,
		Model:       cfg.LLMModel,
		Instruction: cfg.RomanizeInstr,
		Timeout:     cfg.LLMTimeout,
	})

	// Caption storage
	storeLog := log.With().Str("component", "storage").Logger()
	store, services, err := storage.New(cfg.S3, cfg.CaptionDir, cfg.CaptionRetention, storeLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize caption storage")
	}
	for _, svc := range services {
		svc.Start()
	}

	opts := pipeline.Options{
		Transcriber: stt,
		Romanizer:   romanizer,
		Store:       store,
		Language:    cfg.Language,
		Temperature: cfg.Temperature,
		Prompt:      cfg.Prompt,
		BeamSize:    cfg.BeamSize,
		VadFilter:   cfg.VadFilter,
		Preprocess:  cfg.PreprocessAudio,
		Log:         log,
	}
	health := api.HealthOptions{
		Provider:  stt.Name(),
		Store:     store.Type(),
		Version:   version,
		StartTime: startTime,
	}
	var history api.JobHistory

	// Database (optional)
	var db *database.DB
	if cfg.DatabaseURL != "" {
		dbLog := log.With().Str("component", "database").Logger()
		db, err = database.Connect(ctx, cfg.DatabaseURL, dbLog)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()
		if err := db.InitSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to initialize schema")
		}
		if err := db.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate schema")
		}
		maint := database.NewMaintenance(db, cfg.HistoryRetention)
		maint.Start()
		defer maint.Stop()

		opts.History = db
		history = db
		health.DB = db
	}

	// MQTT (optional)
	if cfg.MQTTBrokerURL != "" {
		mqtt, err := mqttclient.Connect(mqttclient.Options{
			BrokerURL: cfg.MQTTBrokerURL,
			ClientID:  cfg.MQTTClientID,
			Topic:     cfg.MQTTTopic,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
			Log:       log.With().Str("component", "mqtt").Logger(),
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		defer mqtt.Close()
		opts.Events = mqtt
		health.MQTT = mqtt
	}

	pipe := pipeline.New(opts)

	// Watch folder (optional)
	var pool *watch.WorkerPool
	var watcher *watch.FileWatcher
	if cfg.WatchDir != "" {
		watchLog := log.With().Str("component", "watch").Logger()
		pool = watch.NewWorkerPool(watch.WorkerPoolOptions{
			Runner:  pipe,
			Workers: cfg.WatchWorkers,
			Log:     watchLog,
		})
		pool.Start()
		watcher = watch.NewFileWatcher(pool, cfg.WatchDir, watchLog)
		if err := watcher.Start(); err != nil {
			log.Fatal().Err(err).Str("dir", cfg.WatchDir).Msg("failed to start file watcher")
		}
		health.Watcher = watcher
	}

	// Metrics
	stats := jobStats{pipeline: pipe, pool: pool}
	collector := metrics.NewCollector(nil, stats)
	if db != nil {
		collector = metrics.NewCollector(db.Pool, stats)
	}
	prometheus.MustRegister(collector)

	// HTTP Server
	webFS, err := fs.Sub(captioner.WebFiles, "web")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load web templates")
	}
	srv, err := api.NewServer(api.ServerOptions{
		Config:  cfg,
		Runner:  pipe,
		History: history,
		Store:   store,
		WebFS:   webFS,
		Health:  health,
		Log:     log.With().Str("component", "http").Logger(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build http server")
	}

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	if watcher != nil {
		watcher.Stop()
	}
	if pool != nil {
		pool.Stop()
	}
	for i := len(services) - 1; i >= 0; i-- {
		services[i].Stop()
	}

	log.Info().Msg("tamil-captioner stopped")
}
