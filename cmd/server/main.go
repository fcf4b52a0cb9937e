package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/krazio-01/whisperwave/internal/api"
	"github.com/krazio-01/whisperwave/internal/api/middleware"
	"github.com/krazio-01/whisperwave/internal/config"
	"github.com/krazio-01/whisperwave/internal/handlers"
	"github.com/krazio-01/whisperwave/internal/mail"
	"github.com/krazio-01/whisperwave/internal/realtime"
	"github.com/krazio-01/whisperwave/internal/store"
	"github.com/krazio-01/whisperwave/internal/token"
	"github.com/krazio-01/whisperwave/internal/upload"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	// Run migrations
	if cfg.DatabaseURL != "" {
		logger.Info().Msg("running database migrations...")
		if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		logger.Info().Msg("migrations completed")
	}

	// Initialize the persistent store: PostgreSQL when configured, SQLite
	// for single-node and development setups
	var db store.DataStore
	if cfg.DatabaseURL != "" {
		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		db = pgStore
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		sqliteStore, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		db = sqliteStore
		logger.Info().Str("path", cfg.SQLitePath).Msg("using SQLite")
	}
	defer db.Close()

	// Initialize Redis store
	var redisStore *store.RedisStore
	if cfg.RedisURL != "" {
		var err error
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		logger.Info().Msg("connected to Redis")
	}

	// Realtime core: presence, active rooms, hub, delivery dispatcher
	presence := realtime.NewPresenceTable()
	rooms := realtime.NewActiveRoomIndex()
	hub := realtime.NewHub(presence, rooms, logger)

	var cache realtime.MessageCache
	if redisStore != nil {
		cache = redisStore
	}
	dispatcher := realtime.NewDispatcher(db, presence, rooms, hub, cache, logger)
	hub.SetDeliverer(dispatcher)

	// Supporting services
	blobs, err := upload.NewLocalStore(cfg.UploadDir, cfg.BaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare upload directory")
	}
	mailer := mail.LogMailer{Logger: logger}
	tokens := token.NewIssuer(cfg.JWTSecret)

	h := handlers.NewHandler(db, redisStore, dispatcher, mailer, blobs, tokens, cfg.BaseURL, logger)
	auth := middleware.NewAuthMiddleware(tokens)

	// Create router
	router := api.NewRouter(api.Deps{
		Config:    cfg,
		Logger:    logger,
		Redis:     redisStore,
		Hub:       hub,
		Handler:   h,
		Auth:      auth,
		UploadDir: blobs.Dir(),
	})

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting WhisperWave server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
