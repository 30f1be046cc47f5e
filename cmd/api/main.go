package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/knockme-app/knockme-backend/config"
	"github.com/knockme-app/knockme-backend/internal/alerts/service"
	"github.com/knockme-app/knockme-backend/internal/auth"
	"github.com/knockme-app/knockme-backend/internal/bootstrap"
	"github.com/knockme-app/knockme-backend/internal/maintenance"
	"github.com/knockme-app/knockme-backend/internal/profiles"
	"github.com/knockme-app/knockme-backend/internal/session"
	"github.com/knockme-app/knockme-backend/internal/store"
)

const serviceName = "knockme-backend"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clients, err := auth.InitializeFirebase(ctx, &cfg.Firebase)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize Firebase")
	}
	defer clients.Firestore.Close()

	rdb, err := bootstrap.OpenRedis(ctx, &cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer rdb.Close()

	adapter := store.NewAdapter(clients.Firestore)

	registry := session.NewRegistry(ctx, func(sessionCtx context.Context) (*auth.Adapter, *service.Aggregator) {
		identity := auth.NewAdapter(clients.Auth, adapter)
		cache := profiles.NewCache(sessionCtx, adapter)
		feed := service.NewAggregator(sessionCtx, adapter, identity, cache, service.Options{
			TickInterval:   cfg.Feed.TickInterval,
			SplashDuration: cfg.Feed.SplashDuration,
			KnockBurst:     cfg.Feed.KnockBurst,
			KnockPerMinute: cfg.Feed.KnockPerMinute,
		})
		return identity, feed
	})
	defer registry.CloseAll()

	resume := session.NewResumeRepository(rdb, cfg.Feed.ResumeTTL)

	sweeper := maintenance.NewScheduler(registry, cfg.Feed.SessionIdleTimeout)
	sweeper.Start()
	defer sweeper.Stop()

	router := bootstrap.BuildRouter(bootstrap.RouterDeps{
		ServiceName: serviceName,
		Version:     cfg.App.Version,
		Environment: cfg.App.Environment,
		AuthClient:  clients.Auth,
		Redis:       rdb,
		Registry:    registry,
		Resume:      resume,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.App.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.App.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
