package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/adapters/auth"
	"github.com/dkeye/Huddle/internal/adapters/engine"
	router "github.com/dkeye/Huddle/internal/adapters/http"
	wsignal "github.com/dkeye/Huddle/internal/adapters/signal"
	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/app/orch"
	"github.com/dkeye/Huddle/internal/config"
	"github.com/dkeye/Huddle/internal/core"
)

func setupLogger(cfg config.LogConfig) {
	if cfg.Format != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Console output until the config says otherwise.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg.Log)

	workers := cfg.Engine.Workers
	if workers == 0 {
		workers = runtime.NumCPU()
	}
	pool := app.NewWorkerPool(engine.New(), app.PoolOptions{
		Size: workers,
		Settings: core.WorkerSettings{
			LogLevel:   cfg.Engine.LogLevel,
			RTCMinPort: cfg.Engine.RTCMinPort,
			RTCMaxPort: cfg.Engine.RTCMaxPort,
		},
	})
	sessions := app.NewRegistry(app.SimplePolicy{}, cfg.Session.ReconnectTimeout)
	rooms := app.NewRoomManager(pool, sessions, app.RoomOptions{
		Codecs:     cfg.Engine.Codecs,
		EmptyGrace: cfg.Session.EmptyRoomGrace,
	})
	o := orch.New(sessions, rooms, pool, cfg.Engine.CallTimeout)

	if err := pool.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("media workers failed to start")
	}

	corsPolicy := router.NewCORS(cfg.AllowedOrigins)
	ctrl := wsignal.NewSignalWSController(o,
		auth.NewVerifier(cfg.Auth.Secret, cfg.Auth.Issuer),
		wsignal.NewRoomRateLimiter(cfg.Limits.JoinAttempts, cfg.Limits.JoinInterval),
		wsignal.Options{
			ReadLimit:    cfg.ReadLimit,
			PingPeriod:   cfg.PingPeriod,
			WriteTimeout: cfg.WriteTimeout,
			SendQueue:    cfg.SendQueue,
			CheckOrigin:  router.CheckOrigin(corsPolicy),
		})
	r := router.SetupRouter(ctx, cfg, o, ctrl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           corsPolicy.Handler(r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Int("workers", workers).Msg("Huddle server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	rooms.Shutdown()
	pool.Close()
	log.Info().Msg("Server exited gracefully")
}
