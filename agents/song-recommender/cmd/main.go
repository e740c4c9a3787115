package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	songrecommender "endless-chord/agents/song-recommender"
	"endless-chord/shared/config"
	"endless-chord/shared/logging"
	"endless-chord/shared/scheduler"
)

func main() {
	once := flag.Bool("once", false, "warm channel caches once and exit")
	resetSongs := flag.Bool("reset-songs", false, "delete every catalog song and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger := logging.Base()
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Configure(logging.Options{Level: cfg.Logging.Level, Service: "song-recommender"})
	logger := logging.WithComponent("main")

	// Create context that responds to signals
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	agent := songrecommender.NewSongRecommenderAgent(cfg)
	s := scheduler.New(cfg, agent)

	if err := agent.Initialize(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize agent")
	}
	defer agent.Close()

	if *resetSongs {
		n, err := agent.ResetSongs(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to reset songs")
		}
		logger.Info().Int64("deleted", n).Msg("songs reset")
		return
	}

	if *once {
		logger.Info().Msg("running once")
		if err := s.RunOnce(ctx); err != nil {
			logger.Fatal().Err(err).Msg("run failed")
		}
		return
	}

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           songrecommender.NewRouter(agent.Engine(), s.Monitor(), logging.WithComponent("http")),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("api server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("api server failed")
			cancel()
		}
	}()

	// Warm empty caches right away instead of waiting for the first tick.
	go func() {
		if err := s.RunOnce(ctx); err != nil {
			logger.Warn().Err(err).Msg("startup warm-up failed")
		}
	}()

	logger.Info().Msg("starting scheduler")
	if err := s.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("scheduler failed")
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("api server shutdown failed")
	}
}
