package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/Mingle/internal/adapters/http"
	"github.com/dkeye/Mingle/internal/app"
	"github.com/dkeye/Mingle/internal/app/orch"
	"github.com/dkeye/Mingle/internal/config"
	"github.com/dkeye/Mingle/internal/profile"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	var profiles profile.Directory
	switch cfg.ProfileStore {
	case "dynamodb":
		profiles, err = profile.NewDynamoDirectory(ctx, cfg.AWSRegion, cfg.ProfileTable)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init profile directory")
		}
	default:
		profiles = profile.NewMemoryDirectory()
	}

	o := orch.New(
		app.NewRegistry(),
		app.NewMatchQueue(),
		app.NewSessionMap(),
		app.NewRoomManager(),
		app.NewIceBuffers(),
		profiles,
	)

	r := router.SetupRouter(ctx, cfg, o)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Mingle server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
