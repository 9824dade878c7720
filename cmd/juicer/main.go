package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/snarg/juicer/internal/api"
	"github.com/snarg/juicer/internal/app"
	"github.com/snarg/juicer/internal/config"
)

var version = "dev"

func main() {
	var overrides config.Overrides
	cmd := &cobra.Command{
		Use:          "juicer",
		Short:        "Audio transcription server",
		Version:      version,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			run(overrides)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file (default .env)")
	flags.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address (HTTP_ADDR)")
	flags.StringVar(&overrides.LogLevel, "log-level", "", "log level (LOG_LEVEL)")
	flags.StringVar(&overrides.DatabaseURL, "database-url", "", "Postgres URL for history (DATABASE_URL)")
	flags.StringVar(&overrides.DataDir, "data-dir", "", "local data directory (DATA_DIR)")
	flags.StringVar(&overrides.ModelDir, "model-dir", "", "local model directory (MODEL_DIR)")
	flags.StringVar(&overrides.WatchDir, "watch-dir", "", "directory to watch for audio files (WATCH_DIR)")
	flags.BoolVar(&overrides.Offline, "offline", false, "route jobs through the local model (OFFLINE_MODE)")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(overrides config.Overrides) {
	startTime := time.Now()

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
	log.Info().Str("version", version).Msg("juicer starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Services
	svc, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize services")
	}
	defer svc.Close()

	if err := svc.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start services")
	}
	prometheus.MustRegister(svc.Collector())

	// HTTP Server
	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(cfg, svc.Deps(), version, startTime, httpLog)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

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

	log.Info().Msg("juicer stopped")
}
