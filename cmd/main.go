// Package main is the entry point for the completion adapter service.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/compresr/llm-adapter/internal/config"
	"github.com/compresr/llm-adapter/internal/gateway"
)

// loadEnvFiles loads .env from standard locations.
func loadEnvFiles() {
	if homeDir, err := os.UserHomeDir(); err == nil {
		configEnv := filepath.Join(homeDir, ".config", "llm-adapter", ".env")
		if _, err := os.Stat(configEnv); err == nil {
			_ = godotenv.Load(configEnv)
		}
	}
	// Local .env can override.
	_ = godotenv.Load()
}

// setupLogging configures the global zerolog logger from config,
// with --debug forcing debug level.
func setupLogging(cfg config.LoggerConfig, debug bool) {
	zerolog.TimeFieldFormat = time.RFC3339

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	if debug {
		level = zerolog.DebugLevel
	}

	var writer io.Writer
	switch cfg.Output {
	case "stdout", "":
		writer = os.Stdout
	case "stderr":
		writer = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			writer = os.Stdout
		} else {
			writer = f
		}
	}

	if cfg.Format == "console" {
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: "15:04:05"}
	}

	log.Logger = zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

func main() {
	loadEnvFiles()

	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Logger not configured yet; use the default.
		log.Fatal().Err(err).Str("config", *configPath).Msg("failed to load configuration")
	}

	setupLogging(cfg.Logging, *debug)

	log.Info().
		Int("port", cfg.Server.Port).
		Str("model", cfg.LLM.Model).
		Str("metrics_store", cfg.Metrics.Store).
		Msg("completion adapter starting")

	gw, err := gateway.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start gateway")
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("shutdown signal received")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := gw.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("shutdown error")
		}
	}()

	if err := gw.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server error")
	}
}
