package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/co2stream/backend/internal/config"
	"github.com/co2stream/backend/internal/frontend"
	"github.com/co2stream/backend/internal/session"
	"github.com/co2stream/backend/internal/store"
	"github.com/co2stream/backend/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// Local overrides (port, directories) may live in a .env file.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	writer, err := store.NewNpyWriter(cfg.Storage.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to prepare recording dir")
	}
	if err := os.MkdirAll(cfg.Storage.UploadDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("failed to prepare upload dir")
	}

	hub := ws.NewHub(cfg.Server.SendBuffer)
	buffer := session.NewBuffer(session.Options{
		Timeout:      cfg.Stream.Timeout,
		PollInterval: cfg.Stream.PollInterval,
		LogEvery:     cfg.Stream.LogEvery,
	}, writer, hub)

	server := ws.NewServer(cfg, buffer, hub, frontend.Handler())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutting down")
		// Flushes an open session so a stream interrupted by restart is
		// still recorded.
		buffer.Shutdown()
		os.Exit(0)
	}()

	log.Info().
		Str("data_dir", cfg.Storage.DataDir).
		Dur("stream_timeout", cfg.Stream.Timeout).
		Msg("CO2 data stream server starting")

	if err := ws.ListenAndServe(cfg.Server.Host, cfg.Server.Port, server.Routes()); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}
