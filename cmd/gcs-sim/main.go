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

	"github.com/rs/zerolog/log"

	"github.com/gmat/gcs-telemetry/internal/config"
	"github.com/gmat/gcs-telemetry/internal/logger"
	"github.com/gmat/gcs-telemetry/internal/simulator"
	"github.com/gmat/gcs-telemetry/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file (optional)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logCloser := logger.Init(cfg.Logging)
	defer logCloser.Close()

	format, err := telemetry.ParseFormat(cfg.Simulator.Encoding)
	if err != nil {
		log.Fatal().Err(err).Msg("simulator encoding")
	}

	srv := &http.Server{
		Addr: cfg.Simulator.ListenAddr,
		Handler: simulator.NewServer(simulator.Options{
			Interval:      cfg.Simulator.Interval,
			Format:        format,
			MalformedRate: cfg.Simulator.MalformedRate,
			Seed:          cfg.Simulator.Seed,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info().
			Str("addr", cfg.Simulator.ListenAddr).
			Str("encoding", format.String()).
			Dur("interval", cfg.Simulator.Interval).
			Msg("simulated flight device serving /ws")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("simulator server stopped")
		}
	}()

	sig := <-sigChan
	log.Warn().Str("signal", sig.String()).Msg("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("simulator shutdown")
	}
	log.Info().Msg("simulator stopped")
}
