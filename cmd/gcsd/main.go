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
	"github.com/gmat/gcs-telemetry/internal/forwarder"
	"github.com/gmat/gcs-telemetry/internal/health"
	"github.com/gmat/gcs-telemetry/internal/hub"
	"github.com/gmat/gcs-telemetry/internal/ingest"
	"github.com/gmat/gcs-telemetry/internal/logger"
	"github.com/gmat/gcs-telemetry/internal/mission"
	"github.com/gmat/gcs-telemetry/internal/monitor"
	"github.com/gmat/gcs-telemetry/internal/server"
	"github.com/gmat/gcs-telemetry/internal/store"
	"github.com/gmat/gcs-telemetry/internal/telemetry"
	"github.com/gmat/gcs-telemetry/internal/transport"
	"github.com/gmat/gcs-telemetry/internal/transport/mqtt"
	"github.com/gmat/gcs-telemetry/internal/transport/websocket"
)

const defaultConfigPath = "config.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to the YAML config file")
	flag.Parse()

	// Load config
	cfg, err := config.LoadConfig(resolveConfigPath(*configPath))
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Init logger
	logCloser := logger.Init(cfg.Logging)
	defer logCloser.Close()
	log.Info().
		Str("transport", cfg.Upstream.Transport).
		Str("listen", cfg.Server.ListenAddr).
		Bool("strict_codes", cfg.Decoder.StrictCodes).
		Msg("starting gcsd")

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// OS Signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	//------------------------------------------
	// PIPELINE: store -> engine -> hub
	//------------------------------------------
	st := store.New(cfg.Buffer.Capacity, cfg.Buffer.RawLogCapacity)
	h := hub.New(cfg.Hub.QueueSize)
	processor := ingest.NewProcessor(
		telemetry.Decoder{Strict: cfg.Decoder.StrictCodes},
		st,
		mission.NewEngine(),
		h,
	)

	session := ingest.NewSession(newDialer(cfg.Upstream), processor, h, ingest.Config{
		Backoff: ingest.BackoffConfig{
			Initial:   cfg.Upstream.Backoff.Initial,
			Max:       cfg.Upstream.Backoff.Max,
			MinUptime: cfg.Upstream.Backoff.MinUptime,
			Jitter:    cfg.Upstream.Backoff.Jitter,
		},
	})

	//------------------------------------------
	// START ARCHIVE FORWARDER
	//------------------------------------------
	var fwd *forwarder.Forwarder
	if cfg.Forwarder.Enabled {
		sink, err := newSink(cfg.Forwarder)
		if err != nil {
			log.Fatal().Err(err).Msg("forwarder sink")
		}
		fwd, err = forwarder.New(h, sink, forwarder.Options{
			BatchSize:     cfg.Forwarder.BatchSize,
			FlushInterval: cfg.Forwarder.FlushInterval,
			MaxAttempts:   cfg.Forwarder.MaxAttempts,
			FinalTimeout:  cfg.Forwarder.Timeout,
			QueueSize:     cfg.Forwarder.QueueSize,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("forwarder subscribe")
		}
		fwd.Start()
	}

	//------------------------------------------
	// START HTTP (viewers, REST, health, metrics)
	//------------------------------------------
	reporter := health.NewReporter(session, h, st)
	reporter.SetRunning(true)

	srv := server.New(st, h, session, reporter, server.Options{
		WriteTimeout:   cfg.Server.WriteTimeout,
		PingInterval:   cfg.Server.PingInterval,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server stopped")
			cancel()
		}
	}()
	log.Info().Str("addr", cfg.Server.ListenAddr).Msg("viewer endpoint running on /ws")

	//------------------------------------------
	// START LINK MONITOR
	//------------------------------------------
	if cfg.Link.Enabled {
		mon := monitor.New(monitor.Options{
			Host:             cfg.Link.Host,
			Interface:        cfg.Link.Interface,
			Interval:         cfg.Link.Interval,
			RTTThreshold:     time.Duration(cfg.Link.RTTThresholdMs) * time.Millisecond,
			LossThresholdPct: float64(cfg.Link.LossThresholdPct),
			FailCount:        cfg.Link.FailCount,
		},
			monitor.NewPingProber(cfg.Link.Host, cfg.Link.Count, cfg.Link.Timeout, cfg.Link.Privileged),
			monitor.NetlinkInspector{},
			reporter,
		)
		go mon.Run(ctx)
	}

	//------------------------------------------
	// START INGESTION SESSION
	//------------------------------------------
	go func() {
		if err := session.Run(ctx); err != nil {
			log.Error().Err(err).Msg("ingestion session stopped")
		}
	}()

	//------------------------------------------
	// WAIT FOR SHUTDOWN SIGNAL
	//------------------------------------------
	select {
	case sig := <-sigChan:
		log.Warn().Str("signal", sig.String()).Msg("shutdown signal received")
	case <-ctx.Done():
	}

	//------------------------------------------
	// SHUTDOWN SEQUENCE
	//------------------------------------------
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	reporter.SetRunning(false)

	log.Info().Msg("stopping ingestion session...")
	if err := session.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("session shutdown")
	}

	log.Info().Msg("closing hub...")
	h.Close()

	if fwd != nil {
		log.Info().Msg("flushing forwarder...")
		if err := fwd.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("forwarder shutdown")
		}
	}

	cancel()

	httpCtx, httpCancel := context.WithTimeout(shutdownCtx, cfg.Server.ShutdownTimeout)
	defer httpCancel()
	if err := httpSrv.Shutdown(httpCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}

	log.Info().
		Uint64("accepted", processor.Accepted()).
		Uint64("rejected", processor.Rejected()).
		Msg("gcsd stopped cleanly")
}

// resolveConfigPath lets the default config file be absent; a path given
// explicitly must exist.
func resolveConfigPath(path string) string {
	if path != defaultConfigPath {
		return path
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func newDialer(cfg config.UpstreamConfig) transport.Dialer {
	if cfg.Transport == "mqtt" {
		password := ""
		if cfg.MQTT.PasswordEnv != "" {
			password = os.Getenv(cfg.MQTT.PasswordEnv)
		}
		return mqtt.NewDialer(mqtt.Config{
			Broker:      cfg.MQTT.Broker,
			Topic:       cfg.MQTT.Topic,
			ClientID:    cfg.MQTT.ClientID,
			QoS:         byte(cfg.MQTT.QoS),
			Username:    cfg.MQTT.Username,
			Password:    password,
			DialTimeout: cfg.DialTimeout,
			ReadTimeout: cfg.ReadTimeout,
		})
	}
	return websocket.NewDialer(websocket.Config{
		URL:         cfg.URL,
		DialTimeout: cfg.DialTimeout,
		ReadTimeout: cfg.ReadTimeout,
	})
}

func newSink(cfg config.ForwarderConfig) (forwarder.Sink, error) {
	if cfg.Sink == "kafka" {
		return forwarder.NewKafkaSink(forwarder.KafkaConfig{
			Brokers: cfg.Brokers,
			Topic:   cfg.Topic,
			Timeout: cfg.Timeout,
		})
	}
	return forwarder.NewHTTPSink(forwarder.HTTPConfig{
		URL:                cfg.BackendURL,
		AuthTokenEnv:       cfg.AuthTokenEnv,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		Timeout:            cfg.Timeout,
	}), nil
}
