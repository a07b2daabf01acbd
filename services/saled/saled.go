// Package saled assembles the sale daemon: state, engines, event archive,
// websocket stream and HTTP API.
package saled

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"crowdsale/config"
	"crowdsale/core/events"
	"crowdsale/observability"
	"crowdsale/observability/logging"
	telemetry "crowdsale/observability/otel"
	"crowdsale/services/saled/archive"
	daemoncfg "crowdsale/services/saled/config"
	"crowdsale/services/saled/node"
	"crowdsale/services/saled/server"
	"crowdsale/services/saled/stream"
	"crowdsale/storage"
)

// EnvVar names the deployment environment attached to logs and traces.
const EnvVar = "CROWDSALE_ENV"

// Run loads the daemon configuration at path and serves until ctx is cancelled.
func Run(ctx context.Context, path string) error {
	cfg, err := daemoncfg.Load(path)
	if err != nil {
		return fmt.Errorf("saled: load config: %w", err)
	}
	env := strings.TrimSpace(os.Getenv(EnvVar))
	logger := logging.SetupWithOptions("saled", env, logging.Options{
		Level:      logging.ParseLevel(cfg.Log.Level),
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "saled",
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("saled: init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", slog.Any("error", err))
		}
	}()

	saleCfg, err := config.Load(cfg.SaleConfig)
	if err != nil {
		return fmt.Errorf("saled: load sale config: %w", err)
	}

	db, err := openDatabase(cfg.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	archiveDB, err := archive.Open(cfg.Archive.Driver, cfg.Archive.DSN)
	if err != nil {
		return err
	}
	eventArchive, err := archive.New(archiveDB, logger)
	if err != nil {
		return err
	}
	hub := stream.NewHub(cfg.Stream.Buffer, logger)

	sink := events.Fanout{eventArchive, hub, observability.Events()}
	n, err := node.New(ctx, saleCfg, db, sink, logger)
	if err != nil {
		return err
	}

	auth, err := server.NewAuthenticator(server.AuthConfig{
		HMACSecret: cfg.Auth.HMACSecret,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		ClockSkew:  cfg.Auth.ClockSkew.Duration,
	}, logger)
	if err != nil {
		return fmt.Errorf("saled: configure auth: %w", err)
	}
	limiter := server.NewRateLimiter(server.RateLimit{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
	}, cfg.RateLimit.IdleTTL.Duration)

	srv, err := server.New(server.Config{
		ListenAddress:   cfg.ListenAddress,
		ShutdownTimeout: cfg.ShutdownTimeout.Duration,
	}, n, eventArchive, hub, auth, limiter, logger)
	if err != nil {
		return err
	}

	logger.Info("saled starting",
		slog.String("listen", cfg.ListenAddress),
		slog.String("token", saleCfg.Token),
		slog.String("controller", n.Controller().Hex()),
		slog.String("archive", cfg.Archive.Driver),
		logging.MaskField("hmac_secret", cfg.Auth.HMACSecret))

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("saled: http server: %w", err)
	}
	return nil
}

func openDatabase(dir string) (storage.Database, error) {
	if strings.TrimSpace(dir) == "" {
		return storage.NewMemDB(), nil
	}
	db, err := storage.NewLevelDB(dir)
	if err != nil {
		return nil, fmt.Errorf("saled: open state at %s: %w", dir, err)
	}
	return db, nil
}
