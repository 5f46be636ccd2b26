// Package main is the entry point for the TimNet bridge. It wires the
// Modbus client, the poll coordinator, the value store and the outward
// surfaces (HTTP API, MQTT, metrics, health) together.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/martinkalmus/ha-timnet/internal/adapter/modbus"
	"github.com/martinkalmus/ha-timnet/internal/adapter/mqtt"
	"github.com/martinkalmus/ha-timnet/internal/api"
	"github.com/martinkalmus/ha-timnet/internal/config"
	"github.com/martinkalmus/ha-timnet/internal/domain"
	"github.com/martinkalmus/ha-timnet/internal/health"
	"github.com/martinkalmus/ha-timnet/internal/metrics"
	"github.com/martinkalmus/ha-timnet/internal/service"
	"github.com/martinkalmus/ha-timnet/internal/store"
	"github.com/martinkalmus/ha-timnet/pkg/logging"
)

const (
	serviceName    = "timnet-bridge"
	serviceVersion = "1.0.0"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(serviceName, serviceVersion, logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	logger.Info().
		Str("device", cfg.Device.Address()).
		Dur("scan_interval", cfg.Device.ScanInterval).
		Msg("Starting TimNet bridge")

	defs, err := config.LoadRegisterMap(cfg.OverridesPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load register map")
	}
	logger.Info().Int("registers", len(defs)).Msg("Register map loaded")

	metricsRegistry := metrics.NewRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := modbus.NewClient(modbus.ClientConfig{
		Address:           cfg.Device.Address(),
		UnitID:            cfg.Device.UnitID,
		Timeout:           cfg.Device.ReadTimeout,
		DeviceIdleTimeout: cfg.Device.IdleTimeout,
	}, logger, metricsRegistry)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create Modbus client")
	}

	valueStore := store.New()

	var publisher service.Publisher
	var mqttPublisher *mqtt.Publisher
	if cfg.MQTT.Enabled() {
		mqttPublisher = mqtt.NewPublisher(cfg.MQTT, logger, metricsRegistry)
		if err := mqttPublisher.Connect(ctx); err != nil {
			// The bridge is still useful over HTTP; the publisher buffers
			// and reconnects on its own.
			logger.Warn().Err(err).Msg("MQTT broker unavailable, continuing without it")
		}
		defer mqttPublisher.Disconnect()
		publisher = mqttPublisher
	}

	coordinator := service.New(service.Config{
		ScanInterval:      cfg.Device.ScanInterval,
		DeviceIdleTimeout: cfg.Device.IdleTimeout,
		ReadTimeout:       cfg.Device.ReadTimeout,
	}, defs, client, valueStore, publisher, logger, metricsRegistry)

	coordinator.Start(ctx)
	defer coordinator.Stop()

	healthChecker := health.NewChecker(serviceName, serviceVersion)
	healthChecker.AddCheck("modbus", client)
	healthChecker.AddCheck("device", health.CheckerFunc(func(ctx context.Context) error {
		if state, _ := valueStore.Connection(); state != domain.ConnectionConnected {
			return domain.ErrConnectionClosed
		}
		return nil
	}))
	if mqttPublisher != nil {
		healthChecker.AddCheck("mqtt", mqttPublisher)
	}

	mux := http.NewServeMux()
	api.NewHandler(valueStore, serviceVersion, logger).Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", healthChecker.LivenessHandler)
	mux.HandleFunc("/readyz", healthChecker.ReadinessHandler)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info().Int("port", cfg.HTTP.Port).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("Shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	coordinator.Stop()
	logger.Info().Msg("TimNet bridge stopped")
}
