package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"greenhouse/api"
	"greenhouse/config"
	"greenhouse/log"
	"greenhouse/services"

	"go.uber.org/zap"
)

func main() {
	// Initialize structured logger
	logger := log.GetInstance()
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	start := time.Now()

	// RabbitMQ serves both as a telemetry link and as an alert channel
	var rabbit *services.RabbitMQService
	if cfg.TelemetrySource == config.SourceAMQP || cfg.NotifyChannel == config.ChannelAMQP {
		rabbit, err = services.NewRabbitMQService(cfg, logger.Named("rabbitmq"))
		if err != nil {
			logger.Fatal("Failed to initialize RabbitMQ service", zap.Error(err))
		}
		defer rabbit.Close()
	}

	// Telemetry source
	var source services.Source
	switch cfg.TelemetrySource {
	case config.SourceSynthetic:
		source = services.NewSyntheticSource(cfg.DeviceID, start, cfg.SynthSeed)

	case config.SourceMQTT:
		link := services.NewLinkSource(cfg.DeviceID, logger.Named("link"))
		mqttLink, err := services.NewMQTTLink(services.MQTTOptions{
			Broker:   cfg.MQTTBroker,
			Topic:    cfg.MQTTTopic,
			Username: cfg.MQTTUser,
			Password: cfg.MQTTPass,
			ClientID: "greenhouse-service",
		}, link.Feed, logger.Named("mqtt"))
		if err != nil {
			logger.Fatal("Failed to connect MQTT telemetry link", zap.Error(err))
		}
		defer mqttLink.Close()
		source = link

	case config.SourceAMQP:
		link := services.NewLinkSource(cfg.DeviceID, logger.Named("link"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rabbit.Consume(ctx, link.Feed); err != nil {
				logger.Error("RabbitMQ consumer stopped", zap.Error(err))
			}
		}()
		source = link

	case config.SourceSerial:
		link := services.NewLinkSource(cfg.DeviceID, logger.Named("link"))
		serial, err := services.OpenSerialLink(cfg.SerialPath, logger.Named("serial"))
		if err != nil {
			logger.Fatal("Failed to open serial telemetry link", zap.Error(err))
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			serial.Run(ctx, link.Feed)
		}()
		source = link
	}

	// Notification channel
	channel, err := services.NewChannel(ctx, cfg, rabbit, logger.Named("notify"))
	if err != nil {
		logger.Fatal("Failed to initialize notification channel", zap.Error(err))
	}
	notifier := services.NewNotifier(channel, services.NotifierOptions{
		MaxAttempts: cfg.NotifyMaxAttempts,
		QueueSize:   cfg.NotifyQueueSize,
		Timeout:     cfg.NotifyTimeout,
	}, logger.Named("notifier"))

	history := services.NewRollingHistory(cfg.HistoryCapacity)
	hub := services.NewHub(cfg.ListenerQueueSize, logger.Named("hub"))
	sampler := services.NewSampler(source, logger.Named("sampler"))
	evaluator := services.NewEvaluator(services.ThresholdsFromConfig(cfg), history, logger.Named("evaluator"), start)

	pipeline := services.NewPipeline(sampler, history, hub, evaluator, notifier, services.PipelineOptions{
		DeviceID:           cfg.DeviceID,
		SampleInterval:     cfg.SampleInterval,
		StaleCheckInterval: cfg.StaleCheckInterval,
		ShutdownGrace:      cfg.ShutdownGrace,
	}, logger.Named("pipeline"))

	// Optional Firebase archive
	var batchWriter *services.BatchWriter
	if cfg.FirebaseEnabled() {
		mirror, err := services.NewFirebaseMirror(ctx, cfg, logger.Named("firebase"))
		if err != nil {
			logger.Fatal("Failed to initialize Firebase mirror", zap.Error(err))
		}
		batchWriter = services.NewBatchWriter(mirror, cfg.FirebaseBatchSize, cfg.FirebaseBatchTimeout, logger.Named("archive"))
		pipeline.SetArchive(batchWriter)
		wg.Add(1)
		go func() {
			defer wg.Done()
			batchWriter.Start(ctx)
		}()
	}

	// Control forwarding
	var actuator services.Actuator = services.NewLogActuator(logger.Named("control"))
	if cfg.ActuatorURL != "" {
		actuator = services.NewHTTPActuator(cfg.ActuatorURL, logger.Named("control"))
	}
	control := services.NewControlGateway(actuator, hub, pipeline, logger.Named("control"))

	handler := api.NewHandler(api.Deps{
		Pipeline:  pipeline,
		Hub:       hub,
		History:   history,
		Sampler:   sampler,
		Control:   control,
		Notifier:  notifier,
		ReportKey: cfg.ReportAPIKey,
	}, logger.Named("api"))

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Greenhouse service started",
		zap.String("port", cfg.Port),
		zap.String("device_id", cfg.DeviceID),
		zap.String("telemetry_source", cfg.TelemetrySource),
		zap.String("notify_channel", channel.Name()),
		zap.Duration("interval", cfg.SampleInterval),
		zap.Float64("temp_max", cfg.TemperatureMax),
		zap.Float64("water_min", cfg.WaterMin),
		zap.Float64("humidity_min", cfg.HumidityMin),
		zap.Float64("humidity_max", cfg.HumidityMax),
		zap.Duration("stale_threshold", cfg.StaleThreshold),
		zap.Bool("firebase", cfg.FirebaseEnabled()),
	)

	pipelineDone := make(chan struct{})
	go func() {
		defer close(pipelineDone)
		if err := pipeline.Run(ctx); err != nil {
			logger.Error("Pipeline stopped", zap.Error(err))
		}
	}()

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutdown signal received, stopping services")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown incomplete", zap.Error(err))
	}

	<-pipelineDone
	if batchWriter != nil && !batchWriter.WaitForShutdown(cfg.ShutdownGrace) {
		logger.Warn("Archive flush timed out")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("Cleanup completed successfully")
	case <-time.After(cfg.ShutdownGrace):
		logger.Warn("Cleanup timeout, forcing exit")
	}

	logger.Info("Greenhouse service stopped")
}
