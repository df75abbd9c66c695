package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/savegress/vitalguard/internal/api"
	"github.com/savegress/vitalguard/internal/config"
	"github.com/savegress/vitalguard/internal/dispatch"
	"github.com/savegress/vitalguard/internal/emergency"
	"github.com/savegress/vitalguard/internal/logger"
	"github.com/savegress/vitalguard/internal/monitor"
	"github.com/savegress/vitalguard/internal/presenter"
	"github.com/savegress/vitalguard/internal/websocket"
)

func main() {
	// Load configuration
	var cfg *config.Config
	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	} else {
		cfg = config.LoadFromEnv()
	}

	zl, err := logger.New(cfg.Log.Level, cfg.Log.Format, "vitalguard")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zl.Sync()

	zl.Info("Starting VitalGuard - emergency vitals monitoring",
		zap.String("environment", cfg.Server.Environment),
	)

	// Notification worker pool
	pool, err := dispatch.New(cfg.Dispatch, zl.Named("dispatch"))
	if err != nil {
		zl.Fatal("Failed to create dispatch pool", zap.Error(err))
	}

	engine := emergency.NewEngine(
		emergency.WithDispatcher(pool),
		emergency.WithLogger(zl.Named("emergency")),
	)

	// Setup notifiers
	if cfg.Notifiers.Console {
		engine.AddNotifier(emergency.NewConsoleNotifier(zl.Named("console")))
	}
	if cfg.Notifiers.Webhook.URL != "" {
		engine.AddNotifier(emergency.NewWebhookNotifier(cfg.Notifiers.Webhook))
		zl.Info("Webhook notifier configured")
	}

	var mqttDisconnect func()
	if cfg.Notifiers.MQTT.Broker != "" {
		client, err := emergency.NewMQTTClient(cfg.Notifiers.MQTT)
		if err != nil {
			zl.Error("MQTT notifier disabled", zap.Error(err))
		} else {
			engine.AddNotifier(emergency.NewMQTTNotifier(client, cfg.Notifiers.MQTT))
			mqttDisconnect = func() { client.Disconnect(250) }
			zl.Info("MQTT notifier configured", zap.String("broker", cfg.Notifiers.MQTT.Broker))
		}
	}

	var redisClose func() error
	if cfg.Notifiers.Redis.Addr != "" {
		rdb := emergency.NewRedisClient(cfg.Notifiers.Redis)
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			zl.Error("Redis notifier disabled", zap.Error(err))
			rdb.Close()
		} else {
			engine.AddNotifier(emergency.NewRedisNotifier(rdb, cfg.Notifiers.Redis))
			redisClose = rdb.Close
			zl.Info("Redis stream notifier configured", zap.String("stream", cfg.Notifiers.Redis.Stream))
		}
	}

	// Push delivery to connected clients
	hub := websocket.NewHub(zl.Named("websocket"))
	go hub.Run()

	alerts := presenter.New(hub, engine, presenter.Config{
		PromptCooldown: cfg.Presenter.PromptCooldown,
		DialogTimeout:  cfg.Presenter.DialogTimeout,
	}, zl.Named("presenter"))
	engine.AddNotifier(alerts)
	hub.SetAckHandler(func(userID, responseID string) error {
		_, err := alerts.Acknowledge(userID, responseID)
		return err
	})

	var source monitor.Source
	if cfg.Monitoring.Source == "simulated" {
		source = monitor.NewSimulatedSource(cfg.Monitoring.Seed)
	}
	scheduler := monitor.NewScheduler(engine, source, cfg.Monitoring.Interval, zl.Named("monitor"))
	zl.Info("Monitor scheduler ready",
		zap.String("source", cfg.Monitoring.Source),
		zap.Duration("interval", cfg.Monitoring.Interval),
	)

	// Create API server
	server := api.NewServer(engine, scheduler, alerts, hub, cfg.Server, zl.Named("api"))
	server.SetPool(pool)

	// Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zl.Info("HTTP server listening", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zl.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	zl.Info("Shutting down...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zl.Error("HTTP server shutdown error", zap.Error(err))
	}

	scheduler.Shutdown()
	if err := pool.Stop(); err != nil {
		zl.Warn("Dispatch pool stopped with pending tasks", zap.Error(err))
	}
	hub.Stop()
	if mqttDisconnect != nil {
		mqttDisconnect()
	}
	if redisClose != nil {
		redisClose()
	}

	zl.Info("VitalGuard stopped")
}
