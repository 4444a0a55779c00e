// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opd-ai/go-dronesim/pkg/audio"
	"github.com/opd-ai/go-dronesim/pkg/config"
	"github.com/opd-ai/go-dronesim/pkg/engine"
	"github.com/opd-ai/go-dronesim/pkg/health"
	"github.com/opd-ai/go-dronesim/pkg/logging"
	"github.com/opd-ai/go-dronesim/pkg/network"
	"github.com/opd-ai/go-dronesim/pkg/resource"
)

func main() {
	logger := logging.NewLogger()
	ctx := context.Background()

	configPath := flag.String("config", "config.json", "Path to configuration file")
	createDefault := flag.Bool("default", false, "Create default configuration file")
	flag.Parse()

	// Create default configuration file if requested
	if *createDefault {
		if err := config.SaveConfig(config.DefaultConfig(), *configPath); err != nil {
			logger.Error(ctx, "Failed to create default configuration", err,
				"config_path", *configPath,
			)
			os.Exit(1)
		}
		logger.Info(ctx, "Created default configuration file",
			"config_path", *configPath,
		)
		return
	}

	simConfig, err := loadConfig(*configPath, logger)
	if err != nil {
		logger.Error(ctx, "Failed to load configuration", err, "config_path", *configPath)
		os.Exit(1)
	}

	// Apply environment variable overrides
	if err := config.ApplyEnvironmentOverrides(simConfig); err != nil {
		logger.Error(ctx, "Failed to apply environment configuration", err)
		os.Exit(1)
	}
	envConfig, err := config.LoadConfigFromEnv()
	if err != nil {
		logger.Error(ctx, "Invalid environment configuration", err)
		os.Exit(1)
	}

	sim, err := engine.NewSimulation(simConfig, nil)
	if err != nil {
		logger.Error(ctx, "Failed to create simulation", err)
		os.Exit(1)
	}
	runner := engine.NewRunner(sim, nil, logger)

	resources := resource.NewResourceManagerWithLogger(envConfig, logger)
	if err := resources.Start(); err != nil {
		logger.Error(ctx, "Failed to start resource manager", err)
		os.Exit(1)
	}

	serverConfig := network.ServerConfigFromEnv(envConfig)
	serverConfig.MaxClients = simConfig.Network.MaxClients
	serverConfig.UpdateRate = simConfig.Network.UpdateRate
	server := network.NewTelemetryServer(runner, serverConfig, resources, logger)
	hub := network.NewWebSocketHub(runner, simConfig.Network.UpdateRate, logger)

	if simConfig.Audio.Enabled {
		player := audio.NewPlayer(0.5, logger)
		if err := player.Init(); err != nil {
			logger.Warn(ctx, "Audio unavailable, continuing without cues", "error", err.Error())
		} else {
			player.Attach(runner.Bus())
			defer player.Close()
		}
	}

	// Setup health checks
	healthChecker := health.NewHealthChecker()
	healthChecker.AddCheck(health.NewSimulationHealthCheck(runner.Running, runner.Frames, 5*time.Second))
	healthChecker.AddCheck(health.NewListenerHealthCheck("telemetry", server.ListenerAddress))
	healthChecker.AddCheck(health.NewMemoryHealthCheck(envConfig.MaxMemoryMB, health.CurrentMemoryMB))
	healthChecker.AddCheck(resource.NewHealthCheck(resources))

	healthServer := health.NewServer(fmt.Sprintf(":%d", simConfig.Network.HealthPort), healthChecker, logger)
	healthServer.Start(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := runner.Start(runCtx); err != nil {
		logger.Error(ctx, "Failed to start simulation", err)
		os.Exit(1)
	}

	logger.Info(ctx, "Starting telemetry server",
		"address", simConfig.Network.ServerAddress,
		"max_clients", serverConfig.MaxClients,
	)
	if err := server.Start(simConfig.Network.ServerAddress); err != nil {
		logger.Error(ctx, "Failed to start server", err,
			"address", simConfig.Network.ServerAddress,
		)
		os.Exit(1)
	}

	if err := hub.Start(); err != nil {
		logger.Error(ctx, "Failed to start websocket hub", err)
		os.Exit(1)
	}
	wsMux := http.NewServeMux()
	wsMux.Handle("/ws", hub)
	wsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", simConfig.Network.WebSocketPort),
		Handler:           wsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info(ctx, "Starting websocket server", "address", wsServer.Addr)
		if err := wsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "WebSocket server failed", err)
		}
	}()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	logger.Info(ctx, "Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), envConfig.ShutdownTimeout)
	defer shutdownCancel()

	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "WebSocket server shutdown failed", err)
	}
	hub.Close()
	server.Close()
	runner.Stop()

	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "Health check server shutdown failed", err)
	}
	if err := resources.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "Resource manager shutdown failed", err)
	}
}

// loadConfig reads path, falling back to the default configuration when
// the file does not exist.
func loadConfig(path string, logger *logging.Logger) (*config.SimConfig, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Info(context.Background(), "Configuration file not found, using default configuration",
			"config_path", path,
		)
		return config.DefaultConfig(), nil
	}
	return config.LoadConfig(path)
}
