// cmd/console/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/EngoEngine/engo"
	"github.com/gdamore/tcell/v2"

	"github.com/opd-ai/go-dronesim/pkg/audio"
	"github.com/opd-ai/go-dronesim/pkg/config"
	"github.com/opd-ai/go-dronesim/pkg/engine"
	"github.com/opd-ai/go-dronesim/pkg/event"
	"github.com/opd-ai/go-dronesim/pkg/logging"
	"github.com/opd-ai/go-dronesim/pkg/network"
	"github.com/opd-ai/go-dronesim/pkg/render"
	engorender "github.com/opd-ai/go-dronesim/pkg/render/engo"
)

func main() {
	configPath := flag.String("config", "config.json", "Path to configuration file")
	serverAddr := flag.String("server", "", "Server address (overrides config, terminal only)")
	operatorName := flag.String("name", "Operator", "Operator name")
	renderer := flag.String("renderer", "terminal", "Renderer type: 'terminal' or 'engo'")
	fullscreen := flag.Bool("fullscreen", false, "Run in fullscreen mode (Engo only)")
	width := flag.Int("width", 1024, "Window width (Engo only)")
	height := flag.Int("height", 768, "Window height (Engo only)")
	flag.Parse()

	ctx := context.Background()
	logger := logging.NewLogger()

	simConfig, err := loadConfig(*configPath)
	if err != nil {
		logger.Error(ctx, "Failed to load configuration", err, "config_path", *configPath)
		os.Exit(1)
	}
	if err := config.ApplyEnvironmentOverrides(simConfig); err != nil {
		logger.Error(ctx, "Failed to apply environment configuration", err)
		os.Exit(1)
	}

	// Choose renderer based on command line flag
	switch *renderer {
	case "engo":
		err = startEngoConsole(simConfig, logger, *width, *height, *fullscreen)
	case "terminal":
		if *serverAddr == "" {
			*serverAddr = simConfig.Network.ServerAddress
		}
		err = startTerminalConsole(ctx, *serverAddr, *operatorName, logger)
	default:
		logger.Error(ctx, "Unknown renderer", nil, "renderer", *renderer)
		os.Exit(2)
	}
	if err != nil {
		logger.Error(ctx, "Console failed", err, "renderer", *renderer)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.SimConfig, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return config.DefaultConfig(), nil
	}
	return config.LoadConfig(path)
}

// startEngoConsole flies a local simulation in a window.
func startEngoConsole(simConfig *config.SimConfig, logger *logging.Logger, width, height int, fullscreen bool) error {
	sim, err := engine.NewSimulation(simConfig, nil)
	if err != nil {
		return err
	}
	scene := engorender.NewConsoleScene(sim, logger)

	if simConfig.Audio.Enabled {
		player := audio.NewPlayer(0.5, logger)
		if err := player.Init(); err != nil {
			logger.Warn(context.Background(), "Audio unavailable, continuing without cues", "error", err.Error())
		} else {
			player.Attach(scene.Runner().Bus())
			defer player.Close()
		}
	}

	engo.Run(engo.RunOptions{
		Title:      "Drone Console",
		Width:      width,
		Height:     height,
		Fullscreen: fullscreen,
		VSync:      true,
	}, scene)
	return nil
}

// startTerminalConsole connects to a telemetry server and flies its drone
// from the terminal.
func startTerminalConsole(ctx context.Context, address, name string, logger *logging.Logger) error {
	envConfig, err := config.LoadConfigFromEnv()
	if err != nil {
		return err
	}

	// Logs would garble the tcell screen.
	quiet := logging.NewNopLogger()

	bus := event.NewEventBus()
	client := network.NewTelemetryClient(bus, envConfig, quiet)
	if err := client.Connect(ctx, address, name); err != nil {
		return err
	}
	defer client.Disconnect()

	screen, err := tcell.NewScreen()
	if err != nil {
		return err
	}
	if err := screen.Init(); err != nil {
		return err
	}
	defer screen.Fini()

	console := render.NewTerminalConsole(screen, client, client.Envelope(), quiet)
	console.UpdateSample(client.Latest())

	bus.Subscribe(event.ClientDisconnected, func(event.Event) { console.SetLink("lost") })
	bus.Subscribe(event.ClientReconnected, func(event.Event) { console.SetLink("connected") })
	bus.Subscribe(event.ClientReconnectFailed, func(event.Event) { console.SetLink("down") })

	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = console.Run(runCtx, client.Samples(), client.Events())
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info(ctx, "Console closed", "server", address)
	return err
}
