// pkg/render/engo/scene.go
package engo

import (
	"context"
	"image/color"
	"time"

	"github.com/EngoEngine/ecs"
	"github.com/EngoEngine/engo"
	"github.com/EngoEngine/engo/common"

	"github.com/opd-ai/go-dronesim/pkg/engine"
	"github.com/opd-ai/go-dronesim/pkg/logging"
	"github.com/opd-ai/go-dronesim/pkg/render"
)

const (
	sceneMargin = 16
	hudRows     = 1 + maxToasts
)

// ConsoleScene is the windowed operator console. It hosts a local
// simulation whose frames are driven by engo's update loop instead of a
// ticker.
type ConsoleScene struct {
	runner    *engine.Runner
	scheduler *engine.ManualScheduler
	logger    *logging.Logger

	world    *ecs.World
	assets   *AssetManager
	renderer *EngoRenderer
	input    *InputSystem
	hud      *HUDSystem
	unwatch  func()
}

// NewConsoleScene wraps sim in a runner that steps once per engo frame.
func NewConsoleScene(sim *engine.Simulation, logger *logging.Logger) *ConsoleScene {
	if logger == nil {
		logger = logging.NewLogger()
	}
	scheduler := engine.NewManualScheduler()
	return &ConsoleScene{
		runner:    engine.NewRunner(sim, scheduler, logger),
		scheduler: scheduler,
		logger:    logger.With("engo_console"),
		assets:    NewAssetManager(),
	}
}

// Runner exposes the scene's runner, e.g. to attach audio cues.
func (scene *ConsoleScene) Runner() *engine.Runner {
	return scene.runner
}

// Type returns the scene type (required by Engo)
func (scene *ConsoleScene) Type() string {
	return "ConsoleScene"
}

// Preload is called before the scene starts (required by Engo)
func (scene *ConsoleScene) Preload() {}

// Setup is called when the scene starts (required by Engo)
func (scene *ConsoleScene) Setup(u engo.Updater) {
	ctx := context.Background()
	scene.world, _ = u.(*ecs.World)
	common.SetBackground(color.Black)
	SetupInputBindings()

	if err := scene.assets.LoadAssets(); err != nil {
		scene.logger.Error(ctx, "Failed to load console assets", err)
		engo.Exit()
		return
	}

	renderSystem := &common.RenderSystem{}
	scene.world.AddSystem(renderSystem)

	width, height := engo.GameWidth(), engo.GameHeight()
	hudHeight := float32(hudRows*hudLineHeight) + sceneMargin
	bounds := engo.AABB{
		Min: engo.Point{X: sceneMargin, Y: sceneMargin},
		Max: engo.Point{X: width - sceneMargin, Y: height - hudHeight},
	}
	scene.renderer = NewEngoRenderer(renderSystem, scene.assets, bounds,
		engo.Point{X: sceneMargin, Y: height - hudHeight + sceneMargin/2})

	scene.input = NewInputSystem(scene.runner, scene.logger)
	scene.hud = NewHUDSystem("local")

	scene.world.AddSystem(scene.input)
	scene.world.AddSystem(&frameSystem{scheduler: scene.scheduler, clock: time.Now})
	scene.world.AddSystem(scene.hud)
	scene.world.AddSystem(&drawSystem{runner: scene.runner, hud: scene.hud, renderer: scene.renderer})

	scene.unwatch = scene.runner.Events().Watch(scene.hud.AddEntry)
	if err := scene.runner.Start(ctx); err != nil {
		scene.logger.Error(ctx, "Failed to start simulation", err)
		engo.Exit()
	}
}

// Exit releases held keys and stops the simulation. engo calls it when
// the window closes.
func (scene *ConsoleScene) Exit() {
	if scene.input != nil {
		scene.input.ReleaseAll()
	}
	if scene.unwatch != nil {
		scene.unwatch()
	}
	scene.runner.Stop()
}

// frameSystem fires one simulation frame per engo update.
type frameSystem struct {
	scheduler *engine.ManualScheduler
	clock     func() time.Time
}

func (f *frameSystem) Priority() int { return 20 }

func (f *frameSystem) Remove(basic ecs.BasicEntity) {}

func (f *frameSystem) Update(dt float32) {
	f.scheduler.Fire(f.clock())
}

// drawSystem pushes the latest frame through the renderer.
type drawSystem struct {
	runner   *engine.Runner
	hud      *HUDSystem
	renderer render.Renderer
}

func (d *drawSystem) Priority() int { return 0 }

func (d *drawSystem) Remove(basic ecs.BasicEntity) {}

func (d *drawSystem) Update(dt float32) {
	render.Draw(d.renderer, d.frame())
}

func (d *drawSystem) frame() render.Frame {
	sample := d.runner.Latest()
	return render.Frame{
		Envelope: d.runner.Envelope(),
		Sample:   sample,
		Trace:    d.runner.Trace().Points(),
		HUD:      d.hud.Lines(sample),
	}
}
