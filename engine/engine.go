package engine

import (
	"fmt"

	"github.com/spaghettifunk/volta/engine/config"
	"github.com/spaghettifunk/volta/engine/core"
	"github.com/spaghettifunk/volta/engine/platform"
	"github.com/spaghettifunk/volta/engine/renderer"
	"github.com/spaghettifunk/volta/engine/renderer/rendergraph"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

// SetupGraphFn declares the frame graph against the running renderer.
// It is invoked once during initialization.
type SetupGraphFn func(r *renderer.Renderer, rg *rendergraph.RenderGraph) error

type Engine struct {
	currentStage Stage
	platform     *platform.Platform
	renderer     *renderer.Renderer
	graph        *rendergraph.RenderGraph
	cfg          *config.RendererConfig
	cfgWatcher   *config.Watcher
	clock        *core.Clock
	setupGraph   SetupGraphFn
	isRunning    bool
}

func New(configPath string, setup SetupGraphFn) (*Engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		currentStage: EngineStageUninitialized,
		platform:     platform.New(),
		cfg:          cfg,
		clock:        core.NewClock(),
		setupGraph:   setup,
		graph:        rendergraph.New(),
	}

	if watcher, werr := config.NewWatcher(configPath, e.onConfigChanged); werr == nil {
		e.cfgWatcher = watcher
	} else {
		core.LogWarn("config watcher unavailable: %s", werr)
	}
	return e, nil
}

func (e *Engine) onConfigChanged(cfg *config.RendererConfig) {
	// Only the stored config is replaced; the renderer keeps the values
	// it was created with, so changes take effect on the next start.
	e.cfg = cfg
}

func (e *Engine) Initialize() error {
	e.currentStage = EngineStageInitializing

	if err := e.platform.Startup(e.cfg.ApplicationName, e.cfg.StartPosX, e.cfg.StartPosY, e.cfg.StartWidth, e.cfg.StartHeight); err != nil {
		return err
	}

	e.renderer = renderer.New(e.platform, e.cfg)
	if err := e.renderer.Initialize(e.cfg.ApplicationName); err != nil {
		return err
	}

	if err := e.setupGraph(e.renderer, e.graph); err != nil {
		return err
	}
	if err := e.graph.Build(); err != nil {
		return fmt.Errorf("render graph build failed: %w", err)
	}
	core.LogInfo("%s", e.graph.DebugString())

	if err := core.MetricsInitialize(); err != nil {
		return err
	}

	e.currentStage = EngineStageInitialized
	return nil
}

func (e *Engine) Run() error {
	e.currentStage = EngineStageRunning
	e.isRunning = true
	e.clock.Start()

	for e.isRunning && !e.platform.ShouldClose() {
		e.platform.PumpMessages()

		e.clock.Update()
		frameStart := e.clock.Elapsed()

		if err := e.renderer.DrawGraph(e.graph); err != nil {
			core.LogError("frame failed: %s", err)
			return err
		}

		e.clock.Update()
		core.MetricsUpdate(e.clock.Elapsed() - frameStart)
	}
	return e.Shutdown()
}

func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShuttingDown {
		return nil
	}
	e.currentStage = EngineStageShuttingDown
	e.isRunning = false

	if e.cfgWatcher != nil {
		e.cfgWatcher.Close()
	}
	if e.renderer != nil {
		if err := e.renderer.Shutdown(); err != nil {
			return err
		}
	}
	return e.platform.Shutdown()
}
