package config

import (
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/volta/engine/core"
)

// RendererConfig drives the renderer boot process. It is loaded from a
// TOML file and can be watched for changes at runtime.
type RendererConfig struct {
	ApplicationName  string `toml:"application_name"`
	StartPosX        uint32 `toml:"start_pos_x"`
	StartPosY        uint32 `toml:"start_pos_y"`
	StartWidth       uint32 `toml:"start_width"`
	StartHeight      uint32 `toml:"start_height"`
	FramesInFlight   uint8  `toml:"frames_in_flight"`
	EnableValidation bool   `toml:"enable_validation"`
	VSync            bool   `toml:"vsync"`
}

func DefaultRendererConfig() *RendererConfig {
	return &RendererConfig{
		ApplicationName:  "Volta",
		StartPosX:        100,
		StartPosY:        100,
		StartWidth:       1280,
		StartHeight:      720,
		FramesInFlight:   2,
		EnableValidation: false,
		VSync:            true,
	}
}

// Load reads a RendererConfig from a TOML file. A missing file yields
// the defaults.
func Load(path string) (*RendererConfig, error) {
	cfg := DefaultRendererConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			core.LogWarn("config file %s not found, using defaults", path)
			return cfg, nil
		}
		return nil, err
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Watcher reloads the config whenever the underlying file changes.
type Watcher struct {
	path     string
	fsnotify *fsnotify.Watcher
	onChange func(*RendererConfig)

	mutex    sync.Mutex
	isClosed bool
	done     chan struct{}
}

func NewWatcher(path string, onChange func(*RendererConfig)) (*Watcher, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:     path,
		fsnotify: fsWatch,
		onChange: onChange,
		done:     make(chan struct{}),
	}

	if err := fsWatch.Add(path); err != nil {
		fsWatch.Close()
		return nil, err
	}

	go w.start()
	return w, nil
}

func (w *Watcher) start() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsnotify.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				core.LogError("failed to reload config %s: %s", w.path, err)
				continue
			}
			core.LogInfo("config %s reloaded", w.path)
			w.onChange(cfg)
		case err, ok := <-w.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("config watcher: %s", err)
		}
	}
}

func (w *Watcher) Close() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.isClosed {
		return nil
	}
	w.isClosed = true
	close(w.done)
	return w.fsnotify.Close()
}
