package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// ChangeHandler receives the configuration loaded after a settings change.
type ChangeHandler func(cfg *Config)

// Watcher reloads the settings file when it changes.
// The containing directory is watched so atomic-rename saves are seen too.
type Watcher struct {
	watcher  *fsnotify.Watcher
	stopChan chan struct{}
	stopOnce sync.Once
	load     func() (*Config, error)
	path     string
	handlers []ChangeHandler
	debounce time.Duration
	mu       sync.Mutex
}

// NewWatcher creates a watcher for the given settings path.
func NewWatcher(settingsPath string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		path:     filepath.Clean(settingsPath),
		watcher:  w,
		debounce: 300 * time.Millisecond,
		load:     Reload,
		stopChan: make(chan struct{}),
	}, nil
}

// OnChange registers a handler to be called when the settings change.
func (cw *Watcher) OnChange(handler ChangeHandler) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.handlers = append(cw.handlers, handler)
}

// Start begins watching.
func (cw *Watcher) Start() error {
	if err := cw.watcher.Add(filepath.Dir(cw.path)); err != nil {
		return err
	}

	go cw.watchLoop()

	log.Debug().Str("path", cw.path).Msg("Settings watcher started")
	return nil
}

// Stop halts the watcher. Safe to call more than once.
func (cw *Watcher) Stop() {
	cw.stopOnce.Do(func() {
		close(cw.stopChan)
		_ = cw.watcher.Close()
	})
}

func (cw *Watcher) watchLoop() {
	var debounceTimer *time.Timer

	for {
		select {
		case <-cw.stopChan:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != cw.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(cw.debounce, cw.reload)

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Settings watcher error")
		}
	}
}

func (cw *Watcher) reload() {
	cfg, err := cw.load()
	if err != nil {
		log.Warn().Err(err).Str("path", cw.path).Msg("Settings reload failed, keeping previous configuration")
		return
	}

	cw.mu.Lock()
	handlers := make([]ChangeHandler, len(cw.handlers))
	copy(handlers, cw.handlers)
	cw.mu.Unlock()

	for _, h := range handlers {
		h(cfg)
	}

	log.Info().Str("path", cw.path).Msg("Settings reloaded")
}
