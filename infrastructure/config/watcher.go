package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	domaincfg "flowsync/domain/config"
)

// Tuning is the runtime-changeable subset of the domain configuration,
// loaded from a YAML file and reloaded on change.
type Tuning struct {
	EchoSuppressionTTL  time.Duration `yaml:"echoSuppressionTTL"`
	DedupGuardTTL       time.Duration `yaml:"dedupGuardTTL"`
	PasteMatchTolerance float64       `yaml:"pasteMatchTolerance"`
	PasteStaggerDelay   time.Duration `yaml:"pasteStaggerDelay"`
	MaxPasteNodes       int           `yaml:"maxPasteNodes"`
	MaxHistoryDepth     int           `yaml:"maxHistoryDepth"`
}

// TuningWatcher watches the tuning file and pushes validated domain
// configurations to listeners on change.
type TuningWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	logger  *zap.Logger

	mu       sync.RWMutex
	current  *domaincfg.DomainConfig
	onChange []func(*domaincfg.DomainConfig)

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewTuningWatcher loads the tuning file and creates a watcher over it.
// base supplies the values the file does not override.
func NewTuningWatcher(path string, base *domaincfg.DomainConfig, logger *zap.Logger) (*TuningWatcher, error) {
	current, err := loadTuning(path, base)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial tuning: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch tuning file: %w", err)
	}
	// Editors often save atomically through a rename, which drops the file
	// watch; the directory watch catches those.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		logger.Warn("failed to watch tuning directory", zap.Error(err))
	}

	return &TuningWatcher{
		path:    path,
		watcher: watcher,
		logger:  logger,
		current: current,
		stopCh:  make(chan struct{}),
	}, nil
}

// Current returns the most recently loaded domain configuration.
func (w *TuningWatcher) Current() *domaincfg.DomainConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnChange registers a listener invoked with each validated reload.
// Register listeners before Start.
func (w *TuningWatcher) OnChange(fn func(*domaincfg.DomainConfig)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// Start begins watching for tuning changes.
func (w *TuningWatcher) Start() {
	go w.watchLoop()
	w.logger.Info("tuning watcher started", zap.String("path", w.path))
}

// Stop stops watching. Idempotent.
func (w *TuningWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.watcher.Close()
	})
}

func (w *TuningWatcher) watchLoop() {
	var debounceTimer *time.Timer
	debounceDuration := 100 * time.Millisecond

	for {
		select {
		case <-w.stopCh:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDuration, w.reload)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", zap.Error(err))
		}
	}
}

func (w *TuningWatcher) reload() {
	w.logger.Info("tuning file changed, reloading", zap.String("path", w.path))

	next, err := loadTuning(w.path, w.Current())
	if err != nil {
		w.logger.Error("failed to reload tuning, keeping current", zap.Error(err))
		return
	}

	w.mu.Lock()
	w.current = next
	listeners := w.onChange
	w.mu.Unlock()

	for _, fn := range listeners {
		fn(next)
	}
	w.logger.Info("tuning reloaded",
		zap.Duration("echo_suppression_ttl", next.EchoSuppressionTTL),
		zap.Float64("paste_match_tolerance", next.PasteMatchTolerance))
}

// loadTuning reads the YAML file and overlays it on base. Zero values in
// the file leave the base value in place; out-of-range values are pulled
// back to defaults by DomainConfig.Validate.
func loadTuning(path string, base *domaincfg.DomainConfig) (*domaincfg.DomainConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var t Tuning
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("malformed tuning file: %w", err)
	}

	out := *base
	if t.EchoSuppressionTTL > 0 {
		out.EchoSuppressionTTL = t.EchoSuppressionTTL
	}
	if t.DedupGuardTTL > 0 {
		out.DedupGuardTTL = t.DedupGuardTTL
	}
	if t.PasteMatchTolerance > 0 {
		out.PasteMatchTolerance = t.PasteMatchTolerance
	}
	if t.PasteStaggerDelay > 0 {
		out.PasteStaggerDelay = t.PasteStaggerDelay
	}
	if t.MaxPasteNodes > 0 {
		out.MaxPasteNodes = t.MaxPasteNodes
	}
	if t.MaxHistoryDepth > 0 {
		out.MaxHistoryDepth = t.MaxHistoryDepth
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}
