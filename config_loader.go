// config_loader.go: Raw option loading and change-triggered reconciliation
//
// The administrator's options live in a single file. Its format is detected
// by argus; YAML goes through gopkg.in/yaml.v3 for full spec support and
// every other format (JSON, TOML, HCL, INI, properties) through argus.
// ConfigWatcher turns file changes into reconciliation passes, one at a
// time.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package reconciler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/argus"
	"gopkg.in/yaml.v3"
)

// LoadRawConfig reads and decodes the options file at path.
func LoadRawConfig(path string) (RawConfig, error) {
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath) // #nosec G304 -- operator supplied options file
	if err != nil {
		return nil, NewConfigLoadError(path, err)
	}
	return ParseRawConfig(data, argus.DetectFormat(cleanPath))
}

// ParseRawConfig decodes data in the given format.
func ParseRawConfig(data []byte, format argus.ConfigFormat) (RawConfig, error) {
	var doc map[string]interface{}

	switch format {
	case argus.FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, NewConfigLoadError("yaml", err)
		}
	default:
		parsed, err := argus.ParseConfig(data, format)
		if err != nil {
			return nil, NewConfigLoadError(fmt.Sprint(format), err)
		}
		doc = parsed
	}

	if doc == nil {
		doc = make(map[string]interface{})
	}
	return NormalizeRawConfig(doc), nil
}

// PassRunner executes one reconciliation pass.
type PassRunner interface {
	Reconcile(ctx context.Context, raw RawConfig) (PassResult, error)
}

// ConfigWatcherOptions configures file polling.
type ConfigWatcherOptions struct {
	PollInterval time.Duration
	// CacheTTL for argus stat caching; should be <= PollInterval.
	CacheTTL time.Duration
}

// DefaultConfigWatcherOptions returns the default polling settings.
func DefaultConfigWatcherOptions() ConfigWatcherOptions {
	return ConfigWatcherOptions{
		PollInterval: 5 * time.Second,
		CacheTTL:     2 * time.Second,
	}
}

// ConfigWatcher runs a pass at start and on every change of the options
// file. Passes never overlap.
type ConfigWatcher struct {
	runner     PassRunner
	watcher    *argus.Watcher
	configPath string
	logger     Logger
	options    ConfigWatcherOptions

	mu     sync.Mutex // start/stop
	passMu sync.Mutex // one pass at a time
	ctx    context.Context

	running  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	passes   atomic.Int64
}

// NewConfigWatcher creates a watcher for configPath. logger may be nil or
// a Logger.
func NewConfigWatcher(runner PassRunner, configPath string, options ConfigWatcherOptions, logger any) (*ConfigWatcher, error) {
	if runner == nil {
		return nil, NewConfigWatcherError("runner is required", nil)
	}
	if configPath == "" {
		return nil, NewConfigWatcherError("config path is required", nil)
	}
	if options.PollInterval <= 0 {
		options.PollInterval = DefaultConfigWatcherOptions().PollInterval
	}
	if options.CacheTTL <= 0 || options.CacheTTL > options.PollInterval {
		options.CacheTTL = options.PollInterval / 2
	}

	internalLogger := NewLogger(logger)

	watcher := argus.New(argus.Config{
		PollInterval:         options.PollInterval,
		CacheTTL:             options.CacheTTL,
		MaxWatchedFiles:      1,
		OptimizationStrategy: argus.OptimizationSingleEvent,
		ErrorHandler: func(err error, path string) {
			internalLogger.Error("Argus file watching error", "error", err, "file", path)
		},
	})

	return &ConfigWatcher{
		runner:     runner,
		watcher:    watcher,
		configPath: configPath,
		logger:     internalLogger,
		options:    options,
	}, nil
}

// Start runs the initial pass and begins watching. ctx bounds every pass
// triggered by the watcher.
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	if cw.stopped.Load() {
		return NewConfigWatcherError("watcher has been stopped and cannot be restarted", nil)
	}

	cw.mu.Lock()
	defer cw.mu.Unlock()

	if !cw.running.CompareAndSwap(false, true) {
		return NewConfigWatcherError("watcher is already running", nil)
	}
	cw.ctx = ctx

	raw, err := LoadRawConfig(cw.configPath)
	if err != nil {
		cw.running.Store(false)
		return err
	}
	cw.runPass(raw)

	if err := cw.watcher.Watch(cw.configPath, cw.handleConfigChange); err != nil {
		cw.running.Store(false)
		return NewConfigWatcherError("failed to watch "+cw.configPath, err)
	}
	if err := cw.watcher.Start(); err != nil {
		cw.running.Store(false)
		return NewConfigWatcherError("failed to start argus watcher", err)
	}

	cw.logger.Info("Configuration watcher started",
		"config_path", cw.configPath,
		"poll_interval", cw.options.PollInterval)
	return nil
}

// Stop stops watching. It may be called once; later calls return an error.
func (cw *ConfigWatcher) Stop() error {
	if cw.stopped.Load() {
		return NewConfigWatcherError("watcher is already stopped", nil)
	}

	var stopErr error
	cw.stopOnce.Do(func() {
		cw.mu.Lock()
		defer cw.mu.Unlock()

		cw.stopped.Store(true)
		if !cw.running.CompareAndSwap(true, false) {
			stopErr = NewConfigWatcherError("watcher is not running", nil)
			return
		}
		if err := cw.watcher.Stop(); err != nil {
			stopErr = NewConfigWatcherError("failed to stop argus watcher", err)
			return
		}
		cw.logger.Info("Configuration watcher stopped")
	})
	return stopErr
}

// IsRunning reports whether the watcher is active.
func (cw *ConfigWatcher) IsRunning() bool {
	return cw.running.Load()
}

// Passes returns the number of passes run so far.
func (cw *ConfigWatcher) Passes() int64 {
	return cw.passes.Load()
}

func (cw *ConfigWatcher) handleConfigChange(event argus.ChangeEvent) {
	cw.logger.Debug("Options file change detected",
		"path", event.Path,
		"mod_time", event.ModTime,
		"size", event.Size,
		"is_create", event.IsCreate,
		"is_delete", event.IsDelete,
		"is_modify", event.IsModify)

	if event.IsDelete {
		cw.logger.Warn("Options file was deleted, keeping current state", "path", event.Path)
		return
	}

	raw, err := LoadRawConfig(event.Path)
	if err != nil {
		cw.logger.Error("Failed to load options", "error", err, "path", event.Path)
		return
	}
	cw.runPass(raw)
}

func (cw *ConfigWatcher) runPass(raw RawConfig) {
	cw.passMu.Lock()
	defer cw.passMu.Unlock()

	ctx := cw.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}

	cw.passes.Add(1)
	result, err := cw.runner.Reconcile(ctx, raw)
	if err != nil {
		cw.logger.Error("Reconciliation pass failed", "pass_id", result.PassID, "error", err)
		return
	}
	cw.logger.Info("Reconciliation pass finished", "pass_id", result.PassID, "outcome", result.Outcome)
}
