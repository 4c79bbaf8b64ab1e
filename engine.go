// engine.go: The reconciliation pass
//
// A pass takes the administrator's raw options and converges the host onto
// them:
//
//	raw options ──▶ snapshot gate ──▶ resolve ──▶ validate ──▶ plugins
//	    ──▶ conf directory ──▶ primary config ──▶ primary service
//	    ──▶ exporter sidecar ──▶ save state
//
// Resolution, validation and plugin errors stop the pass before any file is
// touched and surface as a waiting status. Later failures surface as a
// blocked status. Any failure forgets the raw snapshot so the next trigger
// runs the pass again from scratch.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package reconciler

import (
	"context"
	"time"

	"github.com/agilira/go-timecache"
	"github.com/google/uuid"
)

// PassOutcome classifies how a pass ended.
type PassOutcome string

const (
	// PassApplied means the host was converged.
	PassApplied PassOutcome = "applied"
	// PassSkipped means the raw options were unchanged since the last
	// successful pass.
	PassSkipped PassOutcome = "skipped"
	// PassWaiting means the options were unusable; nothing was mutated.
	PassWaiting PassOutcome = "waiting"
	// PassBlocked means an operational step failed.
	PassBlocked PassOutcome = "blocked"
	// PassDegraded means the primary service converged but the exporter
	// branch failed.
	PassDegraded PassOutcome = "degraded"
)

// PassResult describes one pass.
type PassResult struct {
	PassID     string
	Outcome    PassOutcome
	StartedAt  time.Time
	FinishedAt time.Time
	Status     Status

	Resolved             *ResolvedConfig
	Plugins              []string
	ConfDiff             Diff
	PrimaryConfigWritten bool
	PrimaryAction        ServiceAction
	Exporter             ExporterResult
	ExporterErr          error
}

// EngineConfig wires the engine. Every nil collaborator gets its
// production implementation built from Options.
type EngineConfig struct {
	Options EngineOptions
	Logger  Logger

	Hostnames  HostnameLookup
	Probe      PluginProbe
	Renderer   Renderer
	Controller ServiceController
	Ports      PortManager
	Fetcher    ArtifactFetcher
	State      StateStore
	Status     StatusSink
	Audit      AuditTrail
}

// Engine runs reconciliation passes. Passes must not run concurrently; the
// caller (or ConfigWatcher) serialises them.
type Engine struct {
	options EngineOptions
	logger  Logger

	resolver   *ConfigResolver
	validator  *ConfigValidator
	plugins    *PluginResolver
	confDir    *ConfDirectoryReconciler
	renderer   Renderer
	services   *ServiceReconciler
	exporter   *ExporterLifecycleManager
	monitoring *MonitoringMirror

	store  StateStore
	status StatusSink
	audit  AuditTrail
}

// NewEngine builds an engine. It fails only when the audit trail cannot be
// opened.
func NewEngine(config EngineConfig) (*Engine, error) {
	options := config.Options.withDefaults()
	logger := config.Logger
	if logger == nil {
		logger = DefaultLogger()
	}

	if config.Hostnames == nil {
		config.Hostnames = NewHostFactsLookup()
	}
	if config.Probe == nil {
		config.Probe = NewFilesystemPluginProbe(options.PluginDir)
	}
	if config.Renderer == nil {
		config.Renderer = NewTemplateRenderer(options.TemplateDir)
	}
	if config.Controller == nil {
		config.Controller = NewSystemdController(SystemdControllerConfig{Logger: logger})
	}
	if config.State == nil {
		config.State = NewFileStateStore(options.StateFile)
	}
	if config.Status == nil {
		config.Status = NewLogStatusSink(logger)
	}
	if config.Audit == nil {
		if options.AuditFile != "" {
			trail, err := NewArgusAuditTrail(DefaultAuditTrailConfig(options.AuditFile))
			if err != nil {
				return nil, err
			}
			config.Audit = trail
		} else {
			config.Audit = NoOpAuditTrail{}
		}
	}

	return &Engine{
		options:   options,
		logger:    logger,
		resolver:  NewConfigResolver(config.Hostnames),
		validator: NewConfigValidator(),
		plugins:   NewPluginResolver(config.Probe),
		confDir: NewConfDirectoryReconciler(ConfDirectoryConfig{
			Dir:      options.ConfDir,
			Renderer: config.Renderer,
			Logger:   logger,
		}),
		renderer: config.Renderer,
		services: NewServiceReconciler(config.Controller, logger),
		exporter: NewExporterLifecycleManager(ExporterConfig{
			Service:    options.ExporterService,
			BinaryPath: options.ExporterBinaryPath,
			ReleaseURL: options.ExporterReleaseURL,
			UnitFile:   options.ExporterUnitFile,
			ArgsFile:   options.ExporterArgsFile,
			Fetcher:    config.Fetcher,
			Controller: config.Controller,
			Ports:      config.Ports,
			Renderer:   config.Renderer,
			Audit:      config.Audit,
			Logger:     logger,
		}),
		monitoring: NewMonitoringMirror(MonitoringConfig{
			CheckFile:  options.NRPECheckFile,
			ExportDir:  options.NagiosExportDir,
			Renderer:   config.Renderer,
			Controller: config.Controller,
			Audit:      config.Audit,
			Logger:     logger,
		}),
		store:  config.State,
		status: config.Status,
		audit:  config.Audit,
	}, nil
}

// Options returns the engine options in effect.
func (e *Engine) Options() EngineOptions {
	return e.options
}

// Close releases the audit trail.
func (e *Engine) Close() error {
	return e.audit.Close()
}

// Reconcile runs one pass over raw.
func (e *Engine) Reconcile(ctx context.Context, raw RawConfig) (result PassResult, err error) {
	result = PassResult{
		PassID:    uuid.New().String(),
		StartedAt: timecache.CachedTime(),
	}
	logger := e.logger.With("pass_id", result.PassID)
	ctx = ContextWithLogger(ctx, logger)
	defer func() { result.FinishedAt = timecache.CachedTime() }()

	state, err := e.store.Load(ctx)
	if err != nil {
		status := Status{Kind: StatusBlocked, Message: UserMessageOf(err)}
		e.status.SetStatus(status)
		result.Outcome = PassBlocked
		result.Status = status
		return result, err
	}
	tracker := NewChangeTracker(state.Fingerprints)
	state.Fingerprints = tracker.fingerprints

	snapshot, err := raw.Snapshot()
	if err != nil {
		return e.abort(ctx, &result, state, tracker, StatusWaiting, PassWaiting, err)
	}
	if !tracker.Changed(RawConfigKey, snapshot) {
		logger.Debug("Options unchanged, skipping pass")
		result.Outcome = PassSkipped
		return result, nil
	}

	e.status.SetStatus(Status{Kind: StatusMaintenance, Message: "Applying configuration"})
	logger.Info("Reconciliation pass started")

	// Nothing below this point may mutate the host until plugins resolve.
	resolved, err := e.resolver.Resolve(ctx, raw)
	if err != nil {
		return e.abort(ctx, &result, state, tracker, StatusWaiting, PassWaiting, err)
	}
	result.Resolved = &resolved

	if validation := e.validator.Validate(resolved); !validation.OK {
		return e.abort(ctx, &result, state, tracker, StatusWaiting, PassWaiting, validation.Err)
	}

	plugins, err := e.plugins.ResolvePlugins(resolved)
	if err != nil {
		return e.abort(ctx, &result, state, tracker, StatusWaiting, PassWaiting, err)
	}
	result.Plugins = plugins.Names()

	diff, err := e.confDir.Reconcile(ctx, plugins, resolved)
	result.ConfDiff = diff
	e.auditDiff(diff)
	if err != nil {
		return e.abort(ctx, &result, state, tracker, StatusBlocked, PassBlocked, err)
	}

	configChanged, err := e.applyPrimaryConfig(&result, plugins, resolved, tracker)
	if err != nil {
		return e.abort(ctx, &result, state, tracker, StatusBlocked, PassBlocked, err)
	}

	primary := state.Service(e.options.PrimaryService)
	primary.ConfigFingerprint = tracker.FingerprintOf(primaryConfigKey(e.options))
	primary.RequestStart()
	action, err := e.services.Reconcile(ctx, e.options.PrimaryService, primary, configChanged)
	if err != nil {
		tracker.Forget(primaryConfigKey(e.options))
		return e.abort(ctx, &result, state, tracker, StatusBlocked, PassBlocked, err)
	}
	result.PrimaryAction = action
	e.auditServiceAction(e.options.PrimaryService, action)

	exporterResult, err := e.exporter.Reconcile(ctx, resolved.Exporter, state, tracker)
	result.Exporter = exporterResult
	if err != nil {
		result.ExporterErr = err
		logger.Error("Exporter reconciliation failed", "error", err)
		return e.abort(ctx, &result, state, tracker, StatusBlocked, PassDegraded, err)
	}

	if err := e.store.Save(ctx, state); err != nil {
		tracker.Forget(RawConfigKey)
		status := Status{Kind: StatusBlocked, Message: UserMessageOf(err)}
		e.status.SetStatus(status)
		result.Outcome = PassBlocked
		result.Status = status
		return result, err
	}

	status := Status{Kind: StatusActive, Message: "Ready"}
	e.status.SetStatus(status)
	result.Status = status
	result.Outcome = PassApplied
	e.audit.Record(AuditPassCompleted, "Reconciliation pass completed", map[string]interface{}{
		"pass_id":        result.PassID,
		"plugins":        result.Plugins,
		"primary_action": string(result.PrimaryAction),
	})
	logger.Info("Reconciliation pass completed",
		"plugins", len(result.Plugins),
		"written", len(diff.Written),
		"removed", len(diff.Removed),
		"primary_action", result.PrimaryAction,
		"exporter_action", exporterResult.Action)
	return result, nil
}

// SyncMonitoring mirrors the monitoring relation onto the check files.
func (e *Engine) SyncMonitoring(ctx context.Context, available bool, opts NagiosOptions) (MonitoringResult, error) {
	return e.monitoring.Sync(ctx, available, opts)
}

// applyPrimaryConfig renders and writes the primary config file and
// reports whether the primary service must pick up new configuration.
// The tracked fingerprint covers the primary file and every managed plugin
// file, so files written by an interrupted pass still trigger the restart
// on the next one.
func (e *Engine) applyPrimaryConfig(result *PassResult, plugins PluginSet, resolved ResolvedConfig, tracker *ChangeTracker) (bool, error) {
	content, err := e.renderer.Render(TemplatePrimaryConfig, RenderContext{
		Config:  resolved,
		Plugins: plugins.Names(),
		ConfDir: e.confDir.Dir(),
	})
	if err != nil {
		return false, err
	}

	written, err := WriteFileIfChanged(e.options.PrimaryConfigFile, content, 0o644)
	if err != nil {
		return false, err
	}
	result.PrimaryConfigWritten = written
	if written {
		e.audit.Record(AuditFileWritten, "Primary configuration written", map[string]interface{}{"path": e.options.PrimaryConfigFile})
	}

	managed, err := e.confDir.ManagedFiles()
	if err != nil {
		return false, err
	}
	return tracker.FilesChanged(primaryConfigKey(e.options), append([]string{e.options.PrimaryConfigFile}, managed...)...)
}

// primaryConfigKey is the tracker key of the collector's configuration.
func primaryConfigKey(options EngineOptions) string {
	return FileKey(options.PrimaryConfigFile)
}

func (e *Engine) abort(ctx context.Context, result *PassResult, state *EngineState, tracker *ChangeTracker, kind StatusKind, outcome PassOutcome, err error) (PassResult, error) {
	logger := LoggerFromContext(ctx)
	tracker.Forget(RawConfigKey)

	status := Status{Kind: kind, Message: UserMessageOf(err)}
	e.status.SetStatus(status)
	result.Status = status
	result.Outcome = outcome

	e.audit.Record(AuditPassFailed, "Reconciliation pass failed", map[string]interface{}{
		"pass_id": result.PassID,
		"code":    string(ErrorCodeOf(err)),
		"reason":  status.Message,
	})
	logger.Warn("Reconciliation pass aborted", "outcome", outcome, "reason", status.Message, "error", err)

	if saveErr := e.store.Save(ctx, state); saveErr != nil {
		logger.Error("Failed to save state after aborted pass", "error", saveErr)
	}
	return *result, err
}

func (e *Engine) auditDiff(diff Diff) {
	for _, plugin := range diff.Written {
		e.audit.Record(AuditFileWritten, "Plugin configuration written", map[string]interface{}{"plugin": plugin})
	}
	for _, plugin := range diff.Removed {
		e.audit.Record(AuditFileRemoved, "Plugin configuration removed", map[string]interface{}{"plugin": plugin})
	}
}

func (e *Engine) auditServiceAction(name ServiceName, action ServiceAction) {
	ctx := map[string]interface{}{"service": string(name)}
	switch action {
	case ActionStart:
		e.audit.Record(AuditServiceStarted, "Service started", ctx)
	case ActionRestart:
		e.audit.Record(AuditServiceRestart, "Service restarted", ctx)
	}
}
