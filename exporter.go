// exporter.go: Lifecycle of the local metrics exporter sidecar
//
// The sidecar is managed only when the exporter target resolves to a
// loopback endpoint. A pass then:
//
//  1. installs the exporter binary if it is absent (one download per host)
//  2. moves the port reservation (open new, record, close old)
//  3. registers the unit once, if the init system does not know it
//  4. renders the sidecar arguments and starts or restarts the service
//     under the same fingerprint discipline as the primary service
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package reconciler

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Exporter defaults.
const (
	DefaultExporterBinaryPath = "/usr/local/bin/collectd_exporter"
	DefaultExporterBinaryName = "collectd_exporter"
	DefaultExporterReleaseURL = "https://github.com/prometheus/collectd_exporter/releases/download/v0.4.0/collectd_exporter-0.4.0.linux-amd64.tar.gz"
	DefaultExporterUnitFile   = "/etc/systemd/system/collectd-exporter.service"
	DefaultExporterArgsFile   = "/etc/default/collectd-exporter"
	exporterPortProtocol      = "tcp"
)

// DefaultExporterService is the sidecar's unit name.
const DefaultExporterService ServiceName = "collectd-exporter"

// ExporterConfig configures an ExporterLifecycleManager.
type ExporterConfig struct {
	Service    ServiceName
	BinaryPath string
	// BinaryName is the executable to take from the release archive.
	BinaryName string
	ReleaseURL string
	UnitFile   string
	ArgsFile   string
	// WorkDir hosts temporary download directories ("" = os.TempDir()).
	WorkDir string

	Fetcher    ArtifactFetcher
	Controller ServiceController
	Ports      PortManager
	Renderer   Renderer
	Audit      AuditTrail
	Logger     Logger
}

// DefaultExporterConfig returns the stock sidecar layout.
func DefaultExporterConfig() ExporterConfig {
	return ExporterConfig{
		Service:    DefaultExporterService,
		BinaryPath: DefaultExporterBinaryPath,
		BinaryName: DefaultExporterBinaryName,
		ReleaseURL: DefaultExporterReleaseURL,
		UnitFile:   DefaultExporterUnitFile,
		ArgsFile:   DefaultExporterArgsFile,
	}
}

// ExporterResult summarises what a pass did for the sidecar.
type ExporterResult struct {
	Active          bool
	BinaryInstalled bool
	PortChanged     bool
	Registered      bool
	Action          ServiceAction
}

// ExporterLifecycleManager manages the sidecar exporter.
type ExporterLifecycleManager struct {
	config   ExporterConfig
	services *ServiceReconciler
}

// NewExporterLifecycleManager creates a manager. Unset collaborators get
// their production defaults.
func NewExporterLifecycleManager(config ExporterConfig) *ExporterLifecycleManager {
	defaults := DefaultExporterConfig()
	if config.Service == "" {
		config.Service = defaults.Service
	}
	if config.BinaryPath == "" {
		config.BinaryPath = defaults.BinaryPath
	}
	if config.BinaryName == "" {
		config.BinaryName = defaults.BinaryName
	}
	if config.ReleaseURL == "" {
		config.ReleaseURL = defaults.ReleaseURL
	}
	if config.UnitFile == "" {
		config.UnitFile = defaults.UnitFile
	}
	if config.ArgsFile == "" {
		config.ArgsFile = defaults.ArgsFile
	}
	if config.Logger == nil {
		config.Logger = DefaultLogger()
	}
	if config.Fetcher == nil {
		config.Fetcher = NewFetchBreaker(NewHTTPArtifactFetcher(DefaultHTTPArtifactFetcherConfig()), DefaultFetchBreakerConfig(), config.Logger)
	}
	if config.Controller == nil {
		config.Controller = NewSystemdController(SystemdControllerConfig{Logger: config.Logger})
	}
	if config.Ports == nil {
		config.Ports = NewCommandPortManager(nil)
	}
	if config.Renderer == nil {
		config.Renderer = NewTemplateRenderer("")
	}
	if config.Audit == nil {
		config.Audit = NoOpAuditTrail{}
	}
	return &ExporterLifecycleManager{
		config:   config,
		services: NewServiceReconciler(config.Controller, config.Logger),
	}
}

// Reconcile converges the sidecar onto exporter. It is a no-op unless the
// exporter is local. ArtifactFetchFailure aborts only this branch.
func (m *ExporterLifecycleManager) Reconcile(ctx context.Context, exporter *ExporterTarget, state *EngineState, tracker *ChangeTracker) (ExporterResult, error) {
	var result ExporterResult
	if !exporter.IsLocal() {
		return result, nil
	}
	result.Active = true

	installed, err := m.EnsureBinary(ctx)
	if err != nil {
		return result, err
	}
	result.BinaryInstalled = installed

	changed, err := m.reconcilePort(ctx, exporter.Local.Port, &state.ExporterPort)
	if err != nil {
		return result, err
	}
	result.PortChanged = changed

	registered, err := m.ensureRegistered(ctx, exporter)
	if err != nil {
		return result, err
	}
	result.Registered = registered

	args, err := m.config.Renderer.Render(TemplateExporterArgs, m.renderContext(exporter))
	if err != nil {
		return result, err
	}
	written, err := WriteFileIfChanged(m.config.ArgsFile, args, 0o644)
	if err != nil {
		return result, err
	}
	if written {
		m.config.Audit.Record(AuditFileWritten, "Exporter arguments written", map[string]interface{}{"path": m.config.ArgsFile})
	}

	key := FileKey(m.config.ArgsFile)
	configChanged := tracker.Changed(key, args)

	svc := state.Service(m.config.Service)
	svc.ConfigFingerprint = Fingerprint(args)
	svc.RequestStart()

	action, err := m.services.Reconcile(ctx, m.config.Service, svc, configChanged)
	if err != nil {
		tracker.Forget(key)
		return result, err
	}
	result.Action = action
	m.auditServiceAction(action)

	return result, nil
}

// EnsureBinary installs the exporter executable unless it is present. It
// reports whether a download happened.
func (m *ExporterLifecycleManager) EnsureBinary(ctx context.Context) (bool, error) {
	if _, err := os.Stat(m.config.BinaryPath); err == nil {
		return false, nil
	}

	url := m.config.ReleaseURL
	workDir, err := os.MkdirTemp(m.config.WorkDir, "collectd-exporter-*")
	if err != nil {
		return false, NewArtifactFetchError(url, err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	archive := filepath.Join(workDir, "release.tar.gz")
	extractDir := filepath.Join(workDir, "release")

	m.config.Logger.Info("Downloading exporter release", "url", url)
	if err := m.config.Fetcher.Download(ctx, url, archive); err != nil {
		return false, asArtifactFetchError(url, err)
	}
	if err := m.config.Fetcher.Extract(ctx, archive, extractDir); err != nil {
		return false, asArtifactFetchError(url, err)
	}

	executable, err := findFile(extractDir, m.config.BinaryName)
	if err != nil {
		return false, NewArtifactFetchError(url, err)
	}
	if err := installExecutable(executable, m.config.BinaryPath); err != nil {
		return false, NewArtifactFetchError(url, err)
	}

	m.config.Audit.Record(AuditBinaryInstalled, "Exporter binary installed", map[string]interface{}{
		"path": m.config.BinaryPath,
		"url":  url,
	})
	m.config.Logger.Info("Exporter binary installed", "path", m.config.BinaryPath)
	return true, nil
}

// reconcilePort moves the reservation to port. The new port is opened and
// recorded before the old one is closed. A failed close is remembered in
// Releasing and retried on the next pass.
func (m *ExporterLifecycleManager) reconcilePort(ctx context.Context, port int, reservation *PortReservation) (bool, error) {
	if reservation.Releasing != 0 && reservation.Releasing != port {
		if err := m.config.Ports.ClosePort(ctx, reservation.Releasing, exporterPortProtocol); err != nil {
			return false, err
		}
		m.config.Audit.Record(AuditPortClosed, "Exporter port closed", map[string]interface{}{"port": reservation.Releasing})
		reservation.Releasing = 0
	}

	if reservation.Held() && reservation.Port == port {
		return false, nil
	}

	if err := m.config.Ports.OpenPort(ctx, port, exporterPortProtocol); err != nil {
		return false, err
	}
	m.config.Audit.Record(AuditPortOpened, "Exporter port opened", map[string]interface{}{"port": port})

	previous := *reservation
	*reservation = PortReservation{State: ReservationHeld, Port: port, Protocol: exporterPortProtocol}

	if previous.Held() && previous.Port != port {
		if err := m.config.Ports.ClosePort(ctx, previous.Port, exporterPortProtocol); err != nil {
			reservation.Releasing = previous.Port
			return true, err
		}
		m.config.Audit.Record(AuditPortClosed, "Exporter port closed", map[string]interface{}{"port": previous.Port})
	}

	m.config.Logger.Info("Exporter port reserved", "port", port, "previous", previous.Port)
	return true, nil
}

// ensureRegistered writes the unit file and, when the init system does not
// know the unit yet, enables it. There is no disable path.
func (m *ExporterLifecycleManager) ensureRegistered(ctx context.Context, exporter *ExporterTarget) (bool, error) {
	known, err := m.config.Controller.IsKnown(ctx, m.config.Service)
	if err != nil {
		return false, asServiceControlError(m.config.Service, "inspect", err)
	}

	unit, err := m.config.Renderer.Render(TemplateExporterUnit, m.renderContext(exporter))
	if err != nil {
		return false, err
	}
	written, err := WriteFileIfChanged(m.config.UnitFile, unit, 0o644)
	if err != nil {
		return false, err
	}
	if written {
		m.config.Audit.Record(AuditFileWritten, "Exporter unit written", map[string]interface{}{"path": m.config.UnitFile})
	}

	if known {
		return false, nil
	}
	if err := m.config.Controller.Enable(ctx, m.config.Service); err != nil {
		return false, asServiceControlError(m.config.Service, "enable", err)
	}
	m.config.Audit.Record(AuditServiceEnabled, "Exporter service enabled", map[string]interface{}{"service": string(m.config.Service)})
	return true, nil
}

func (m *ExporterLifecycleManager) renderContext(exporter *ExporterTarget) ExporterRenderContext {
	return ExporterRenderContext{
		Exporter:   exporter,
		BinaryPath: m.config.BinaryPath,
		ArgsFile:   m.config.ArgsFile,
	}
}

func (m *ExporterLifecycleManager) auditServiceAction(action ServiceAction) {
	ctx := map[string]interface{}{"service": string(m.config.Service)}
	switch action {
	case ActionStart:
		m.config.Audit.Record(AuditServiceStarted, "Service started", ctx)
	case ActionRestart:
		m.config.Audit.Record(AuditServiceRestart, "Service restarted", ctx)
	}
}

func asArtifactFetchError(url string, err error) error {
	if HasErrorCode(err, ErrCodeArtifactFetchFailure) {
		return err
	}
	return NewArtifactFetchError(url, err)
}

// findFile returns the first regular file named name below root.
func findFile(root, name string) (string, error) {
	var found string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if found == "" && !d.IsDir() && d.Name() == name {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", fmt.Errorf("%s not found in release archive", name)
	}
	return found, nil
}

// installExecutable moves src to dest and marks it executable. A rename
// across file systems falls back to a copy.
func installExecutable(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil { // #nosec G301 -- binary directory
		return err
	}
	if err := os.Rename(src, dest); err != nil {
		if err := copyFile(src, dest); err != nil {
			return err
		}
	}
	return os.Chmod(dest, 0o755) // #nosec G302 -- executable
}

func copyFile(src, dest string) error {
	in, err := os.Open(src) // #nosec G304 -- extracted release file
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755) // #nosec G302 G304 -- executable install path
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
