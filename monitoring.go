// monitoring.go: Mirror of the monitoring relation onto NRPE check files
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package reconciler

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Monitoring defaults.
const (
	DefaultNRPECheckFile        = "/etc/nagios/nrpe.d/check_collectd.cfg"
	DefaultNagiosExportDir      = "/var/lib/nagios/export"
	DefaultCollectdCheckCommand = "/usr/lib/nagios/plugins/check_procs -C collectd -c 1:1"
	nagiosServiceFilePrefix     = "service__"
	nagiosServiceFileSuffix     = "_collectd.cfg"
)

// DefaultNRPEService is reloaded when the check definition changes.
const DefaultNRPEService ServiceName = "nagios-nrpe-server"

// NagiosOptions identify this host in the monitoring system.
type NagiosOptions struct {
	// Context prefixes the host name, e.g. "juju".
	Context string
	// ServiceGroups is the comma separated service group list.
	ServiceGroups string
	// Unit is the local unit name, e.g. "collectd/0".
	Unit string
}

// Hostname returns "<context>-<unit>" with slashes replaced by dashes.
func (o NagiosOptions) Hostname() string {
	return strings.ReplaceAll(fmt.Sprintf("%s-%s", o.Context, o.Unit), "/", "-")
}

// MonitoringConfig configures a MonitoringMirror.
type MonitoringConfig struct {
	CheckFile    string
	ExportDir    string
	NRPEService  ServiceName
	CheckCommand string
	Renderer     Renderer
	Controller   ServiceController
	Audit        AuditTrail
	Logger       Logger
}

// MonitoringResult lists the files touched by Sync.
type MonitoringResult struct {
	Written  []string
	Removed  []string
	Reloaded bool
}

// MonitoringMirror writes the check registration files while the
// monitoring relation is present and deletes them once it is gone.
type MonitoringMirror struct {
	config MonitoringConfig
}

// NewMonitoringMirror creates a mirror, defaulting unset fields.
func NewMonitoringMirror(config MonitoringConfig) *MonitoringMirror {
	if config.CheckFile == "" {
		config.CheckFile = DefaultNRPECheckFile
	}
	if config.ExportDir == "" {
		config.ExportDir = DefaultNagiosExportDir
	}
	if config.NRPEService == "" {
		config.NRPEService = DefaultNRPEService
	}
	if config.CheckCommand == "" {
		config.CheckCommand = DefaultCollectdCheckCommand
	}
	if config.Renderer == nil {
		config.Renderer = NewTemplateRenderer("")
	}
	if config.Logger == nil {
		config.Logger = DefaultLogger()
	}
	if config.Controller == nil {
		config.Controller = NewSystemdController(SystemdControllerConfig{Logger: config.Logger})
	}
	if config.Audit == nil {
		config.Audit = NoOpAuditTrail{}
	}
	return &MonitoringMirror{config: config}
}

// ServiceFile is the exported service definition path for opts.
func (m *MonitoringMirror) ServiceFile(opts NagiosOptions) string {
	return filepath.Join(m.config.ExportDir, nagiosServiceFilePrefix+opts.Hostname()+nagiosServiceFileSuffix)
}

// Sync mirrors the relation state. The NRPE service is reloaded only when
// the check file content changed.
func (m *MonitoringMirror) Sync(ctx context.Context, available bool, opts NagiosOptions) (MonitoringResult, error) {
	if !available {
		return m.wipe()
	}

	var result MonitoringResult
	data := MonitoringRenderContext{
		Hostname:     opts.Hostname(),
		ServiceGroup: opts.ServiceGroups,
		CheckCommand: m.config.CheckCommand,
	}

	check, err := m.config.Renderer.Render(TemplateNRPECheck, data)
	if err != nil {
		return result, err
	}
	checkChanged, err := m.write(&result, m.config.CheckFile, check)
	if err != nil {
		return result, err
	}

	service, err := m.config.Renderer.Render(TemplateNagiosService, data)
	if err != nil {
		return result, err
	}
	if _, err := m.write(&result, m.ServiceFile(opts), service); err != nil {
		return result, err
	}

	if checkChanged {
		if err := m.config.Controller.Reload(ctx, m.config.NRPEService); err != nil {
			return result, asServiceControlError(m.config.NRPEService, "reload", err)
		}
		result.Reloaded = true
		m.config.Logger.Info("NRPE service reloaded", "service", m.config.NRPEService)
	}
	return result, nil
}

func (m *MonitoringMirror) write(result *MonitoringResult, path string, content []byte) (bool, error) {
	written, err := WriteFileIfChanged(path, content, 0o644)
	if err != nil {
		return false, err
	}
	if written {
		result.Written = append(result.Written, path)
		m.config.Audit.Record(AuditFileWritten, "Monitoring file written", map[string]interface{}{"path": path})
	}
	return written, nil
}

func (m *MonitoringMirror) wipe() (MonitoringResult, error) {
	var result MonitoringResult

	exported, err := filepath.Glob(filepath.Join(m.config.ExportDir, nagiosServiceFilePrefix+"*"+nagiosServiceFileSuffix))
	if err != nil {
		return result, NewFileSystemError(m.config.ExportDir, "list", err)
	}
	sort.Strings(exported)

	for _, path := range append([]string{m.config.CheckFile}, exported...) {
		removed, err := RemoveFileIfExists(path)
		if err != nil {
			return result, err
		}
		if removed {
			result.Removed = append(result.Removed, path)
			m.config.Audit.Record(AuditFileRemoved, "Monitoring file removed", map[string]interface{}{"path": path})
		}
	}
	return result, nil
}
