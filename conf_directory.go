// conf_directory.go: Reconciliation of the per-plugin configuration directory
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package reconciler

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Managed file naming: <Dir>/managed-<plugin>.conf. Files without the
// prefix are never touched.
const (
	managedFilePrefix = "managed-"
	managedFileSuffix = ".conf"
)

// ManagedFileName returns the file name used for plugin.
func ManagedFileName(plugin string) string {
	return managedFilePrefix + plugin + managedFileSuffix
}

// pluginFromManagedFile extracts the plugin name from a managed file name.
func pluginFromManagedFile(name string) (string, bool) {
	if !strings.HasPrefix(name, managedFilePrefix) || !strings.HasSuffix(name, managedFileSuffix) {
		return "", false
	}
	plugin := strings.TrimSuffix(strings.TrimPrefix(name, managedFilePrefix), managedFileSuffix)
	return plugin, plugin != ""
}

// Diff lists the plugins whose files were written or removed by a run.
type Diff struct {
	Written []string
	Removed []string
}

// Empty reports whether the run changed nothing.
func (d Diff) Empty() bool {
	return len(d.Written) == 0 && len(d.Removed) == 0
}

// ConfDirectoryConfig configures a ConfDirectoryReconciler.
type ConfDirectoryConfig struct {
	Dir      string
	Renderer Renderer
	Logger   Logger
}

// ConfDirectoryReconciler converges the managed files of the per-plugin
// configuration directory onto the current plugin set.
type ConfDirectoryReconciler struct {
	dir      string
	renderer Renderer
	logger   Logger
}

// NewConfDirectoryReconciler creates a reconciler.
func NewConfDirectoryReconciler(config ConfDirectoryConfig) *ConfDirectoryReconciler {
	if config.Logger == nil {
		config.Logger = DefaultLogger()
	}
	if config.Renderer == nil {
		config.Renderer = NewTemplateRenderer("")
	}
	return &ConfDirectoryReconciler{
		dir:      config.Dir,
		renderer: config.Renderer,
		logger:   config.Logger,
	}
}

// Dir returns the managed directory.
func (r *ConfDirectoryReconciler) Dir() string {
	return r.dir
}

// Reconcile renders a file for every plugin that has a template, writes
// the ones whose content changed, then deletes managed files of plugins
// that no longer have one.
func (r *ConfDirectoryReconciler) Reconcile(ctx context.Context, plugins PluginSet, resolved ResolvedConfig) (Diff, error) {
	var diff Diff

	if err := os.MkdirAll(r.dir, 0o755); err != nil { // #nosec G301 -- collector config directory
		return diff, NewFileSystemError(r.dir, "create", err)
	}

	data := RenderContext{Config: resolved, Plugins: plugins.Names(), ConfDir: r.dir}
	desired := make(map[string]struct{}, plugins.Len())

	for _, plugin := range plugins.Names() {
		if err := ctx.Err(); err != nil {
			return diff, err
		}

		content, err := r.renderer.Render(PluginTemplateID(plugin), data)
		if err != nil {
			if HasErrorCode(err, ErrCodeTemplateNotFound) {
				continue
			}
			return diff, err
		}
		desired[plugin] = struct{}{}

		written, err := WriteFileIfChanged(filepath.Join(r.dir, ManagedFileName(plugin)), content, 0o644)
		if err != nil {
			return diff, err
		}
		if written {
			diff.Written = append(diff.Written, plugin)
			r.logger.Debug("Wrote plugin configuration", "plugin", plugin)
		}
	}

	present, err := r.managedPlugins()
	if err != nil {
		return diff, err
	}
	for _, plugin := range present {
		if _, keep := desired[plugin]; keep {
			continue
		}
		removed, err := RemoveFileIfExists(filepath.Join(r.dir, ManagedFileName(plugin)))
		if err != nil {
			return diff, err
		}
		if removed {
			diff.Removed = append(diff.Removed, plugin)
			r.logger.Debug("Removed plugin configuration", "plugin", plugin)
		}
	}

	return diff, nil
}

// ManagedFiles returns the paths of the managed files currently present,
// sorted by plugin name.
func (r *ConfDirectoryReconciler) ManagedFiles() ([]string, error) {
	plugins, err := r.managedPlugins()
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(plugins))
	for _, plugin := range plugins {
		paths = append(paths, filepath.Join(r.dir, ManagedFileName(plugin)))
	}
	return paths, nil
}

// managedPlugins lists the plugins that currently have a managed file,
// sorted by name.
func (r *ConfDirectoryReconciler) managedPlugins() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, NewFileSystemError(r.dir, "list", err)
	}

	var plugins []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if plugin, ok := pluginFromManagedFile(entry.Name()); ok {
			plugins = append(plugins, plugin)
		}
	}
	sort.Strings(plugins)
	return plugins, nil
}
