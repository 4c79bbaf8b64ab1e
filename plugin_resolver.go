// plugin_resolver.go: Plugin set derivation and binary availability checks
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package reconciler

import (
	"os"
	"path/filepath"
	"strings"
)

// DefaultPluginSelection is the sentinel selecting the built-in plugin list.
const DefaultPluginSelection = "default"

// Plugins implied by resolved targets.
const (
	PluginGraphiteWriter = "graphite-writer"
	PluginNetwork        = "network"
	PluginHTTPWriter     = "http-writer"
)

// DefaultPlugins is the built-in list used for the "default" selection.
var DefaultPlugins = []string{
	"syslog",
	"battery",
	"cpu",
	"df",
	"disk",
	"entropy",
	"interface",
	"irq",
	"load",
	"memory",
	"processes",
	"rrdtool",
	"swap",
	"users",
}

// pluginArtifacts maps plugin names to the collector module they load.
var pluginArtifacts = map[string]string{
	PluginGraphiteWriter: "write_graphite",
	PluginHTTPWriter:     "write_http",
}

// PluginArtifact returns the name of the collector module backing plugin.
func PluginArtifact(plugin string) string {
	if artifact, ok := pluginArtifacts[plugin]; ok {
		return artifact
	}
	return plugin
}

// PluginProbe answers whether a plugin's binary artifact is installed.
type PluginProbe interface {
	PluginInstalled(name string) bool
	// ArtifactPath is where the probe looks for the plugin, for diagnostics.
	ArtifactPath(name string) string
}

// FilesystemPluginProbe looks for <Dir>/<artifact>.so.
type FilesystemPluginProbe struct {
	Dir string
}

// NewFilesystemPluginProbe creates a probe rooted at dir.
func NewFilesystemPluginProbe(dir string) *FilesystemPluginProbe {
	return &FilesystemPluginProbe{Dir: dir}
}

// ArtifactPath implements PluginProbe.
func (p *FilesystemPluginProbe) ArtifactPath(name string) string {
	return filepath.Join(p.Dir, PluginArtifact(name)+".so")
}

// PluginInstalled implements PluginProbe.
func (p *FilesystemPluginProbe) PluginInstalled(name string) bool {
	info, err := os.Stat(p.ArtifactPath(name))
	return err == nil && !info.IsDir()
}

// PluginResolver derives the PluginSet of a pass.
type PluginResolver struct {
	probe PluginProbe
}

// NewPluginResolver creates a resolver backed by probe.
func NewPluginResolver(probe PluginProbe) *PluginResolver {
	return &PluginResolver{probe: probe}
}

// ResolvePlugins builds the ordered plugin set. If any candidate is not
// installed the whole resolution fails with MissingPluginBinary and no
// partial set is returned.
func (r *PluginResolver) ResolvePlugins(resolved ResolvedConfig) (PluginSet, error) {
	var set PluginSet

	names, err := basePlugins(resolved.PluginSelection)
	if err != nil {
		return PluginSet{}, err
	}
	for _, name := range names {
		set.Add(name)
	}

	// Implied names collapse only against identical strings.
	if resolved.Graphite != nil {
		set.Add(PluginGraphiteWriter)
	}
	if resolved.Network != nil {
		set.Add(PluginNetwork)
	}
	if resolved.Exporter != nil && resolved.Exporter.Enabled {
		set.Add(PluginHTTPWriter)
	}

	for _, name := range set.Names() {
		if !r.probe.PluginInstalled(name) {
			return PluginSet{}, NewMissingPluginBinaryError(name, r.probe.ArtifactPath(name))
		}
	}
	return set, nil
}

func basePlugins(selection string) ([]string, error) {
	selection = strings.TrimSpace(selection)
	if selection == DefaultPluginSelection {
		return DefaultPlugins, nil
	}

	var names []string
	for _, token := range strings.Split(selection, ",") {
		name := strings.TrimSpace(token)
		if name == "" {
			continue
		}
		if err := validatePluginName(name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

// validatePluginName rejects names that could escape the plugin directory
// or carry control characters.
func validatePluginName(name string) error {
	if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return NewInvalidOptionValueError(OptionPlugins, name)
	}
	for _, r := range name {
		if r < 32 || r == 127 {
			return NewInvalidOptionValueError(OptionPlugins, name)
		}
	}
	return nil
}
