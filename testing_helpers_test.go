// testing_helpers_test.go: Fakes and fixtures shared by the package tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package reconciler

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeController records service control calls.
type fakeController struct {
	mu      sync.Mutex
	running map[ServiceName]bool
	known   map[ServiceName]bool
	fail    map[string]error // keyed "<action> <service>"
	calls   []string
}

func newFakeController() *fakeController {
	return &fakeController{
		running: make(map[ServiceName]bool),
		known:   make(map[ServiceName]bool),
		fail:    make(map[string]error),
	}
}

func (f *fakeController) record(action string, name ServiceName) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := action + " " + string(name)
	f.calls = append(f.calls, call)
	return f.fail[call]
}

func (f *fakeController) IsRunning(ctx context.Context, name ServiceName) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[name], nil
}

func (f *fakeController) Start(ctx context.Context, name ServiceName) error {
	if err := f.record("start", name); err != nil {
		return err
	}
	f.mu.Lock()
	f.running[name] = true
	f.mu.Unlock()
	return nil
}

func (f *fakeController) Restart(ctx context.Context, name ServiceName) error {
	if err := f.record("restart", name); err != nil {
		return err
	}
	f.mu.Lock()
	f.running[name] = true
	f.mu.Unlock()
	return nil
}

func (f *fakeController) Reload(ctx context.Context, name ServiceName) error {
	return f.record("reload", name)
}

func (f *fakeController) IsKnown(ctx context.Context, name ServiceName) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.known[name], nil
}

func (f *fakeController) Enable(ctx context.Context, name ServiceName) error {
	if err := f.record("enable", name); err != nil {
		return err
	}
	f.mu.Lock()
	f.known[name] = true
	f.mu.Unlock()
	return nil
}

func (f *fakeController) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeController) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// fakeProbe reports every plugin installed except the ones in missing.
type fakeProbe struct {
	missing map[string]bool
}

func newFakeProbe(missing ...string) *fakeProbe {
	p := &fakeProbe{missing: make(map[string]bool)}
	for _, name := range missing {
		p.missing[name] = true
	}
	return p
}

func (p *fakeProbe) PluginInstalled(name string) bool { return !p.missing[name] }
func (p *fakeProbe) ArtifactPath(name string) string  { return "/usr/lib/collectd/" + PluginArtifact(name) + ".so" }

// fakePorts tracks open ports and the order of calls.
type fakePorts struct {
	open     map[int]bool
	calls    []string
	closeErr error
}

func newFakePorts() *fakePorts {
	return &fakePorts{open: make(map[int]bool)}
}

func (p *fakePorts) OpenPort(ctx context.Context, port int, protocol string) error {
	p.calls = append(p.calls, fmt.Sprintf("open %d/%s", port, protocol))
	p.open[port] = true
	return nil
}

func (p *fakePorts) ClosePort(ctx context.Context, port int, protocol string) error {
	p.calls = append(p.calls, fmt.Sprintf("close %d/%s", port, protocol))
	if p.closeErr != nil {
		return p.closeErr
	}
	delete(p.open, port)
	return nil
}

// fakeFetcher materialises a release directory holding binaryName.
type fakeFetcher struct {
	binaryName  string
	downloads   int
	downloadErr error
}

func (f *fakeFetcher) Download(ctx context.Context, url, dest string) error {
	f.downloads++
	if f.downloadErr != nil {
		return f.downloadErr
	}
	return os.WriteFile(dest, []byte("archive"), 0o600)
}

func (f *fakeFetcher) Extract(ctx context.Context, archive, destDir string) error {
	dir := filepath.Join(destDir, "collectd_exporter-0.4.0.linux-amd64")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, f.binaryName), []byte("#!/bin/sh\n"), 0o644)
}

// fakeHostnames returns a fixed short host name.
type fakeHostnames struct {
	name string
	err  error
}

func (h fakeHostnames) ShortHostname(ctx context.Context) (string, error) {
	return h.name, h.err
}

// fakeRunner answers commands from a table keyed by the joined command line.
type fakeRunner struct {
	mu       sync.Mutex
	outputs  map[string]string
	failures map[string]error
	calls    []string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{outputs: make(map[string]string), failures: make(map[string]error)}
}

func (r *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	line := name
	for _, arg := range args {
		line += " " + arg
	}
	r.calls = append(r.calls, line)
	return []byte(r.outputs[line]), r.failures[line]
}

var errCommandFailed = errors.New("exit status 1")

// testEnv is an engine wired to fakes under a temporary root.
type testEnv struct {
	root       string
	options    EngineOptions
	controller *fakeController
	probe      *fakeProbe
	ports      *fakePorts
	fetcher    *fakeFetcher
	store      *MemoryStateStore
	status     *MemoryStatusSink
	logger     *TestLogger
	engine     *Engine
}

func newTestEnv(t *testing.T, missingPlugins ...string) *testEnv {
	t.Helper()
	root := t.TempDir()

	options := DefaultEngineOptions()
	options.PrimaryConfigFile = filepath.Join(root, "etc/collectd/collectd.conf")
	options.ConfDir = filepath.Join(root, "etc/collectd/collectd.conf.d")
	options.PluginDir = filepath.Join(root, "usr/lib/collectd")
	options.StateFile = filepath.Join(root, "var/lib/state.yaml")
	options.ExporterBinaryPath = filepath.Join(root, "usr/local/bin/collectd_exporter")
	options.ExporterUnitFile = filepath.Join(root, "etc/systemd/system/collectd-exporter.service")
	options.ExporterArgsFile = filepath.Join(root, "etc/default/collectd-exporter")
	options.NRPECheckFile = filepath.Join(root, "etc/nagios/nrpe.d/check_collectd.cfg")
	options.NagiosExportDir = filepath.Join(root, "var/lib/nagios/export")

	env := &testEnv{
		root:       root,
		options:    options,
		controller: newFakeController(),
		probe:      newFakeProbe(missingPlugins...),
		ports:      newFakePorts(),
		fetcher:    &fakeFetcher{binaryName: DefaultExporterBinaryName},
		store:      NewMemoryStateStore(),
		status:     NewMemoryStatusSink(),
		logger:     NewTestLogger(),
	}

	engine, err := NewEngine(EngineConfig{
		Options:    options,
		Logger:     env.logger,
		Hostnames:  fakeHostnames{name: "node1"},
		Probe:      env.probe,
		Controller: env.controller,
		Ports:      env.ports,
		Fetcher:    env.fetcher,
		State:      env.store,
		Status:     env.status,
	})
	require.NoError(t, err)
	env.engine = engine
	return env
}

func (e *testEnv) managedFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(e.options.ConfDir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

// buildTarGz returns a gzip-compressed tar holding files (name -> content).
func buildTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o755,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}
