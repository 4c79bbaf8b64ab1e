// state_store_test.go: Tests for state persistence and file helpers
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package reconciler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStateStore_MissingFileIsEmptyState(t *testing.T) {
	store := NewFileStateStore(filepath.Join(t.TempDir(), "state.yaml"))

	state, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, state.Fingerprints)
	assert.Empty(t, state.Services)
	assert.Equal(t, ReservationNone, state.ExporterPort.State)
}

func TestFileStateStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.yaml")
	store := NewFileStateStore(path)
	ctx := context.Background()

	state := NewEngineState()
	state.Fingerprints[RawConfigKey] = Fingerprint([]byte("interval: 10\n"))
	svc := state.Service(DefaultPrimaryService)
	svc.Phase = PhaseRunning
	svc.Observed = ServiceRunning
	svc.EverStarted = true
	svc.LastAction = ActionStart
	svc.UpdatedAt = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	state.ExporterPort = PortReservation{State: ReservationHeld, Port: 9103, Protocol: "tcp", Releasing: 9200}

	require.NoError(t, store.Save(ctx, state))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, state.Fingerprints, loaded.Fingerprints)
	assert.Equal(t, state.ExporterPort, loaded.ExporterPort)
	require.Contains(t, loaded.Services, DefaultPrimaryService)
	assert.Equal(t, *svc, *loaded.Services[DefaultPrimaryService])

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestFileStateStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fingerprints: [unterminated"), 0o600))

	_, err := NewFileStateStore(path).Load(context.Background())
	require.Error(t, err)
	assert.True(t, HasErrorCode(err, ErrCodeStateStoreFailure))
}

func TestFileStateStore_PartialDocumentIsNormalized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fingerprints: {}\n"), 0o600))

	state, err := NewFileStateStore(path).Load(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, state.Services)
	assert.Equal(t, ReservationNone, state.ExporterPort.State)
}

func TestMemoryStateStore_IsolatesCallers(t *testing.T) {
	store := NewMemoryStateStore()
	ctx := context.Background()

	state, err := store.Load(ctx)
	require.NoError(t, err)
	state.Service(DefaultPrimaryService).EverStarted = true
	state.Fingerprints["k"] = "v"

	reloaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, reloaded.Fingerprints, "unsaved changes must not leak")

	require.NoError(t, store.Save(ctx, state))
	state.Fingerprints["k"] = "changed after save"

	reloaded, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v", reloaded.Fingerprints["k"])
	assert.True(t, reloaded.Service(DefaultPrimaryService).EverStarted)
	assert.Equal(t, 1, store.Saves())
}

func TestEngineState_ServiceDefaults(t *testing.T) {
	state := &EngineState{}
	svc := state.Service("collectd")

	assert.Equal(t, PhaseNotStarted, svc.Phase)
	assert.Equal(t, ServiceStopped, svc.Observed)
	assert.Equal(t, ActionNone, svc.LastAction)
	assert.Same(t, svc, state.Service("collectd"))
}

func TestWriteFileIfChanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "file.conf")

	written, err := WriteFileIfChanged(path, []byte("one"), 0o640)
	require.NoError(t, err)
	assert.True(t, written)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())

	written, err = WriteFileIfChanged(path, []byte("one"), 0o640)
	require.NoError(t, err)
	assert.False(t, written)

	written, err = WriteFileIfChanged(path, []byte("two"), 0o640)
	require.NoError(t, err)
	assert.True(t, written)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(content))
}

func TestRemoveFileIfExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.conf")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	removed, err := RemoveFileIfExists(path)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = RemoveFileIfExists(path)
	require.NoError(t, err)
	assert.False(t, removed)
}
