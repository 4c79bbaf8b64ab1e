// change_tracker_test.go: Tests for fingerprint based change detection
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package reconciler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangeTracker_Changed(t *testing.T) {
	tracker := NewChangeTracker(nil)

	assert.True(t, tracker.Changed("k", []byte("a")), "first observation is a change")
	assert.False(t, tracker.Changed("k", []byte("a")))
	assert.True(t, tracker.Changed("k", []byte("b")))
	assert.False(t, tracker.Changed("k", []byte("b")))
	assert.True(t, tracker.Changed("other", []byte("b")), "keys are independent")
}

func TestChangeTracker_SharesStateMap(t *testing.T) {
	fingerprints := map[string]string{}
	NewChangeTracker(fingerprints).Changed(RawConfigKey, []byte("interval: 10\n"))

	assert.Equal(t, Fingerprint([]byte("interval: 10\n")), fingerprints[RawConfigKey])
	assert.False(t, NewChangeTracker(fingerprints).Changed(RawConfigKey, []byte("interval: 10\n")),
		"a fresh tracker over the persisted map must remember the value")
}

func TestChangeTracker_Forget(t *testing.T) {
	tracker := NewChangeTracker(nil)
	tracker.Changed("k", []byte("a"))
	require.True(t, tracker.Known("k"))

	tracker.Forget("k")
	assert.False(t, tracker.Known("k"))
	assert.True(t, tracker.Changed("k", []byte("a")))
}

func TestChangeTracker_FilesChanged(t *testing.T) {
	dir := t.TempDir()
	primary := filepath.Join(dir, "collectd.conf")
	plugin := filepath.Join(dir, "cpu.conf")
	tracker := NewChangeTracker(nil)

	changed, err := tracker.FilesChanged("primary", primary)
	require.NoError(t, err)
	assert.True(t, changed, "first look at an absent file")
	require.NotEmpty(t, tracker.FingerprintOf("primary"))

	changed, err = tracker.FilesChanged("primary", primary)
	require.NoError(t, err)
	assert.False(t, changed, "still absent")

	require.NoError(t, os.WriteFile(primary, []byte("Interval 10\n"), 0o644))
	changed, err = tracker.FilesChanged("primary", primary)
	require.NoError(t, err)
	assert.True(t, changed)

	// Extending the file set changes the fingerprint even when the new
	// file is absent.
	changed, err = tracker.FilesChanged("primary", primary, plugin)
	require.NoError(t, err)
	assert.True(t, changed)

	require.NoError(t, os.WriteFile(plugin, []byte("LoadPlugin cpu\n"), 0o644))
	changed, err = tracker.FilesChanged("primary", primary, plugin)
	require.NoError(t, err)
	assert.True(t, changed, "a managed file edit is a change")

	changed, err = tracker.FilesChanged("primary", primary, plugin)
	require.NoError(t, err)
	assert.False(t, changed)

	tracker.Forget("primary")
	assert.Empty(t, tracker.FingerprintOf("primary"))
	changed, err = tracker.FilesChanged("primary", primary, plugin)
	require.NoError(t, err)
	assert.True(t, changed, "a forgotten key is reported again")
}

func TestChangeTracker_FilesChangedReadError(t *testing.T) {
	// A directory where a file is expected cannot be read.
	dir := t.TempDir()
	tracker := NewChangeTracker(nil)

	_, err := tracker.FilesChanged("primary", dir)
	require.Error(t, err)
	assert.True(t, HasErrorCode(err, ErrCodeFileSystemFailure))
	assert.False(t, tracker.Known("primary"), "a failed read records nothing")
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Fingerprint(nil))
	assert.NotEqual(t, Fingerprint([]byte("a")), Fingerprint([]byte("b")))
}
