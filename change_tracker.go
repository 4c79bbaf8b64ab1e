// change_tracker.go: Content fingerprinting across reconciliation passes
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package reconciler

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
)

// Well-known tracker keys.
const (
	RawConfigKey   = "raw-config"
	fileKeyPrefix  = "file:"
	absentFileMark = "absent"
)

// FileKey is the tracker key for the content of path.
func FileKey(path string) string {
	return fileKeyPrefix + path
}

// Fingerprint returns the hex sha256 digest of value.
func Fingerprint(value []byte) string {
	sum := sha256.Sum256(value)
	return hex.EncodeToString(sum[:])
}

// ChangeTracker compares values against the fingerprint recorded for the
// same key on a previous call. The fingerprint map is owned by the engine
// state, so recorded values survive across passes once the state is saved.
type ChangeTracker struct {
	fingerprints map[string]string
}

// NewChangeTracker creates a tracker over fingerprints. A nil map starts
// empty.
func NewChangeTracker(fingerprints map[string]string) *ChangeTracker {
	if fingerprints == nil {
		fingerprints = make(map[string]string)
	}
	return &ChangeTracker{fingerprints: fingerprints}
}

// Changed records value under key and reports whether it differs from the
// previously recorded value. A key with no prior record is changed.
func (c *ChangeTracker) Changed(key string, value []byte) bool {
	return c.record(key, Fingerprint(value))
}

// FilesChanged records the combined content of paths under key and
// reports whether it differs from the previous record. Paths are taken in
// order; a missing file is recorded as absent.
func (c *ChangeTracker) FilesChanged(key string, paths ...string) (bool, error) {
	digest := sha256.New()
	for _, path := range paths {
		content, err := os.ReadFile(path) // #nosec G304 -- managed file path
		if err != nil {
			if !os.IsNotExist(err) {
				return false, NewFileSystemError(path, "read", err)
			}
			content = []byte(absentFileMark)
		}
		fmt.Fprintf(digest, "%s\x00%d\x00", path, len(content))
		digest.Write(content)
	}
	return c.record(key, hex.EncodeToString(digest.Sum(nil))), nil
}

// FingerprintOf returns the fingerprint recorded for key, or "".
func (c *ChangeTracker) FingerprintOf(key string) string {
	return c.fingerprints[key]
}

// Forget drops the record for key so the next comparison reports a change.
func (c *ChangeTracker) Forget(key string) {
	delete(c.fingerprints, key)
}

// Known reports whether a record exists for key.
func (c *ChangeTracker) Known(key string) bool {
	_, ok := c.fingerprints[key]
	return ok
}

func (c *ChangeTracker) record(key, fingerprint string) bool {
	previous, ok := c.fingerprints[key]
	c.fingerprints[key] = fingerprint
	return !ok || previous != fingerprint
}
