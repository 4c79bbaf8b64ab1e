// file_writer.go: Idempotent file writes for managed artifacts
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package reconciler

import (
	"bytes"
	"os"
	"path/filepath"
)

// WriteFileIfChanged replaces path with content unless the file already
// holds exactly that content. It reports whether a write happened. The
// write goes through a temporary file in the same directory so readers
// never observe a partial file.
func WriteFileIfChanged(path string, content []byte, perm os.FileMode) (bool, error) {
	current, err := os.ReadFile(path) // #nosec G304 -- managed file path
	if err == nil && bytes.Equal(current, content) {
		return false, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return false, NewFileSystemError(path, "read", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil { // #nosec G301 -- service config directories are world readable
		return false, NewFileSystemError(dir, "create", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return false, NewFileSystemError(path, "write", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return false, NewFileSystemError(path, "write", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return false, NewFileSystemError(path, "chmod", err)
	}
	if err := tmp.Close(); err != nil {
		return false, NewFileSystemError(path, "write", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return false, NewFileSystemError(path, "replace", err)
	}
	return true, nil
}

// RemoveFileIfExists deletes path and reports whether it existed.
func RemoveFileIfExists(path string) (bool, error) {
	err := os.Remove(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, NewFileSystemError(path, "remove", err)
}
