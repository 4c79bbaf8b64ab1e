// artifact_fetcher.go: Download and extraction of release archives
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package reconciler

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// maxArtifactFileSize bounds a single extracted file.
const maxArtifactFileSize = 512 << 20

// ArtifactFetcher downloads a release archive and unpacks it.
type ArtifactFetcher interface {
	// Download stores the content at url in the file dest.
	Download(ctx context.Context, url, dest string) error
	// Extract unpacks the gzip-compressed tar archive into destDir.
	Extract(ctx context.Context, archive, destDir string) error
}

// HTTPArtifactFetcherConfig configures an HTTPArtifactFetcher.
type HTTPArtifactFetcherConfig struct {
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Timeout      time.Duration
}

// DefaultHTTPArtifactFetcherConfig returns the default retry policy.
func DefaultHTTPArtifactFetcherConfig() HTTPArtifactFetcherConfig {
	return HTTPArtifactFetcherConfig{
		RetryMax:     3,
		RetryWaitMin: 1 * time.Second,
		RetryWaitMax: 10 * time.Second,
		Timeout:      5 * time.Minute,
	}
}

// HTTPArtifactFetcher downloads over HTTP with retries.
type HTTPArtifactFetcher struct {
	client *retryablehttp.Client
}

// NewHTTPArtifactFetcher creates a fetcher.
func NewHTTPArtifactFetcher(config HTTPArtifactFetcherConfig) *HTTPArtifactFetcher {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = config.RetryMax
	retryClient.RetryWaitMin = config.RetryWaitMin
	retryClient.RetryWaitMax = config.RetryWaitMax
	retryClient.Logger = nil // suppress default logging
	if config.Timeout > 0 {
		retryClient.HTTPClient.Timeout = config.Timeout
	}
	return &HTTPArtifactFetcher{client: retryClient}
}

// Download implements ArtifactFetcher.
func (f *HTTPArtifactFetcher) Download(ctx context.Context, url, dest string) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return NewArtifactFetchError(url, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return NewArtifactFetchError(url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return NewArtifactFetchError(url, fmt.Errorf("unexpected status %s", resp.Status))
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) // #nosec G304 -- destination inside engine work directory
	if err != nil {
		return NewArtifactFetchError(url, err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		return NewArtifactFetchError(url, err)
	}
	if err := out.Close(); err != nil {
		return NewArtifactFetchError(url, err)
	}
	return nil
}

// Extract implements ArtifactFetcher. Entries escaping destDir are
// rejected; only directories and regular files are materialised.
func (f *HTTPArtifactFetcher) Extract(ctx context.Context, archive, destDir string) error {
	file, err := os.Open(archive) // #nosec G304 -- archive downloaded by this fetcher
	if err != nil {
		return NewArtifactFetchError(archive, err)
	}
	defer func() { _ = file.Close() }()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return NewArtifactFetchError(archive, err)
	}
	defer func() { _ = gz.Close() }()

	tr := tar.NewReader(gz)
	for {
		if err := ctx.Err(); err != nil {
			return NewArtifactFetchError(archive, err)
		}

		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return NewArtifactFetchError(archive, err)
		}

		target, err := extractTarget(destDir, hdr.Name)
		if err != nil {
			return NewArtifactFetchError(archive, err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil { // #nosec G301 -- extraction directory
				return NewArtifactFetchError(archive, err)
			}
		case tar.TypeReg:
			if err := writeArchiveEntry(tr, target, hdr); err != nil {
				return NewArtifactFetchError(archive, err)
			}
		}
	}
}

func extractTarget(destDir, name string) (string, error) {
	target := filepath.Join(destDir, filepath.Clean("/" + name))
	rel, err := filepath.Rel(destDir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry %q escapes destination", name)
	}
	return target, nil
}

func writeArchiveEntry(r io.Reader, target string, hdr *tar.Header) error {
	if hdr.Size > maxArtifactFileSize {
		return fmt.Errorf("archive entry %q too large", hdr.Name)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil { // #nosec G301 -- extraction directory
		return err
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, hdr.FileInfo().Mode().Perm()) // #nosec G304 -- target validated by extractTarget
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, io.LimitReader(r, hdr.Size)); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
