// fetch_breaker_test.go: Tests for the release download circuit breaker
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package reconciler

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(fetcher ArtifactFetcher, threshold int) (*FetchBreaker, *time.Time) {
	clock := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	breaker := NewFetchBreaker(fetcher, FetchBreakerConfig{
		FailureThreshold: threshold,
		RecoveryTimeout:  time.Minute,
	}, nil)
	breaker.now = func() time.Time { return clock }
	return breaker, &clock
}

func TestFetchBreaker_OpensAfterThreshold(t *testing.T) {
	fetcher := &fakeFetcher{binaryName: DefaultExporterBinaryName, downloadErr: NewArtifactFetchError("http://release", stderrors.New("503"))}
	breaker, _ := newTestBreaker(fetcher, 2)
	dest := filepath.Join(t.TempDir(), "archive.tar.gz")

	require.Error(t, breaker.Download(context.Background(), "http://release", dest))
	assert.Equal(t, BreakerClosed, breaker.State())
	require.Error(t, breaker.Download(context.Background(), "http://release", dest))
	assert.Equal(t, BreakerOpen, breaker.State())

	err := breaker.Download(context.Background(), "http://release", dest)
	require.Error(t, err)
	assert.True(t, HasErrorCode(err, ErrCodeArtifactFetchFailure))
	assert.Equal(t, 2, fetcher.downloads, "open breaker must not reach the fetcher")
	assert.Equal(t, int64(1), breaker.Rejected())
}

func TestFetchBreaker_HalfOpenProbe(t *testing.T) {
	fetcher := &fakeFetcher{binaryName: DefaultExporterBinaryName, downloadErr: stderrors.New("connection refused")}
	breaker, clock := newTestBreaker(fetcher, 1)
	dest := filepath.Join(t.TempDir(), "archive.tar.gz")

	require.Error(t, breaker.Download(context.Background(), "http://release", dest))
	require.Equal(t, BreakerOpen, breaker.State())

	// A failed probe reopens the breaker.
	*clock = clock.Add(2 * time.Minute)
	require.Error(t, breaker.Download(context.Background(), "http://release", dest))
	assert.Equal(t, BreakerOpen, breaker.State())
	assert.Equal(t, 2, fetcher.downloads)

	// A successful probe closes it.
	*clock = clock.Add(2 * time.Minute)
	fetcher.downloadErr = nil
	require.NoError(t, breaker.Download(context.Background(), "http://release", dest))
	assert.Equal(t, BreakerClosed, breaker.State())
	assert.Equal(t, 3, fetcher.downloads)
}

func TestFetchBreaker_ResetAndExtract(t *testing.T) {
	fetcher := &fakeFetcher{binaryName: DefaultExporterBinaryName, downloadErr: stderrors.New("boom")}
	breaker, _ := newTestBreaker(fetcher, 1)
	dir := t.TempDir()

	require.Error(t, breaker.Download(context.Background(), "http://release", filepath.Join(dir, "a")))
	require.Equal(t, BreakerOpen, breaker.State())
	breaker.Reset()
	assert.Equal(t, BreakerClosed, breaker.State())

	require.NoError(t, breaker.Extract(context.Background(), filepath.Join(dir, "a"), dir))
	assert.FileExists(t, filepath.Join(dir, "collectd_exporter-0.4.0.linux-amd64", DefaultExporterBinaryName))
}

func TestBreakerState_String(t *testing.T) {
	if BreakerHalfOpen.String() != "half-open" || BreakerState(9).String() != "unknown" {
		t.Errorf("unexpected state names: %s %s", BreakerHalfOpen, BreakerState(9))
	}
}
