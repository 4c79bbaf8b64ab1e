// fetch_breaker.go: Circuit breaker around exporter release downloads
//
// A release host that keeps failing would otherwise be hit on every pass.
// After FailureThreshold consecutive failures the breaker opens and
// downloads fail fast until RecoveryTimeout has elapsed; then a single
// probe download is allowed through (half-open).
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package reconciler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
)

// BreakerState is the state of a FetchBreaker.
type BreakerState int32

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// FetchBreakerConfig configures a FetchBreaker.
type FetchBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
}

// DefaultFetchBreakerConfig opens after three failed downloads and probes
// again after five minutes.
func DefaultFetchBreakerConfig() FetchBreakerConfig {
	return FetchBreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  5 * time.Minute,
	}
}

// errBreakerOpen is the cause attached to fast-failed downloads.
var errBreakerOpen = errors.New(ErrCodeArtifactFetchFailure, "release download suspended after repeated failures")

// FetchBreaker wraps an ArtifactFetcher. Only Download is guarded;
// extraction failures are local and do not trip the breaker.
type FetchBreaker struct {
	fetcher ArtifactFetcher
	config  FetchBreakerConfig
	logger  Logger

	state           atomic.Int32
	failures        atomic.Int64
	lastFailureTime atomic.Int64 // unix nanos
	rejected        atomic.Int64

	mu sync.Mutex
	// now is replaced in tests.
	now func() time.Time
}

// NewFetchBreaker wraps fetcher. logger may be nil or a Logger.
func NewFetchBreaker(fetcher ArtifactFetcher, config FetchBreakerConfig, logger any) *FetchBreaker {
	defaults := DefaultFetchBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = defaults.RecoveryTimeout
	}
	b := &FetchBreaker{
		fetcher: fetcher,
		config:  config,
		logger:  NewLogger(logger),
		now:     timecache.CachedTime,
	}
	b.state.Store(int32(BreakerClosed))
	return b
}

// Download implements ArtifactFetcher.
func (b *FetchBreaker) Download(ctx context.Context, url, dest string) error {
	if !b.allow() {
		b.rejected.Add(1)
		return NewArtifactFetchError(url, errBreakerOpen)
	}

	if err := b.fetcher.Download(ctx, url, dest); err != nil {
		b.recordFailure(url)
		return err
	}
	b.recordSuccess()
	return nil
}

// Extract implements ArtifactFetcher.
func (b *FetchBreaker) Extract(ctx context.Context, archive, destDir string) error {
	return b.fetcher.Extract(ctx, archive, destDir)
}

// State returns the current breaker state.
func (b *FetchBreaker) State() BreakerState {
	return BreakerState(b.state.Load())
}

// Rejected returns how many downloads failed fast.
func (b *FetchBreaker) Rejected() int64 {
	return b.rejected.Load()
}

// Reset closes the breaker and clears the failure count.
func (b *FetchBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.Store(int32(BreakerClosed))
	b.failures.Store(0)
}

func (b *FetchBreaker) allow() bool {
	switch BreakerState(b.state.Load()) {
	case BreakerClosed:
		return true
	case BreakerOpen:
		b.mu.Lock()
		defer b.mu.Unlock()
		// Double-check after acquiring the lock.
		if BreakerState(b.state.Load()) == BreakerOpen && b.recoveryDue() {
			b.state.Store(int32(BreakerHalfOpen))
			return true
		}
		return false
	default:
		// Half-open: the probe download is already in flight.
		return false
	}
}

func (b *FetchBreaker) recoveryDue() bool {
	last := b.lastFailureTime.Load()
	if last == 0 {
		return true
	}
	return b.now().Sub(time.Unix(0, last)) >= b.config.RecoveryTimeout
}

func (b *FetchBreaker) recordFailure(url string) {
	failures := b.failures.Add(1)
	b.lastFailureTime.Store(b.now().UnixNano())

	b.mu.Lock()
	defer b.mu.Unlock()

	state := BreakerState(b.state.Load())
	if state == BreakerHalfOpen || failures >= int64(b.config.FailureThreshold) {
		if state != BreakerOpen {
			b.logger.Warn("Release downloads suspended",
				"url", url,
				"failures", failures,
				"recovery_timeout", b.config.RecoveryTimeout)
		}
		b.state.Store(int32(BreakerOpen))
	}
}

func (b *FetchBreaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if BreakerState(b.state.Load()) != BreakerClosed {
		b.logger.Info("Release downloads resumed")
	}
	b.state.Store(int32(BreakerClosed))
	b.failures.Store(0)
}
