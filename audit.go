// audit.go: Audit trail of reconciliation side effects
//
// Every externally visible mutation of a pass (file writes and removals,
// service starts and restarts, port moves, binary installs) is recorded as
// an audit event. The argus audit logger provides buffered, flushed output.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package reconciler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/argus"
)

// Audit event types.
const (
	AuditPassCompleted   = "pass_completed"
	AuditPassFailed      = "pass_failed"
	AuditFileWritten     = "file_written"
	AuditFileRemoved     = "file_removed"
	AuditServiceStarted  = "service_started"
	AuditServiceRestart  = "service_restarted"
	AuditServiceEnabled  = "service_enabled"
	AuditPortOpened      = "port_opened"
	AuditPortClosed      = "port_closed"
	AuditBinaryInstalled = "binary_installed"
)

// AuditTrail records reconciliation events.
type AuditTrail interface {
	Record(eventType, message string, context map[string]interface{})
	Close() error
}

// NoOpAuditTrail discards events.
type NoOpAuditTrail struct{}

// Record implements AuditTrail.
func (NoOpAuditTrail) Record(string, string, map[string]interface{}) {}

// Close implements AuditTrail.
func (NoOpAuditTrail) Close() error { return nil }

// AuditTrailConfig configures an ArgusAuditTrail.
type AuditTrailConfig struct {
	OutputFile    string
	BufferSize    int
	FlushInterval time.Duration
}

// DefaultAuditTrailConfig returns the default audit settings for outputFile.
func DefaultAuditTrailConfig(outputFile string) AuditTrailConfig {
	return AuditTrailConfig{
		OutputFile:    outputFile,
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
	}
}

// ArgusAuditTrail writes events through an argus.AuditLogger.
type ArgusAuditTrail struct {
	auditor *argus.AuditLogger
	events  int64
	mu      sync.Mutex
	closed  bool
}

// NewArgusAuditTrail creates the audit logger for config.OutputFile.
func NewArgusAuditTrail(config AuditTrailConfig) (*ArgusAuditTrail, error) {
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 5 * time.Second
	}

	auditor, err := argus.NewAuditLogger(argus.AuditConfig{
		Enabled:       true,
		OutputFile:    config.OutputFile,
		MinLevel:      argus.AuditInfo,
		BufferSize:    config.BufferSize,
		FlushInterval: config.FlushInterval,
		IncludeStack:  false,
	})
	if err != nil {
		return nil, NewFileSystemError(config.OutputFile, "open audit log", err)
	}
	return &ArgusAuditTrail{auditor: auditor}, nil
}

// Record implements AuditTrail.
func (a *ArgusAuditTrail) Record(eventType, message string, context map[string]interface{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	atomic.AddInt64(&a.events, 1)
	a.auditor.LogSecurityEvent(eventType, message, context)
}

// Events returns the number of recorded events.
func (a *ArgusAuditTrail) Events() int64 {
	return atomic.LoadInt64(&a.events)
}

// Close flushes and closes the underlying audit logger.
func (a *ArgusAuditTrail) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	return a.auditor.Close()
}
