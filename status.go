// status.go: Operator-facing status notifications
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package reconciler

import (
	"sync"
)

// StatusKind classifies a status message.
type StatusKind string

const (
	StatusMaintenance StatusKind = "maintenance"
	StatusWaiting     StatusKind = "waiting"
	StatusActive      StatusKind = "active"
	StatusBlocked     StatusKind = "blocked"
)

// Status is a human-readable state notification.
type Status struct {
	Kind    StatusKind
	Message string
}

// String renders the status as "<kind>: <message>".
func (s Status) String() string {
	if s.Message == "" {
		return string(s.Kind)
	}
	return string(s.Kind) + ": " + s.Message
}

// StatusSink receives status notifications. It is write-only; nothing in
// the engine reads status back.
type StatusSink interface {
	SetStatus(status Status)
}

// LogStatusSink reports status changes through a Logger.
type LogStatusSink struct {
	logger Logger
}

// NewLogStatusSink creates a sink logging to logger.
func NewLogStatusSink(logger Logger) *LogStatusSink {
	if logger == nil {
		logger = DefaultLogger()
	}
	return &LogStatusSink{logger: logger}
}

// SetStatus implements StatusSink.
func (s *LogStatusSink) SetStatus(status Status) {
	switch status.Kind {
	case StatusBlocked:
		s.logger.Error("Status", "kind", status.Kind, "message", status.Message)
	case StatusWaiting:
		s.logger.Warn("Status", "kind", status.Kind, "message", status.Message)
	default:
		s.logger.Info("Status", "kind", status.Kind, "message", status.Message)
	}
}

// MemoryStatusSink keeps every status it receives.
type MemoryStatusSink struct {
	mu      sync.Mutex
	history []Status
}

// NewMemoryStatusSink creates an empty sink.
func NewMemoryStatusSink() *MemoryStatusSink {
	return &MemoryStatusSink{}
}

// SetStatus implements StatusSink.
func (s *MemoryStatusSink) SetStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, status)
}

// Last returns the most recent status, or the zero Status.
func (s *MemoryStatusSink) Last() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return Status{}
	}
	return s.history[len(s.history)-1]
}

// History returns a copy of every received status.
func (s *MemoryStatusSink) History() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, len(s.history))
	copy(out, s.history)
	return out
}
