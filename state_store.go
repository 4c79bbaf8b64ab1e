// state_store.go: Persistence of the long-lived reconciler state
//
// The state is the only data carried between passes: content fingerprints,
// the per-service records and the exporter port reservation.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package reconciler

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// EngineState is the persisted reconciler state.
type EngineState struct {
	Fingerprints map[string]string             `yaml:"fingerprints"`
	Services     map[ServiceName]*ServiceState `yaml:"services"`
	ExporterPort PortReservation               `yaml:"exporter_port"`
}

// NewEngineState returns an empty state.
func NewEngineState() *EngineState {
	return &EngineState{
		Fingerprints: make(map[string]string),
		Services:     make(map[ServiceName]*ServiceState),
		ExporterPort: PortReservation{State: ReservationNone},
	}
}

// Service returns the record for name, creating a not-started record on
// first use.
func (s *EngineState) Service(name ServiceName) *ServiceState {
	if s.Services == nil {
		s.Services = make(map[ServiceName]*ServiceState)
	}
	state, ok := s.Services[name]
	if !ok {
		state = &ServiceState{Phase: PhaseNotStarted, Observed: ServiceStopped, LastAction: ActionNone}
		s.Services[name] = state
	}
	return state
}

// Clone returns a deep copy.
func (s *EngineState) Clone() *EngineState {
	out := NewEngineState()
	for k, v := range s.Fingerprints {
		out.Fingerprints[k] = v
	}
	for name, svc := range s.Services {
		copied := *svc
		out.Services[name] = &copied
	}
	out.ExporterPort = s.ExporterPort
	return out
}

func (s *EngineState) normalize() {
	if s.Fingerprints == nil {
		s.Fingerprints = make(map[string]string)
	}
	if s.Services == nil {
		s.Services = make(map[ServiceName]*ServiceState)
	}
	if s.ExporterPort.State == "" {
		s.ExporterPort.State = ReservationNone
	}
}

// StateStore loads and saves EngineState.
type StateStore interface {
	Load(ctx context.Context) (*EngineState, error)
	Save(ctx context.Context, state *EngineState) error
}

// FileStateStore keeps the state as a YAML document at Path.
type FileStateStore struct {
	Path string
}

// NewFileStateStore creates a file-backed store.
func NewFileStateStore(path string) *FileStateStore {
	return &FileStateStore{Path: path}
}

// Load reads the state. A missing file yields an empty state.
func (s *FileStateStore) Load(ctx context.Context) (*EngineState, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewStateStoreError("load cancelled", err)
	}

	data, err := os.ReadFile(s.Path) // #nosec G304 -- state path comes from engine options
	if err != nil {
		if os.IsNotExist(err) {
			return NewEngineState(), nil
		}
		return nil, NewStateStoreError("read "+s.Path, err)
	}

	state := NewEngineState()
	if err := yaml.Unmarshal(data, state); err != nil {
		return nil, NewStateStoreError("decode "+s.Path, err)
	}
	state.normalize()
	return state, nil
}

// Save writes the state atomically: a temporary file in the same directory
// is renamed over Path.
func (s *FileStateStore) Save(ctx context.Context, state *EngineState) error {
	if err := ctx.Err(); err != nil {
		return NewStateStoreError("save cancelled", err)
	}

	data, err := yaml.Marshal(state)
	if err != nil {
		return NewStateStoreError("encode state", err)
	}

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return NewStateStoreError("create "+dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*")
	if err != nil {
		return NewStateStoreError("create temporary file", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return NewStateStoreError("write temporary file", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return NewStateStoreError("chmod temporary file", err)
	}
	if err := tmp.Close(); err != nil {
		return NewStateStoreError("close temporary file", err)
	}
	if err := os.Rename(tmpPath, s.Path); err != nil {
		return NewStateStoreError("replace "+s.Path, err)
	}
	return nil
}

// MemoryStateStore keeps the state in memory. Used by tests and by
// callers that persist state elsewhere.
type MemoryStateStore struct {
	mu    sync.Mutex
	state *EngineState
	saves int
}

// NewMemoryStateStore creates an empty in-memory store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{state: NewEngineState()}
}

// Load implements StateStore.
func (s *MemoryStateStore) Load(ctx context.Context) (*EngineState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone(), nil
}

// Save implements StateStore.
func (s *MemoryStateStore) Save(ctx context.Context, state *EngineState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state.Clone()
	s.saves++
	return nil
}

// Saves returns how many times Save was called.
func (s *MemoryStateStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
