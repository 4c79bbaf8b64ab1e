// host_facts.go: Host name and process table lookups backed by gopsutil
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package reconciler

import (
	"context"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/process"
)

// HostnameLookup returns the short local host name.
type HostnameLookup interface {
	ShortHostname(ctx context.Context) (string, error)
}

// ProcessTable answers whether a process with the given executable name
// is running.
type ProcessTable interface {
	Running(ctx context.Context, name string) (bool, error)
}

// HostFacts implements HostnameLookup and ProcessTable on top of gopsutil.
type HostFacts struct{}

// NewHostFactsLookup returns the gopsutil backed host facts.
func NewHostFactsLookup() *HostFacts {
	return &HostFacts{}
}

// ShortHostname implements HostnameLookup. Domain labels are stripped.
func (h *HostFacts) ShortHostname(ctx context.Context) (string, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return "", err
	}
	name := info.Hostname
	if idx := strings.IndexByte(name, '.'); idx > 0 {
		name = name[:idx]
	}
	return name, nil
}

// Running implements ProcessTable.
func (h *HostFacts) Running(ctx context.Context, name string) (bool, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return false, err
	}
	for _, p := range procs {
		procName, err := p.NameWithContext(ctx)
		if err != nil {
			// Processes can exit while the table is being walked.
			continue
		}
		if procName == name {
			return true, nil
		}
	}
	return false, nil
}
