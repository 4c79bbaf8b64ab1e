// port_manager.go: Opening and closing of the exporter's listen port
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package reconciler

import (
	"context"
	"fmt"
	"strings"
)

// PortManager opens and closes ports in the host's firewall/exposure layer.
type PortManager interface {
	OpenPort(ctx context.Context, port int, protocol string) error
	ClosePort(ctx context.Context, port int, protocol string) error
}

// CommandPortManager runs "<open> <port>/<proto>" and "<close> <port>/<proto>".
type CommandPortManager struct {
	OpenCommand  string
	CloseCommand string
	Runner       CommandRunner
}

// NewCommandPortManager uses the open-port and close-port hook tools.
func NewCommandPortManager(runner CommandRunner) *CommandPortManager {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &CommandPortManager{
		OpenCommand:  "open-port",
		CloseCommand: "close-port",
		Runner:       runner,
	}
}

// OpenPort implements PortManager.
func (m *CommandPortManager) OpenPort(ctx context.Context, port int, protocol string) error {
	return m.run(ctx, m.OpenCommand, "open", port, protocol)
}

// ClosePort implements PortManager.
func (m *CommandPortManager) ClosePort(ctx context.Context, port int, protocol string) error {
	return m.run(ctx, m.CloseCommand, "close", port, protocol)
}

func (m *CommandPortManager) run(ctx context.Context, command, action string, port int, protocol string) error {
	spec := fmt.Sprintf("%d/%s", port, strings.ToLower(protocol))
	out, err := m.Runner.Run(ctx, command, spec)
	if err != nil {
		return NewServiceControlError("port "+spec, action, commandFailure(err, out))
	}
	return nil
}
