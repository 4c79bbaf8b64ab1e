// service_controller.go: Init-system control of managed services
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package reconciler

import (
	"context"
	stderrors "errors"
	"fmt"
	"os/exec"
	"strings"
)

// ServiceController drives the host init system. Every call may fail;
// failures are ServiceControlFailure errors.
type ServiceController interface {
	IsRunning(ctx context.Context, name ServiceName) (bool, error)
	Start(ctx context.Context, name ServiceName) error
	Restart(ctx context.Context, name ServiceName) error
	Reload(ctx context.Context, name ServiceName) error
	// IsKnown reports whether the init system has a unit for name.
	IsKnown(ctx context.Context, name ServiceName) (bool, error)
	// Enable registers the unit so it starts at boot.
	Enable(ctx context.Context, name ServiceName) error
}

// CommandRunner runs an external command and returns its combined output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements CommandRunner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) // #nosec G204 -- fixed binaries with engine supplied arguments
	return cmd.CombinedOutput()
}

// SystemdControllerConfig configures a SystemdController.
type SystemdControllerConfig struct {
	// Systemctl is the systemctl binary (default "systemctl").
	Systemctl string
	Runner    CommandRunner
	// Processes is consulted by IsRunning when systemctl is not installed.
	Processes ProcessTable
	Logger    Logger
}

// SystemdController implements ServiceController with systemctl.
type SystemdController struct {
	systemctl string
	runner    CommandRunner
	processes ProcessTable
	logger    Logger
}

// NewSystemdController creates a controller, defaulting every unset field.
func NewSystemdController(config SystemdControllerConfig) *SystemdController {
	if config.Systemctl == "" {
		config.Systemctl = "systemctl"
	}
	if config.Runner == nil {
		config.Runner = ExecRunner{}
	}
	if config.Processes == nil {
		config.Processes = NewHostFactsLookup()
	}
	if config.Logger == nil {
		config.Logger = DefaultLogger()
	}
	return &SystemdController{
		systemctl: config.Systemctl,
		runner:    config.Runner,
		processes: config.Processes,
		logger:    config.Logger,
	}
}

// IsRunning implements ServiceController. A non-zero exit of
// "systemctl is-active" means not running.
func (c *SystemdController) IsRunning(ctx context.Context, name ServiceName) (bool, error) {
	_, err := c.runner.Run(ctx, c.systemctl, "is-active", "--quiet", string(name))
	if err == nil {
		return true, nil
	}
	if stderrors.Is(err, exec.ErrNotFound) {
		c.logger.Debug("systemctl not available, checking process table", "service", name)
		running, perr := c.processes.Running(ctx, string(name))
		if perr != nil {
			return false, NewServiceControlError(string(name), "inspect", perr)
		}
		return running, nil
	}
	return false, nil
}

// Start implements ServiceController.
func (c *SystemdController) Start(ctx context.Context, name ServiceName) error {
	return c.control(ctx, name, "start")
}

// Restart implements ServiceController.
func (c *SystemdController) Restart(ctx context.Context, name ServiceName) error {
	return c.control(ctx, name, "restart")
}

// Reload implements ServiceController.
func (c *SystemdController) Reload(ctx context.Context, name ServiceName) error {
	return c.control(ctx, name, "reload")
}

// IsKnown implements ServiceController.
func (c *SystemdController) IsKnown(ctx context.Context, name ServiceName) (bool, error) {
	unit := unitName(name)
	out, err := c.runner.Run(ctx, c.systemctl, "list-unit-files", "--no-legend", unit)
	if err != nil {
		if stderrors.Is(err, exec.ErrNotFound) {
			return false, NewServiceControlError(string(name), "inspect", err)
		}
		// list-unit-files exits non-zero when nothing matches.
		return false, nil
	}
	return strings.Contains(string(out), unit), nil
}

// Enable implements ServiceController. The unit files are reloaded first
// so a freshly written unit is picked up.
func (c *SystemdController) Enable(ctx context.Context, name ServiceName) error {
	if out, err := c.runner.Run(ctx, c.systemctl, "daemon-reload"); err != nil {
		return NewServiceControlError(string(name), "enable", commandFailure(err, out))
	}
	return c.control(ctx, name, "enable")
}

func (c *SystemdController) control(ctx context.Context, name ServiceName, action string) error {
	out, err := c.runner.Run(ctx, c.systemctl, action, string(name))
	if err != nil {
		return NewServiceControlError(string(name), action, commandFailure(err, out))
	}
	c.logger.Debug("Service control succeeded", "service", name, "action", action)
	return nil
}

func unitName(name ServiceName) string {
	if strings.Contains(string(name), ".") {
		return string(name)
	}
	return string(name) + ".service"
}

func commandFailure(err error, output []byte) error {
	trimmed := strings.TrimSpace(string(output))
	if trimmed == "" {
		return err
	}
	return fmt.Errorf("%w: %s", err, trimmed)
}
