// service_reconciler.go: Start/restart state machine for managed services
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package reconciler

import (
	"context"

	"github.com/agilira/go-timecache"
)

// ServiceReconciler applies the per-service transitions:
//
//	NotStarted -> Running  start requested and the service is not running
//	Running    -> Running  restart when the config fingerprint changed
//
// The start request is a one-shot signal and is cleared on every call.
// A start that fails for a unit the init system does not know is observed
// as not installed.
// A failed start or restart is returned as-is and never retried here; the
// state is left so that the next pass attempts it again.
type ServiceReconciler struct {
	controller ServiceController
	logger     Logger
}

// NewServiceReconciler creates a reconciler over controller.
func NewServiceReconciler(controller ServiceController, logger Logger) *ServiceReconciler {
	if logger == nil {
		logger = DefaultLogger()
	}
	return &ServiceReconciler{controller: controller, logger: logger}
}

// Reconcile observes name and performs at most one start or restart.
// configChanged reports whether the service's config fingerprint changed in
// this pass.
func (r *ServiceReconciler) Reconcile(ctx context.Context, name ServiceName, state *ServiceState, configChanged bool) (ServiceAction, error) {
	startRequested := state.StartRequested
	state.StartRequested = false
	state.LastAction = ActionNone
	state.UpdatedAt = timecache.CachedTime()

	running, err := r.controller.IsRunning(ctx, name)
	if err != nil {
		return ActionNone, asServiceControlError(name, "inspect", err)
	}
	if running {
		state.Observed = ServiceRunning
	} else {
		state.Observed = ServiceStopped
	}

	switch {
	case startRequested && !running:
		if err := r.controller.Start(ctx, name); err != nil {
			r.logger.Error("Service start failed", "service", name, "error", err)
			if known, knownErr := r.controller.IsKnown(ctx, name); knownErr == nil && !known {
				state.Observed = ServiceNotInstalled
			}
			return ActionNone, asServiceControlError(name, "start", err)
		}
		state.Phase = PhaseRunning
		state.Observed = ServiceRunning
		state.EverStarted = true
		state.LastAction = ActionStart
		r.logger.Info("Service started", "service", name)

	case running && configChanged:
		if err := r.controller.Restart(ctx, name); err != nil {
			r.logger.Error("Service restart failed", "service", name, "error", err)
			return ActionNone, asServiceControlError(name, "restart", err)
		}
		state.Phase = PhaseRunning
		state.LastAction = ActionRestart
		r.logger.Info("Service restarted", "service", name)

	case running:
		state.Phase = PhaseRunning
	}

	return state.LastAction, nil
}

func asServiceControlError(name ServiceName, action string, err error) error {
	if HasErrorCode(err, ErrCodeServiceControlFailure) {
		return err
	}
	return NewServiceControlError(string(name), action, err)
}
