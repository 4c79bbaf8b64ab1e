// config_validator.go: Fail-fast validation of resolved configuration
//
// Rules are evaluated in a fixed order and the first failing rule wins:
//
//  1. Required options: interval, plugins
//  2. Graphite protocol is TCP or UDP
//  3. Graphite port lies in [1, 65535]
//  4. Network port lies in [1, 65535]
//  5. Interval is a positive number of seconds
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package reconciler

import (
	"github.com/agilira/go-errors"
)

const (
	minPort = 1
	maxPort = 65535
)

// ValidationResult is the outcome of a validation run. Reason is the
// operator-facing message of the first failing rule; Err carries the
// structured error behind it.
type ValidationResult struct {
	OK     bool
	Reason string
	Err    *errors.Error
}

// ConfigValidator checks a ResolvedConfig. It is stateless.
type ConfigValidator struct{}

// NewConfigValidator creates a new configuration validator instance.
func NewConfigValidator() *ConfigValidator {
	return &ConfigValidator{}
}

// Validate runs the rules in order and stops at the first failure.
func (cv *ConfigValidator) Validate(resolved ResolvedConfig) ValidationResult {
	rules := []func(ResolvedConfig) *errors.Error{
		cv.validateRequired,
		cv.validateGraphiteProtocol,
		cv.validateGraphitePort,
		cv.validateNetworkPort,
		cv.validateInterval,
	}

	for _, rule := range rules {
		if err := rule(resolved); err != nil {
			return ValidationResult{OK: false, Reason: err.UserMessage(), Err: err}
		}
	}
	return ValidationResult{OK: true}
}

func (cv *ConfigValidator) validateRequired(resolved ResolvedConfig) *errors.Error {
	var missing []string
	if resolved.Interval == 0 {
		missing = append(missing, OptionInterval)
	}
	if resolved.PluginSelection == "" {
		missing = append(missing, OptionPlugins)
	}
	if len(missing) > 0 {
		return NewMissingConfigOptionError(missing)
	}
	return nil
}

func (cv *ConfigValidator) validateGraphiteProtocol(resolved ResolvedConfig) *errors.Error {
	if resolved.Graphite == nil || resolved.Graphite.Protocol == "" {
		return nil
	}
	if !resolved.Graphite.Protocol.Valid() {
		return NewInvalidProtocolError(OptionGraphiteProtocol, string(resolved.Graphite.Protocol))
	}
	return nil
}

func (cv *ConfigValidator) validateGraphitePort(resolved ResolvedConfig) *errors.Error {
	if resolved.Graphite == nil {
		return nil
	}
	return validatePortRange(OptionGraphitePort, resolved.Graphite.Port)
}

func (cv *ConfigValidator) validateNetworkPort(resolved ResolvedConfig) *errors.Error {
	if resolved.Network == nil {
		return nil
	}
	return validatePortRange(OptionNetworkTarget, resolved.Network.Port)
}

func (cv *ConfigValidator) validateInterval(resolved ResolvedConfig) *errors.Error {
	if resolved.Interval < 0 {
		return NewInvalidIntervalError(resolved.Interval)
	}
	return nil
}

func validatePortRange(option string, port int) *errors.Error {
	if port < minPort || port > maxPort {
		return NewPortOutOfRangeError(option, port)
	}
	return nil
}
