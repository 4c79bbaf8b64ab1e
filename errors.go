// errors.go: structured error definitions for the reconciliation engine
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package reconciler

import (
	stderrors "errors"

	"github.com/agilira/go-errors"
)

// Error codes for the reconciliation engine
const (
	// Resolution errors (2100-2199)
	ErrCodeMalformedEndpoint   = "RESOLVE_2101"
	ErrCodeInvalidHostnameMode = "RESOLVE_2102"
	ErrCodeInvalidOptionValue  = "RESOLVE_2103"
	ErrCodeHostnameLookup      = "RESOLVE_2104"

	// Validation errors (2200-2299)
	ErrCodeMissingConfigOption = "VALIDATE_2201"
	ErrCodeInvalidProtocol     = "VALIDATE_2202"
	ErrCodePortOutOfRange      = "VALIDATE_2203"
	ErrCodeInvalidInterval     = "VALIDATE_2204"

	// Plugin errors (2300-2399)
	ErrCodeMissingPluginBinary = "PLUGIN_2301"

	// Service control errors (2400-2499)
	ErrCodeServiceControlFailure = "SERVICE_2401"

	// Artifact errors (2500-2599)
	ErrCodeArtifactFetchFailure = "ARTIFACT_2501"

	// Rendering errors (2600-2699)
	ErrCodeTemplateNotFound = "RENDER_2601"
	ErrCodeRenderFailure    = "RENDER_2602"

	// Persistence and filesystem errors (2700-2899)
	ErrCodeStateStoreFailure = "STATE_2701"
	ErrCodeFileSystemFailure = "FILE_2801"

	// Configuration source errors (2900-2999)
	ErrCodeConfigLoad    = "CONFIG_2901"
	ErrCodeConfigWatcher = "CONFIG_2902"
	ErrCodeEnvironment   = "CONFIG_2903"
)

// Resolution error constructors

func NewMalformedEndpointError(option, value string) *errors.Error {
	return errors.New(ErrCodeMalformedEndpoint, "Malformed endpoint").
		WithUserMessage("Bad value for \""+option+"\" option, expected host:port").
		WithContext("option", option).
		WithContext("value", value).
		WithSeverity("error")
}

func NewInvalidHostnameModeError(value string) *errors.Error {
	return errors.New(ErrCodeInvalidHostnameMode, "Invalid hostname mode").
		WithUserMessage("Bad value for \"hostname_type\" option, expected fqdn or hostname").
		WithContext("value", value).
		WithSeverity("error")
}

func NewInvalidOptionValueError(option string, value interface{}) *errors.Error {
	return errors.New(ErrCodeInvalidOptionValue, "Invalid option value").
		WithUserMessage("Bad value for \""+option+"\" option").
		WithContext("option", option).
		WithContext("value", value).
		WithSeverity("error")
}

func NewHostnameLookupError(cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeHostnameLookup, "Hostname lookup failure").
		WithUserMessage("Unable to determine the local host name").
		WithSeverity("error").
		AsRetryable()
}

// Validation error constructors

func NewMissingConfigOptionError(missing []string) *errors.Error {
	return errors.New(ErrCodeMissingConfigOption, "Missing configuration options").
		WithUserMessage("Missing configuration options: "+joinStrings(missing, ", ")).
		WithContext("missing", missing).
		WithSeverity("error")
}

func NewInvalidProtocolError(option, value string) *errors.Error {
	return errors.New(ErrCodeInvalidProtocol, "Invalid protocol").
		WithUserMessage("Bad value for \""+option+"\" option").
		WithContext("option", option).
		WithContext("value", value).
		WithSeverity("error")
}

func NewPortOutOfRangeError(option string, port int) *errors.Error {
	return errors.New(ErrCodePortOutOfRange, "Port out of range").
		WithUserMessage("\""+option+"\" outside of allowed range").
		WithContext("option", option).
		WithContext("port", port).
		WithSeverity("error")
}

func NewInvalidIntervalError(interval int) *errors.Error {
	return errors.New(ErrCodeInvalidInterval, "Invalid interval").
		WithUserMessage("\"interval\" must be a positive number of seconds").
		WithContext("interval", interval).
		WithSeverity("error")
}

// Plugin error constructors

func NewMissingPluginBinaryError(plugin, path string) *errors.Error {
	return errors.New(ErrCodeMissingPluginBinary, "Missing plugin binary").
		WithUserMessage("Invalid plugin "+plugin).
		WithContext("plugin", plugin).
		WithContext("path", path).
		WithSeverity("error")
}

// Service control error constructors

func NewServiceControlError(service, action string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeServiceControlFailure, "Service control failure").
		WithUserMessage("Failed to "+action+" "+service).
		WithContext("service", service).
		WithContext("action", action).
		WithSeverity("error").
		AsRetryable()
}

// Artifact error constructors

func NewArtifactFetchError(url string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeArtifactFetchFailure, "Artifact fetch failure").
		WithUserMessage("Failed to install exporter binary").
		WithContext("url", url).
		WithSeverity("error").
		AsRetryable()
}

// Rendering error constructors

func NewTemplateNotFoundError(templateID string) *errors.Error {
	return errors.New(ErrCodeTemplateNotFound, "Template not found").
		WithUserMessage("No template is registered for "+templateID).
		WithContext("template", templateID).
		WithSeverity("info")
}

func NewRenderError(templateID string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeRenderFailure, "Template render failure").
		WithUserMessage("Failed to render "+templateID).
		WithContext("template", templateID).
		WithSeverity("error")
}

// Persistence and filesystem error constructors

func NewStateStoreError(message string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeStateStoreFailure, "State store failure: "+message).
		WithUserMessage("Failed to access persisted reconciler state").
		WithSeverity("error")
}

func NewFileSystemError(path, op string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeFileSystemFailure, "Filesystem failure").
		WithUserMessage("Failed to "+op+" "+path).
		WithContext("path", path).
		WithContext("op", op).
		WithSeverity("error").
		AsRetryable()
}

// Configuration source error constructors

func NewConfigLoadError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeConfigLoad, "Configuration load failure").
		WithUserMessage("Failed to load options file").
		WithContext("config_path", path).
		WithSeverity("error")
}

func NewConfigWatcherError(message string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeConfigWatcher, "Configuration watcher error: "+message).
		WithUserMessage("Configuration monitoring failed").
		WithSeverity("error")
}

func NewEnvironmentError(message string) *errors.Error {
	return errors.New(ErrCodeEnvironment, "Environment configuration error: "+message).
		WithUserMessage("Invalid environment configuration").
		WithSeverity("error")
}

// ErrorCodeOf returns the structured error code carried by err, or "" when
// err is not (and does not wrap) a structured error.
func ErrorCodeOf(err error) errors.ErrorCode {
	var structured *errors.Error
	if stderrors.As(err, &structured) {
		return structured.Code
	}
	return ""
}

// HasErrorCode reports whether err carries the given code.
func HasErrorCode(err error, code errors.ErrorCode) bool {
	return err != nil && ErrorCodeOf(err) == code
}

// UserMessageOf returns the operator-facing message of a structured error,
// falling back to err.Error().
func UserMessageOf(err error) string {
	var structured *errors.Error
	if stderrors.As(err, &structured) && structured.UserMessage() != "" {
		return structured.UserMessage()
	}
	return err.Error()
}

func joinStrings(strs []string, sep string) string {
	if len(strs) == 0 {
		return ""
	}
	result := strs[0]
	for _, s := range strs[1:] {
		result += sep + s
	}
	return result
}
