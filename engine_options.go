// engine_options.go: Engine paths and service names, with environment overrides
//
// Every option has a production default. Each can be overridden through a
// prefixed environment variable (COLLECTD_RECONCILER_CONF_DIR, ...) whose
// value may itself reference other variables with ${VAR} or
// ${VAR:-default}.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package reconciler

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// DefaultEnvPrefix prefixes every engine environment variable.
const DefaultEnvPrefix = "COLLECTD_RECONCILER_"

// DefaultPrimaryService is the collector's unit name.
const DefaultPrimaryService ServiceName = "collectd"

// Default engine paths.
const (
	DefaultPrimaryConfigFile = "/etc/collectd/collectd.conf"
	DefaultConfDir           = "/etc/collectd/collectd.conf.d"
	DefaultPluginDir         = "/usr/lib/collectd"
	DefaultStateFile         = "/var/lib/collectd-reconciler/state.yaml"
)

// maxEnvValueLength bounds an expanded environment value.
const maxEnvValueLength = 4096

var variablePattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// EngineOptions are the file locations and service names the engine uses.
type EngineOptions struct {
	PrimaryService    ServiceName `yaml:"primary_service"`
	PrimaryConfigFile string      `yaml:"primary_config_file"`
	ConfDir           string      `yaml:"conf_dir"`
	PluginDir         string      `yaml:"plugin_dir"`
	// TemplateDir holds optional <id>.tmpl overrides.
	TemplateDir string `yaml:"template_dir,omitempty"`
	StateFile   string `yaml:"state_file"`
	// AuditFile enables the audit trail when set.
	AuditFile string `yaml:"audit_file,omitempty"`

	ExporterService    ServiceName `yaml:"exporter_service"`
	ExporterBinaryPath string      `yaml:"exporter_binary_path"`
	ExporterReleaseURL string      `yaml:"exporter_release_url"`
	ExporterUnitFile   string      `yaml:"exporter_unit_file"`
	ExporterArgsFile   string      `yaml:"exporter_args_file"`

	NRPECheckFile   string `yaml:"nrpe_check_file"`
	NagiosExportDir string `yaml:"nagios_export_dir"`
}

// DefaultEngineOptions returns the standard host layout.
func DefaultEngineOptions() EngineOptions {
	return EngineOptions{
		PrimaryService:     DefaultPrimaryService,
		PrimaryConfigFile:  DefaultPrimaryConfigFile,
		ConfDir:            DefaultConfDir,
		PluginDir:          DefaultPluginDir,
		StateFile:          DefaultStateFile,
		ExporterService:    DefaultExporterService,
		ExporterBinaryPath: DefaultExporterBinaryPath,
		ExporterReleaseURL: DefaultExporterReleaseURL,
		ExporterUnitFile:   DefaultExporterUnitFile,
		ExporterArgsFile:   DefaultExporterArgsFile,
		NRPECheckFile:      DefaultNRPECheckFile,
		NagiosExportDir:    DefaultNagiosExportDir,
	}
}

// withDefaults fills every empty field from DefaultEngineOptions.
// TemplateDir and AuditFile are optional and stay empty.
func (o EngineOptions) withDefaults() EngineOptions {
	defaults := DefaultEngineOptions()
	if o.PrimaryService == "" {
		o.PrimaryService = defaults.PrimaryService
	}
	if o.ExporterService == "" {
		o.ExporterService = defaults.ExporterService
	}

	paths := []struct {
		target   *string
		fallback string
	}{
		{&o.PrimaryConfigFile, defaults.PrimaryConfigFile},
		{&o.ConfDir, defaults.ConfDir},
		{&o.PluginDir, defaults.PluginDir},
		{&o.StateFile, defaults.StateFile},
		{&o.ExporterBinaryPath, defaults.ExporterBinaryPath},
		{&o.ExporterReleaseURL, defaults.ExporterReleaseURL},
		{&o.ExporterUnitFile, defaults.ExporterUnitFile},
		{&o.ExporterArgsFile, defaults.ExporterArgsFile},
		{&o.NRPECheckFile, defaults.NRPECheckFile},
		{&o.NagiosExportDir, defaults.NagiosExportDir},
	}
	for _, path := range paths {
		if *path.target == "" {
			*path.target = path.fallback
		}
	}
	return o
}

// EnvConfigOptions configures environment variable processing.
type EnvConfigOptions struct {
	// Prefix for environment variables, e.g. "COLLECTD_RECONCILER_".
	Prefix string
	// FailOnMissing makes an unresolvable ${VAR} an error.
	FailOnMissing bool
	// Defaults apply to ${VAR} references with no value and no inline default.
	Defaults map[string]string
}

// DefaultEnvConfigOptions returns the standard prefix with lenient expansion.
func DefaultEnvConfigOptions() EnvConfigOptions {
	return EnvConfigOptions{
		Prefix:   DefaultEnvPrefix,
		Defaults: make(map[string]string),
	}
}

// LoadEngineOptionsFromEnv starts from DefaultEngineOptions and applies
// every <prefix><NAME> variable that is set.
func LoadEngineOptionsFromEnv(options EnvConfigOptions) (EngineOptions, error) {
	engineOptions := DefaultEngineOptions()

	primaryService := string(engineOptions.PrimaryService)
	exporterService := string(engineOptions.ExporterService)

	fields := []struct {
		name   string
		target *string
	}{
		{"PRIMARY_SERVICE", &primaryService},
		{"PRIMARY_CONFIG_FILE", &engineOptions.PrimaryConfigFile},
		{"CONF_DIR", &engineOptions.ConfDir},
		{"PLUGIN_DIR", &engineOptions.PluginDir},
		{"TEMPLATE_DIR", &engineOptions.TemplateDir},
		{"STATE_FILE", &engineOptions.StateFile},
		{"AUDIT_FILE", &engineOptions.AuditFile},
		{"EXPORTER_SERVICE", &exporterService},
		{"EXPORTER_BINARY_PATH", &engineOptions.ExporterBinaryPath},
		{"EXPORTER_RELEASE_URL", &engineOptions.ExporterReleaseURL},
		{"EXPORTER_UNIT_FILE", &engineOptions.ExporterUnitFile},
		{"EXPORTER_ARGS_FILE", &engineOptions.ExporterArgsFile},
		{"NRPE_CHECK_FILE", &engineOptions.NRPECheckFile},
		{"NAGIOS_EXPORT_DIR", &engineOptions.NagiosExportDir},
	}

	for _, field := range fields {
		raw, ok := os.LookupEnv(options.Prefix + field.name)
		if !ok {
			continue
		}
		expanded, err := ExpandEnvironmentVariables(raw, options)
		if err != nil {
			return engineOptions, err
		}
		*field.target = expanded
	}

	engineOptions.PrimaryService = ServiceName(primaryService)
	engineOptions.ExporterService = ServiceName(exporterService)
	return engineOptions, nil
}

// ExpandEnvironmentVariables expands ${VAR} and ${VAR:-default} in input.
// The prefixed variable is tried before the bare name.
func ExpandEnvironmentVariables(input string, options EnvConfigOptions) (string, error) {
	if input == "" {
		return input, nil
	}

	var firstErr error
	result := variablePattern.ReplaceAllStringFunc(input, func(match string) string {
		submatches := variablePattern.FindStringSubmatch(match)
		varName := submatches[1]
		inlineDefault := submatches[3]

		expanded, err := expandSingleEnvironmentVariable(varName, inlineDefault, options)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return match
		}
		return expanded
	})
	if firstErr != nil {
		return "", firstErr
	}
	return validateEnvValue(result)
}

// expandSingleEnvironmentVariable resolves one variable in priority order:
// prefixed variable, bare variable, inline default, configured default.
func expandSingleEnvironmentVariable(varName, inlineDefault string, options EnvConfigOptions) (string, error) {
	if value := os.Getenv(options.Prefix + varName); value != "" {
		return value, nil
	}
	if value := os.Getenv(varName); value != "" {
		return value, nil
	}
	if inlineDefault != "" {
		return inlineDefault, nil
	}
	if value, exists := options.Defaults[varName]; exists {
		return value, nil
	}
	if options.FailOnMissing {
		return "", NewEnvironmentError(fmt.Sprintf("required environment variable not found: %s (also tried %s%s)", varName, options.Prefix, varName))
	}
	return "", nil
}

func validateEnvValue(value string) (string, error) {
	if strings.Contains(value, "\x00") {
		return "", NewEnvironmentError("value contains null byte")
	}
	if len(value) > maxEnvValueLength {
		return "", NewEnvironmentError(fmt.Sprintf("value too long: %d bytes (max %d)", len(value), maxEnvValueLength))
	}
	for i, r := range value {
		if r < 32 && r != '\t' {
			return "", NewEnvironmentError(fmt.Sprintf("value contains control character at position %d", i))
		}
	}
	return value, nil
}
