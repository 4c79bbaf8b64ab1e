// renderer.go: Template rendering for managed configuration files
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package reconciler

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

// Template identifiers.
const (
	TemplatePrimaryConfig  = "collectd.conf"
	pluginTemplatePrefix   = "plugin-"
	TemplateExporterUnit   = "collectd-exporter.service"
	TemplateExporterArgs   = "collectd-exporter.args"
	TemplateNRPECheck      = "nrpe-check"
	TemplateNagiosService  = "nagios-service"
	overrideTemplateSuffix = ".tmpl"
)

// PluginTemplateID returns the template id of a per-plugin file.
func PluginTemplateID(plugin string) string {
	return pluginTemplatePrefix + plugin
}

// Renderer turns a template id and a data value into file content. A
// missing template yields a TemplateNotFound error, which callers treat as
// "nothing to render" rather than a failure.
type Renderer interface {
	Render(templateID string, data any) ([]byte, error)
}

// RenderContext is the data passed to the primary and per-plugin templates.
type RenderContext struct {
	Config  ResolvedConfig
	Plugins []string
	ConfDir string
}

// ExporterRenderContext is the data passed to the sidecar templates.
type ExporterRenderContext struct {
	Exporter   *ExporterTarget
	BinaryPath string
	ArgsFile   string
}

// MonitoringRenderContext is the data passed to the check-registration
// templates.
type MonitoringRenderContext struct {
	Hostname     string
	ServiceGroup string
	CheckCommand string
}

var builtinTemplates = map[string]string{
	TemplatePrimaryConfig: `# Managed by collectd-reconciler. Local changes will be overwritten.
{{- if eq .Config.Hostname "fqdn"}}
FQDNLookup true
{{- else}}
Hostname "{{.Config.Hostname}}"
FQDNLookup false
{{- end}}
Interval {{.Config.Interval}}

{{range .Plugins}}LoadPlugin {{artifact .}}
{{end}}
Include "{{.ConfDir}}/*.conf"
`,

	PluginTemplateID(PluginGraphiteWriter): `{{with .Config.Graphite -}}
<Plugin write_graphite>
  <Node "graphite">
    Host "{{.Host}}"
    Port "{{.Port}}"
    Protocol "{{lower (print .Protocol)}}"
    Prefix "{{.Prefix}}"
    LogSendErrors true
    StoreRates true
    AlwaysAppendDS false
    EscapeCharacter "_"
  </Node>
</Plugin>
{{end -}}
`,

	PluginTemplateID(PluginNetwork): `{{with .Config.Network -}}
<Plugin network>
  Server "{{.Host}}" "{{.Port}}"
</Plugin>
{{end -}}
`,

	PluginTemplateID(PluginHTTPWriter): `{{with .Config.Exporter -}}
<Plugin write_http>
  <Node "collectd_exporter">
    URL "{{.PostURL}}"
    Format "{{.Format}}"
    StoreRates {{.ReportRates}}
  </Node>
</Plugin>
{{end -}}
`,

	TemplateExporterUnit: `[Unit]
Description=Prometheus exporter for collectd metrics
After=network.target

[Service]
EnvironmentFile={{.ArgsFile}}
ExecStart={{.BinaryPath}} $ARGS
Restart=on-failure

[Install]
WantedBy=multi-user.target
`,

	TemplateExporterArgs: `{{with .Exporter.Local -}}
ARGS="--web.listen-address=:{{.Port}} --web.telemetry-path={{.ExternalPath}} --web.collectd-push-path={{.Path}}"
{{end -}}
`,

	TemplateNRPECheck: `# Managed by collectd-reconciler.
command[check_collectd]={{.CheckCommand}}
`,

	TemplateNagiosService: `# Managed by collectd-reconciler.
define service {
    use                             active-service
    host_name                       {{.Hostname}}
    service_description             {{.Hostname}} Check collectd process
    check_command                   check_nrpe!check_collectd
    servicegroups                   {{.ServiceGroup}}
}
`,
}

var templateFuncs = template.FuncMap{
	"artifact": PluginArtifact,
	"lower":    strings.ToLower,
	"upper":    strings.ToUpper,
}

// TemplateRenderer renders the built-in templates. Files named
// <id>.tmpl in OverrideDir take precedence over the built-in text.
type TemplateRenderer struct {
	OverrideDir string
}

// NewTemplateRenderer creates a renderer. overrideDir may be empty.
func NewTemplateRenderer(overrideDir string) *TemplateRenderer {
	return &TemplateRenderer{OverrideDir: overrideDir}
}

// Render implements Renderer.
func (r *TemplateRenderer) Render(templateID string, data any) ([]byte, error) {
	text, err := r.lookup(templateID)
	if err != nil {
		return nil, err
	}

	tmpl, err := template.New(templateID).Funcs(templateFuncs).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, NewRenderError(templateID, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, NewRenderError(templateID, err)
	}
	return buf.Bytes(), nil
}

func (r *TemplateRenderer) lookup(templateID string) (string, error) {
	if r.OverrideDir != "" && !strings.ContainsAny(templateID, `/\`) {
		path := filepath.Join(r.OverrideDir, templateID+overrideTemplateSuffix)
		content, err := os.ReadFile(path) // #nosec G304 -- override directory is operator controlled
		if err == nil {
			return string(content), nil
		}
		if !os.IsNotExist(err) {
			return "", NewFileSystemError(path, "read", err)
		}
	}

	text, ok := builtinTemplates[templateID]
	if !ok {
		return "", NewTemplateNotFoundError(templateID)
	}
	return text, nil
}
