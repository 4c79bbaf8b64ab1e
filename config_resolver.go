// config_resolver.go: Derivation of structured configuration from raw options
//
// The resolver is a pure transformation: the only external fact it consults
// is the local host name, and only when the short-hostname mode is selected.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package reconciler

import (
	"context"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Resolution defaults.
const (
	DefaultGraphiteProtocol = ProtocolTCP
	DefaultGraphitePrefix   = "collectd."
	DefaultGraphitePort     = 2003

	// DefaultExporterURL is used when the exporter option is boolean true.
	DefaultExporterURL = "http://127.0.0.1:9103/metrics"
	// DefaultExporterMetricsPath applies when the exporter URL has no path.
	DefaultExporterMetricsPath = "/metrics"
	// LocalExporterPostPath is where the collector posts to a local sidecar.
	LocalExporterPostPath = "/collectd-post"
	// LocalExporterFormat is the fixed report format for a local sidecar.
	LocalExporterFormat = "JSON"
	// DefaultHTTPFormat applies to a remote http writer without http_format.
	DefaultHTTPFormat = "JSON"
)

// ConfigResolver turns RawConfig into ResolvedConfig.
type ConfigResolver struct {
	hostnames HostnameLookup
}

// NewConfigResolver creates a resolver. A nil lookup selects the
// host-facts based default.
func NewConfigResolver(hostnames HostnameLookup) *ConfigResolver {
	if hostnames == nil {
		hostnames = NewHostFactsLookup()
	}
	return &ConfigResolver{hostnames: hostnames}
}

// Resolve derives the structured configuration. Errors are structured
// resolution errors (MalformedEndpoint, InvalidHostnameMode,
// InvalidOptionValue) and abort the pass before any mutation.
func (r *ConfigResolver) Resolve(ctx context.Context, raw RawConfig) (ResolvedConfig, error) {
	var resolved ResolvedConfig

	interval, _, err := raw.Int(OptionInterval)
	if err != nil {
		return resolved, err
	}
	resolved.Interval = interval

	if selection, ok := raw.String(OptionPlugins); ok {
		resolved.PluginSelection = strings.TrimSpace(selection)
	}

	if resolved.Graphite, err = r.resolveGraphite(raw); err != nil {
		return resolved, err
	}

	if resolved.Network, err = r.resolveNetwork(raw); err != nil {
		return resolved, err
	}

	if resolved.Exporter, err = r.resolveExporter(raw); err != nil {
		return resolved, err
	}

	if err := r.resolveHostname(ctx, raw, &resolved); err != nil {
		return resolved, err
	}

	return resolved, nil
}

func (r *ConfigResolver) resolveGraphite(raw RawConfig) (*GraphiteTarget, error) {
	var target *GraphiteTarget

	if endpoint := nonEmpty(raw, OptionGraphiteEndpoint); endpoint != "" {
		host, port, err := splitEndpoint(OptionGraphiteEndpoint, endpoint)
		if err != nil {
			return nil, err
		}
		target = &GraphiteTarget{Host: host, Port: port}
	} else if host := nonEmpty(raw, OptionGraphiteHost); host != "" {
		port, present, err := raw.Int(OptionGraphitePort)
		if err != nil {
			return nil, err
		}
		if !present {
			port = DefaultGraphitePort
		}
		target = &GraphiteTarget{Host: host, Port: port}
	}

	if target == nil {
		return nil, nil
	}

	target.Protocol = DefaultGraphiteProtocol
	if protocol := nonEmpty(raw, OptionGraphiteProtocol); protocol != "" {
		target.Protocol = Protocol(strings.ToUpper(protocol))
	}

	target.Prefix = DefaultGraphitePrefix
	if prefix, ok := raw.String(OptionGraphitePrefix); ok {
		target.Prefix = prefix
	} else if prefix, ok := raw.String(OptionPrefix); ok {
		target.Prefix = prefix
	}

	return target, nil
}

func (r *ConfigResolver) resolveNetwork(raw RawConfig) (*NetworkTarget, error) {
	endpoint := nonEmpty(raw, OptionNetworkTarget)
	if endpoint == "" {
		return nil, nil
	}
	host, port, err := splitEndpoint(OptionNetworkTarget, endpoint)
	if err != nil {
		return nil, err
	}
	return &NetworkTarget{Host: host, Port: port}, nil
}

func (r *ConfigResolver) resolveExporter(raw RawConfig) (*ExporterTarget, error) {
	if !raw.Has(OptionPrometheusExport) {
		return nil, nil
	}

	var exportURL string
	switch v := raw[OptionPrometheusExport].(type) {
	case bool:
		if !v {
			return nil, nil
		}
		exportURL = DefaultExporterURL
	default:
		value, _ := raw.String(OptionPrometheusExport)
		value = strings.TrimSpace(value)
		switch strings.ToLower(value) {
		case "", "false":
			return nil, nil
		case "true":
			exportURL = DefaultExporterURL
		default:
			exportURL = value
		}
	}

	if !strings.Contains(exportURL, "://") {
		exportURL = "http://" + exportURL
	}
	parsed, err := url.Parse(exportURL)
	if err != nil || parsed.Hostname() == "" {
		return nil, NewMalformedEndpointError(OptionPrometheusExport, exportURL)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, NewMalformedEndpointError(OptionPrometheusExport, exportURL)
	}
	port, err := strconv.Atoi(parsed.Port())
	if err != nil || port < 1 {
		return nil, NewMalformedEndpointError(OptionPrometheusExport, exportURL)
	}

	metricsPath := parsed.Path
	if metricsPath == "" {
		metricsPath = DefaultExporterMetricsPath
	}

	target := &ExporterTarget{
		Enabled:     true,
		Scheme:      scheme,
		Endpoint:    parsed.Host,
		Host:        parsed.Hostname(),
		Port:        port,
		MetricsPath: metricsPath,
	}

	if isLoopback(target.Host) {
		target.Local = &LocalExporter{
			Port:         port,
			Path:         LocalExporterPostPath,
			ExternalPath: metricsPath,
		}
		target.Scheme = "http"
		target.Format = LocalExporterFormat
		target.ReportRates = false
		return target, nil
	}

	target.Format = DefaultHTTPFormat
	if format := nonEmpty(raw, OptionHTTPFormat); format != "" {
		target.Format = strings.ToUpper(format)
	}
	rates, _, err := raw.Bool(OptionHTTPRates)
	if err != nil {
		return nil, err
	}
	target.ReportRates = rates

	return target, nil
}

func (r *ConfigResolver) resolveHostname(ctx context.Context, raw RawConfig, resolved *ResolvedConfig) error {
	mode, _ := raw.String(OptionHostnameType)
	mode = strings.TrimSpace(mode)

	switch {
	case mode == "" || strings.EqualFold(mode, string(HostnameFQDN)):
		resolved.HostnameMode = HostnameFQDN
		resolved.Hostname = FQDNSentinel
	case strings.EqualFold(mode, string(HostnameShort)):
		name, err := r.hostnames.ShortHostname(ctx)
		if err != nil {
			return NewHostnameLookupError(err)
		}
		resolved.HostnameMode = HostnameShort
		resolved.Hostname = name
	default:
		return NewInvalidHostnameModeError(mode)
	}
	return nil
}

// splitEndpoint splits host:port. Exactly two parts and a positive integer
// port are required.
func splitEndpoint(option, value string) (string, int, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 || parts[0] == "" {
		return "", 0, NewMalformedEndpointError(option, value)
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 {
		return "", 0, NewMalformedEndpointError(option, value)
	}
	return parts[0], port, nil
}

func nonEmpty(raw RawConfig, key string) string {
	value, ok := raw.String(key)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
