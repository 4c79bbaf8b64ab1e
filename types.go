// types.go: Common data types shared by the reconciliation components
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package reconciler

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Option names understood by the resolver.
const (
	OptionInterval         = "interval"
	OptionPlugins          = "plugins"
	OptionGraphiteEndpoint = "graphite_endpoint"
	OptionGraphiteHost     = "graphite_host"
	OptionGraphitePort     = "graphite_port"
	OptionGraphiteProtocol = "graphite_protocol"
	OptionGraphitePrefix   = "graphite_prefix"
	OptionPrefix           = "prefix"
	OptionNetworkTarget    = "network_target"
	OptionPrometheusExport = "prometheus_export"
	OptionHTTPFormat       = "http_format"
	OptionHTTPRates        = "http_rates"
	OptionHostnameType     = "hostname_type"
)

// RawConfig is the administrator-supplied option mapping. Values are
// scalars (string, int or bool); anything else is rendered with fmt.
type RawConfig map[string]any

// NormalizeRawConfig converts a decoded document into a RawConfig.
// Integral floats (as produced by JSON decoders) become ints and nested
// values are flattened to their string form.
func NormalizeRawConfig(doc map[string]interface{}) RawConfig {
	raw := make(RawConfig, len(doc))
	for key, value := range doc {
		switch v := value.(type) {
		case nil:
			continue
		case string, bool, int:
			raw[key] = v
		case int64:
			raw[key] = int(v)
		case uint64:
			raw[key] = int(v)
		case float64:
			if v == math.Trunc(v) && math.Abs(v) < math.MaxInt32 {
				raw[key] = int(v)
			} else {
				raw[key] = strconv.FormatFloat(v, 'f', -1, 64)
			}
		default:
			raw[key] = fmt.Sprint(v)
		}
	}
	return raw
}

// Has reports whether key is present with a non-nil value.
func (r RawConfig) Has(key string) bool {
	v, ok := r[key]
	return ok && v != nil
}

// String returns the option as a string. Ints and bools are formatted.
func (r RawConfig) String(key string) (string, bool) {
	v, ok := r[key]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case int:
		return strconv.Itoa(t), true
	default:
		return fmt.Sprint(t), true
	}
}

// Int returns the option as an int. Numeric strings are accepted.
func (r RawConfig) Int(key string) (int, bool, error) {
	v, ok := r[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch t := v.(type) {
	case int:
		return t, true, nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, true, NewInvalidOptionValueError(key, t)
		}
		return n, true, nil
	default:
		return 0, true, NewInvalidOptionValueError(key, t)
	}
}

// Bool returns the option as a bool. "true"/"false" strings are accepted.
func (r RawConfig) Bool(key string) (bool, bool, error) {
	v, ok := r[key]
	if !ok || v == nil {
		return false, false, nil
	}
	switch t := v.(type) {
	case bool:
		return t, true, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return false, true, NewInvalidOptionValueError(key, t)
		}
		return b, true, nil
	default:
		return false, true, NewInvalidOptionValueError(key, t)
	}
}

// Snapshot returns a canonical encoding of the options, stable across map
// iteration order, suitable for change fingerprinting.
func (r RawConfig) Snapshot() ([]byte, error) {
	// yaml.v3 emits mapping keys in sorted order.
	data, err := yaml.Marshal(map[string]any(r))
	if err != nil {
		return nil, NewInvalidOptionValueError("*", err.Error())
	}
	return data, nil
}

// Protocol is the graphite transport protocol.
type Protocol string

const (
	ProtocolTCP Protocol = "TCP"
	ProtocolUDP Protocol = "UDP"
)

// Valid reports whether p is TCP or UDP (case-insensitive).
func (p Protocol) Valid() bool {
	switch Protocol(strings.ToUpper(string(p))) {
	case ProtocolTCP, ProtocolUDP:
		return true
	}
	return false
}

// HostnameMode selects how the collector names the host.
type HostnameMode string

const (
	// HostnameFQDN defers resolution to the collector itself.
	HostnameFQDN HostnameMode = "fqdn"
	// HostnameShort uses the short local host name.
	HostnameShort HostnameMode = "hostname"
)

// FQDNSentinel is the resolved hostname when resolution is deferred.
const FQDNSentinel = "fqdn"

// GraphiteTarget is a resolved graphite endpoint.
type GraphiteTarget struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Protocol Protocol `yaml:"protocol"`
	Prefix   string   `yaml:"prefix"`
}

// NetworkTarget is a resolved collectd network-plugin endpoint.
type NetworkTarget struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ExporterTarget describes where the collector posts metrics over HTTP.
type ExporterTarget struct {
	Enabled bool `yaml:"enabled"`

	// Scheme is http or https. A local sidecar is always http.
	Scheme string `yaml:"scheme"`
	// Endpoint is the listen endpoint as host:port.
	Endpoint string `yaml:"endpoint"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`

	// MetricsPath is the externally visible scrape path.
	MetricsPath string `yaml:"metrics_path"`

	// Format and ReportRates drive the http writer plugin.
	Format      string `yaml:"format"`
	ReportRates bool   `yaml:"report_rates"`

	// Local is set if and only if Host is a loopback address.
	Local *LocalExporter `yaml:"local,omitempty"`
}

// LocalExporter holds the sidecar bind settings of a loopback exporter.
type LocalExporter struct {
	Port int `yaml:"port"`
	// Path is where the collector posts to the sidecar.
	Path string `yaml:"path"`
	// ExternalPath is the scrape path the sidecar serves.
	ExternalPath string `yaml:"external_path"`
}

// IsLocal reports whether the exporter runs as a local sidecar.
func (e *ExporterTarget) IsLocal() bool {
	return e != nil && e.Enabled && e.Local != nil
}

// PostURL is the URL the collector's http writer posts to.
func (e *ExporterTarget) PostURL() string {
	if e.IsLocal() {
		return fmt.Sprintf("http://%s%s", e.Endpoint, e.Local.Path)
	}
	scheme := e.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s%s", scheme, e.Endpoint, e.MetricsPath)
}

// ResolvedConfig is the fully derived configuration used downstream.
type ResolvedConfig struct {
	Interval        int             `yaml:"interval"`
	PluginSelection string          `yaml:"plugins"`
	Graphite        *GraphiteTarget `yaml:"graphite,omitempty"`
	Network         *NetworkTarget  `yaml:"network,omitempty"`
	Exporter        *ExporterTarget `yaml:"exporter,omitempty"`
	HostnameMode    HostnameMode    `yaml:"hostname_mode"`
	Hostname        string          `yaml:"hostname"`
}

// PluginSet is an insertion-ordered set of plugin names.
type PluginSet struct {
	names []string
	index map[string]struct{}
}

// NewPluginSet builds a set from names, dropping duplicates.
func NewPluginSet(names ...string) PluginSet {
	var set PluginSet
	for _, name := range names {
		set.Add(name)
	}
	return set
}

// Add appends name unless already present. It reports whether it was added.
func (s *PluginSet) Add(name string) bool {
	if s.index == nil {
		s.index = make(map[string]struct{})
	}
	if _, exists := s.index[name]; exists {
		return false
	}
	s.index[name] = struct{}{}
	s.names = append(s.names, name)
	return true
}

// Contains reports membership.
func (s PluginSet) Contains(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Names returns the members in insertion order.
func (s PluginSet) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Len returns the number of members.
func (s PluginSet) Len() int {
	return len(s.names)
}

// ServiceName identifies a managed service.
type ServiceName string

// ServiceStatus is the observed state of a service.
type ServiceStatus string

const (
	ServiceNotInstalled ServiceStatus = "not-installed"
	ServiceStopped      ServiceStatus = "stopped"
	ServiceRunning      ServiceStatus = "running"
)

// ServicePhase is the reconciler's view of a service.
type ServicePhase string

const (
	PhaseNotStarted ServicePhase = "not-started"
	PhaseRunning    ServicePhase = "running"
)

// ServiceAction is what a reconciliation decided for a service.
type ServiceAction string

const (
	ActionNone    ServiceAction = "none"
	ActionStart   ServiceAction = "start"
	ActionRestart ServiceAction = "restart"
)

// ServiceState is the persisted per-service record.
type ServiceState struct {
	Phase             ServicePhase  `yaml:"phase"`
	Observed          ServiceStatus `yaml:"observed"`
	EverStarted       bool          `yaml:"ever_started"`
	StartRequested    bool          `yaml:"start_requested"`
	ConfigFingerprint string        `yaml:"config_fingerprint,omitempty"`
	LastAction        ServiceAction `yaml:"last_action,omitempty"`
	UpdatedAt         time.Time     `yaml:"updated_at"`
}

// RequestStart asserts the one-shot start signal.
func (s *ServiceState) RequestStart() {
	s.StartRequested = true
}

// ReservationState tags a PortReservation.
type ReservationState string

const (
	ReservationNone ReservationState = "none"
	ReservationHeld ReservationState = "held"
)

// PortReservation is the last port opened for the exporter sidecar.
type PortReservation struct {
	State    ReservationState `yaml:"state"`
	Port     int              `yaml:"port,omitempty"`
	Protocol string           `yaml:"protocol,omitempty"`
	// Releasing is a previously held port whose close has not succeeded yet.
	Releasing int `yaml:"releasing,omitempty"`
}

// Held reports whether a port is currently reserved.
func (p PortReservation) Held() bool {
	return p.State == ReservationHeld
}
