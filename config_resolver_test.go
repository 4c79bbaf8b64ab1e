// config_resolver_test.go: Tests for raw option resolution
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package reconciler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver() *ConfigResolver {
	return NewConfigResolver(fakeHostnames{name: "node1"})
}

func TestConfigResolver_GraphiteEndpoint(t *testing.T) {
	resolved, err := newTestResolver().Resolve(context.Background(), RawConfig{
		"interval":          10,
		"plugins":           "default",
		"graphite_endpoint": "10.0.0.5:2003",
		"graphite_protocol": "tcp",
	})
	require.NoError(t, err)

	require.NotNil(t, resolved.Graphite)
	assert.Equal(t, "10.0.0.5", resolved.Graphite.Host)
	assert.Equal(t, 2003, resolved.Graphite.Port)
	assert.Equal(t, ProtocolTCP, resolved.Graphite.Protocol)
	assert.Equal(t, DefaultGraphitePrefix, resolved.Graphite.Prefix)
	assert.Equal(t, 10, resolved.Interval)
	assert.Equal(t, "default", resolved.PluginSelection)
	assert.Nil(t, resolved.Network)
	assert.Nil(t, resolved.Exporter)
}

func TestConfigResolver_LegacyGraphiteOptions(t *testing.T) {
	resolved, err := newTestResolver().Resolve(context.Background(), RawConfig{
		"graphite_host":   "metrics.internal",
		"graphite_port":   "2004",
		"graphite_prefix": "prod.",
	})
	require.NoError(t, err)

	require.NotNil(t, resolved.Graphite)
	assert.Equal(t, "metrics.internal", resolved.Graphite.Host)
	assert.Equal(t, 2004, resolved.Graphite.Port)
	assert.Equal(t, ProtocolTCP, resolved.Graphite.Protocol)
	assert.Equal(t, "prod.", resolved.Graphite.Prefix)
}

func TestConfigResolver_MalformedEndpoints(t *testing.T) {
	tests := []struct {
		name   string
		option string
		value  string
	}{
		{"graphite missing port", OptionGraphiteEndpoint, "10.0.0.5"},
		{"graphite three parts", OptionGraphiteEndpoint, "10.0.0.5:2003:1"},
		{"graphite non numeric port", OptionGraphiteEndpoint, "10.0.0.5:abc"},
		{"graphite zero port", OptionGraphiteEndpoint, "10.0.0.5:0"},
		{"graphite negative port", OptionGraphiteEndpoint, "10.0.0.5:-1"},
		{"graphite empty host", OptionGraphiteEndpoint, ":2003"},
		{"network missing port", OptionNetworkTarget, "10.0.0.6"},
		{"exporter without port", OptionPrometheusExport, "http://127.0.0.1/metrics"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestResolver().Resolve(context.Background(), RawConfig{tt.option: tt.value})
			require.Error(t, err)
			assert.True(t, HasErrorCode(err, ErrCodeMalformedEndpoint), "got %v", err)
		})
	}
}

func TestConfigResolver_PortAboveRangeIsLeftToValidation(t *testing.T) {
	resolved, err := newTestResolver().Resolve(context.Background(), RawConfig{
		"graphite_endpoint": "10.0.0.5:70000",
	})
	require.NoError(t, err)
	assert.Equal(t, 70000, resolved.Graphite.Port)
}

func TestConfigResolver_NetworkTarget(t *testing.T) {
	resolved, err := newTestResolver().Resolve(context.Background(), RawConfig{
		"network_target": "10.0.0.6:25826",
	})
	require.NoError(t, err)
	require.NotNil(t, resolved.Network)
	assert.Equal(t, NetworkTarget{Host: "10.0.0.6", Port: 25826}, *resolved.Network)
}

func TestConfigResolver_EmptyCompositeOptionsAreAbsent(t *testing.T) {
	resolved, err := newTestResolver().Resolve(context.Background(), RawConfig{
		"graphite_endpoint": "",
		"network_target":    "  ",
		"prometheus_export": "",
	})
	require.NoError(t, err)
	assert.Nil(t, resolved.Graphite)
	assert.Nil(t, resolved.Network)
	assert.Nil(t, resolved.Exporter)
}

func TestConfigResolver_Exporter(t *testing.T) {
	t.Run("absent", func(t *testing.T) {
		resolved, err := newTestResolver().Resolve(context.Background(), RawConfig{})
		require.NoError(t, err)
		assert.Nil(t, resolved.Exporter)
	})

	t.Run("false", func(t *testing.T) {
		for _, value := range []any{false, "false"} {
			resolved, err := newTestResolver().Resolve(context.Background(), RawConfig{"prometheus_export": value})
			require.NoError(t, err)
			assert.Nil(t, resolved.Exporter)
		}
	})

	t.Run("true selects the default local endpoint", func(t *testing.T) {
		for _, value := range []any{true, "true"} {
			resolved, err := newTestResolver().Resolve(context.Background(), RawConfig{"prometheus_export": value})
			require.NoError(t, err)
			require.NotNil(t, resolved.Exporter)
			assert.Equal(t, "127.0.0.1:9103", resolved.Exporter.Endpoint)
			assert.True(t, resolved.Exporter.IsLocal())
		}
	})

	t.Run("loopback URL is local mode", func(t *testing.T) {
		resolved, err := newTestResolver().Resolve(context.Background(), RawConfig{
			"interval":          10,
			"plugins":           "cpu,df",
			"prometheus_export": "http://127.0.0.1:9103/metrics",
		})
		require.NoError(t, err)

		exporter := resolved.Exporter
		require.NotNil(t, exporter)
		require.NotNil(t, exporter.Local)
		assert.True(t, exporter.Enabled)
		assert.Equal(t, 9103, exporter.Local.Port)
		assert.Equal(t, "/collectd-post", exporter.Local.Path)
		assert.Equal(t, "/metrics", exporter.Local.ExternalPath)
		assert.Equal(t, "JSON", exporter.Format)
		assert.False(t, exporter.ReportRates)
		assert.Equal(t, "http://127.0.0.1:9103/collectd-post", exporter.PostURL())
	})

	t.Run("localhost without scheme or path", func(t *testing.T) {
		resolved, err := newTestResolver().Resolve(context.Background(), RawConfig{
			"prometheus_export": "localhost:9200",
			"http_rates":        true,
		})
		require.NoError(t, err)
		require.True(t, resolved.Exporter.IsLocal())
		assert.Equal(t, 9200, resolved.Exporter.Local.Port)
		assert.Equal(t, "/metrics", resolved.Exporter.Local.ExternalPath)
		assert.False(t, resolved.Exporter.ReportRates)
	})

	t.Run("remote endpoint is not local", func(t *testing.T) {
		resolved, err := newTestResolver().Resolve(context.Background(), RawConfig{
			"prometheus_export": "http://10.1.1.1:9103/push",
			"http_format":       "command",
			"http_rates":        "true",
		})
		require.NoError(t, err)

		exporter := resolved.Exporter
		require.NotNil(t, exporter)
		assert.Nil(t, exporter.Local)
		assert.False(t, exporter.IsLocal())
		assert.Equal(t, "COMMAND", exporter.Format)
		assert.True(t, exporter.ReportRates)
		assert.Equal(t, "http://10.1.1.1:9103/push", exporter.PostURL())
	})

	t.Run("remote https endpoint keeps its scheme", func(t *testing.T) {
		resolved, err := newTestResolver().Resolve(context.Background(), RawConfig{
			"prometheus_export": "https://metrics.example.com:8443/metrics",
		})
		require.NoError(t, err)

		exporter := resolved.Exporter
		require.NotNil(t, exporter)
		assert.False(t, exporter.IsLocal())
		assert.Equal(t, "https", exporter.Scheme)
		assert.Equal(t, "https://metrics.example.com:8443/metrics", exporter.PostURL())

		content, err := NewTemplateRenderer("").Render(PluginTemplateID(PluginHTTPWriter), RenderContext{Config: resolved})
		require.NoError(t, err)
		assert.Contains(t, string(content), `URL "https://metrics.example.com:8443/metrics"`)
	})

	t.Run("loopback https endpoint posts to the sidecar over http", func(t *testing.T) {
		resolved, err := newTestResolver().Resolve(context.Background(), RawConfig{
			"prometheus_export": "https://127.0.0.1:9103/metrics",
		})
		require.NoError(t, err)
		require.True(t, resolved.Exporter.IsLocal())
		assert.Equal(t, "http://127.0.0.1:9103/collectd-post", resolved.Exporter.PostURL())
	})

	t.Run("unsupported scheme is malformed", func(t *testing.T) {
		_, err := newTestResolver().Resolve(context.Background(), RawConfig{
			"prometheus_export": "ftp://10.1.1.1:9103/metrics",
		})
		require.Error(t, err)
		assert.True(t, HasErrorCode(err, ErrCodeMalformedEndpoint))
	})
}

func TestConfigResolver_Hostname(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		wantMode HostnameMode
		wantName string
	}{
		{"absent", nil, HostnameFQDN, FQDNSentinel},
		{"fqdn", "fqdn", HostnameFQDN, FQDNSentinel},
		{"hostname", "hostname", HostnameShort, "node1"},
		{"hostname mixed case", "HostName", HostnameShort, "node1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := RawConfig{}
			if tt.value != nil {
				raw["hostname_type"] = tt.value
			}
			resolved, err := newTestResolver().Resolve(context.Background(), raw)
			require.NoError(t, err)
			assert.Equal(t, tt.wantMode, resolved.HostnameMode)
			assert.Equal(t, tt.wantName, resolved.Hostname)
		})
	}

	t.Run("invalid mode", func(t *testing.T) {
		_, err := newTestResolver().Resolve(context.Background(), RawConfig{"hostname_type": "ip"})
		require.Error(t, err)
		assert.True(t, HasErrorCode(err, ErrCodeInvalidHostnameMode))
	})

	t.Run("lookup failure", func(t *testing.T) {
		resolver := NewConfigResolver(fakeHostnames{err: errors.New("no host info")})
		_, err := resolver.Resolve(context.Background(), RawConfig{"hostname_type": "hostname"})
		require.Error(t, err)
		assert.True(t, HasErrorCode(err, ErrCodeHostnameLookup))
	})
}

func TestConfigResolver_InvalidInterval(t *testing.T) {
	_, err := newTestResolver().Resolve(context.Background(), RawConfig{"interval": "ten"})
	require.Error(t, err)
	assert.True(t, HasErrorCode(err, ErrCodeInvalidOptionValue))
}

func TestConfigResolver_Deterministic(t *testing.T) {
	raw := RawConfig{
		"interval":          10,
		"plugins":           "cpu",
		"graphite_endpoint": "10.0.0.5:2003",
		"network_target":    "10.0.0.6:25826",
		"prometheus_export": "http://127.0.0.1:9103/metrics",
		"hostname_type":     "hostname",
	}
	first, err := newTestResolver().Resolve(context.Background(), raw)
	require.NoError(t, err)
	second, err := newTestResolver().Resolve(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
