package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sammck-go/portmux/pkg/discovery"
	"github.com/sammck-go/portmux/pkg/sharelink"
	"github.com/sammck-go/portmux/pkg/sniff"
)

func TestOptionsDefaults(t *testing.T) {
	for _, k := range []string{"ARGO_PORT", "PORTMUX_PORT", "ARGO_DOMAIN", "FILE_PATH", "UUID", "CFIP", "CFPORT", "NAME"} {
		t.Setenv(k, "")
	}
	o, err := optionsFromEnv()
	require.NoError(t, err)
	require.NoError(t, o.Validate())

	require.Equal(t, 8080, o.Port)
	require.Equal(t, 8081, o.BackendPort)
	require.Equal(t, ":8080", o.listenAddr())
	require.Equal(t, "127.0.0.1:8081", o.backendAddr())
	require.Equal(t, filepath.Join("world", "boot.log"), o.BootLog)
	require.Equal(t, filepath.Join("world", "link.txt"), o.LinkFile)
	require.Equal(t, defaultUUID, o.UUID)
	require.Equal(t, 443, o.CFPort)

	mc, err := o.muxConfig()
	require.NoError(t, err)
	require.Equal(t, sniff.UpgradePath{Path: "/king"}, mc.Strategy)
	require.Zero(t, mc.SniffTimeout)

	dc := o.discoveryConfig()
	require.Empty(t, dc.FixedHostname)
	require.Equal(t, 2*time.Second, dc.Interval)
	require.Equal(t, 10, dc.MaxRetries)
	require.Equal(t, "unknown.trycloudflare.com", dc.Fallback)
	require.True(t, dc.Watch)
}

func TestOptionsFromEnv(t *testing.T) {
	t.Setenv("ARGO_PORT", "3000")
	t.Setenv("ARGO_DOMAIN", "tunnel.example.com")
	t.Setenv("FILE_PATH", "/tmp/cf")
	t.Setenv("PORTMUX_SNIFF_MODE", "http-marker")
	t.Setenv("PORTMUX_SNIFF_TIMEOUT", "15s")
	t.Setenv("PORTMUX_WATCH", "false")

	o, err := optionsFromEnv()
	require.NoError(t, err)
	require.NoError(t, o.Validate())
	require.Equal(t, 3001, o.BackendPort)
	require.Equal(t, "/tmp/cf/boot.log", o.BootLog)
	require.Equal(t, 15*time.Second, o.SniffTimeout)

	mc, err := o.muxConfig()
	require.NoError(t, err)
	require.Equal(t, sniff.HTTPMarker{}, mc.Strategy)

	dc := o.discoveryConfig()
	require.Equal(t, "tunnel.example.com", dc.FixedHostname)
	require.False(t, dc.Watch)
}

func TestOptionsEnvErrors(t *testing.T) {
	t.Setenv("ARGO_PORT", "eighty")
	_, err := optionsFromEnv()
	require.ErrorContains(t, err, "ARGO_PORT")

	cmd := newMainCommand()
	cmd.SetArgs([]string{"version"})
	cmd.SetOut(&bytes.Buffer{})
	require.ErrorContains(t, cmd.Execute(), "environment")
}

func TestOptionsValidate(t *testing.T) {
	base := func() *options {
		return &options{
			Port:        8080,
			SniffMode:   sniff.StrategyUpgradePath,
			UpgradePath: "/king",
			FilePath:    "world",
			LogLevel:    "info",
		}
	}
	tests := []struct {
		name   string
		mutate func(o *options)
		errMsg string
	}{
		{"port range", func(o *options) { o.Port = 70000 }, "out of range"},
		{"zero port needs backend", func(o *options) { o.Port = 0 }, "backend port is required"},
		{"same ports", func(o *options) { o.BackendPort = 8080 }, "must differ"},
		{"backend range", func(o *options) { o.Port = 65535 }, "out of range"},
		{"sniff mode", func(o *options) { o.SniffMode = "magic" }, "unknown sniff strategy"},
		{"log level", func(o *options) { o.LogLevel = "loud" }, "unknown log level"},
		{"negative timeout", func(o *options) { o.SniffTimeout = -time.Second }, "negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := base()
			tt.mutate(o)
			err := o.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.errMsg)
		})
	}
	require.NoError(t, base().Validate())
}

func TestFlagsOverrideEnv(t *testing.T) {
	t.Setenv("CFPORT", "2053")
	t.Setenv("NAME", "from-env")

	var out bytes.Buffer
	cmd := newMainCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"link", "--name", "from-flag", "--upgrade-path", "/ws", "h.trycloudflare.com"})
	require.NoError(t, cmd.Execute())

	link, err := sharelink.Parse(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	require.Equal(t, "from-flag", link.PS)
	require.Equal(t, 2053, link.Port)
	require.Equal(t, "/ws?ed=2048", link.Path)
	require.Equal(t, "h.trycloudflare.com", link.SNI)
}

func TestKeepaliveUsesResolvedScheme(t *testing.T) {
	result := discovery.Result{Hostname: "x.trycloudflare.com", Source: discovery.SourceDiscovered}
	o := &options{KeepaliveInterval: time.Minute, KeepaliveTimeout: time.Second, Scheme: "https"}
	kc := o.keepaliveConfig(o.discoveryConfig().Scheme, result)
	require.Equal(t, "https", kc.Scheme)
	require.Equal(t, "x.trycloudflare.com", kc.Hostname)
	require.Equal(t, time.Minute, kc.Interval)

	t.Setenv("PORTMUX_PUBLIC_SCHEME", "http")
	o, err := optionsFromEnv()
	require.NoError(t, err)
	require.NoError(t, o.Validate())
	require.Equal(t, "http", o.keepaliveConfig(o.discoveryConfig().Scheme, result).Scheme)

	o.Scheme = "ftp"
	require.ErrorContains(t, o.Validate(), "public scheme")
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newMainCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	require.True(t, strings.HasPrefix(out.String(), "portmux dev"))
}
