package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krallin/hyper-02/pkg/transport"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "hypernet.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, transport.KindTCP, cfg.Server.Transport.TransportKind())
	assert.Equal(t, 4, cfg.Server.Acceptors)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFile(t *testing.T) {
	p := writeFile(t, `
log:
  level: DEBUG
  format: json
server:
  transport:
    kind: unix
    host: /tmp/hypernet.sock
  acceptors: 2
metrics:
  enable: true
  listen: 0.0.0.0:9999
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, transport.KindPipe, cfg.Server.Transport.TransportKind())
	assert.Equal(t, "/tmp/hypernet.sock", cfg.Server.Transport.Host)
	assert.Equal(t, 2, cfg.Server.Acceptors)
	assert.Equal(t, 256, cfg.Server.Workers)
	assert.True(t, cfg.Metrics.Enable)
	assert.Equal(t, "0.0.0.0:9999", cfg.Metrics.Listen)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HYPERNET_SERVER_TRANSPORT_PORT", "9000")
	t.Setenv("HYPERNET_SERVER_TRANSPORT_KIND", "quic")
	t.Setenv("HYPERNET_LOG_LEVEL", "warn")
	cfg, err := Load(writeFile(t, "app_name: edge\n"))
	require.NoError(t, err)
	assert.Equal(t, "edge", cfg.AppName)
	assert.EqualValues(t, 9000, cfg.Server.Transport.Port)
	assert.Equal(t, transport.KindQUIC, cfg.Server.Transport.TransportKind())
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestConfigPathFromEnv(t *testing.T) {
	t.Setenv("HYPERNET_CONFIG", writeFile(t, "server:\n  workers: 3\n"))
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Server.Workers)
}

func TestValidation(t *testing.T) {
	cases := map[string]string{
		"unknown kind":   "server:\n  transport:\n    kind: carrier-pigeon\n",
		"bad level":      "log:\n  level: loud\n",
		"no acceptors":   "server:\n  acceptors: 0\n",
		"bad network":    "client:\n  transport:\n    network: udp\n",
		"bad metrics":    "metrics:\n  listen: nowhere\n",
		"negative queue": "server:\n  transport:\n    backlog: -1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, body))
			assert.Error(t, err)
		})
	}
}

func TestMalformedFile(t *testing.T) {
	_, err := Load(writeFile(t, "server: [\n"))
	assert.ErrorContains(t, err, "read config")
}

func TestMustLoadPanics(t *testing.T) {
	assert.Panics(t, func() { MustLoad(writeFile(t, "log:\n  format: xml\n")) })
}
