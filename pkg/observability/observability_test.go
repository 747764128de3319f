package observability

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/krallin/hyper-02/pkg/config"
	"github.com/krallin/hyper-02/pkg/transport/metrics"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("bogus"))
}

func TestLoggerWritesFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "nested", "hypernet.log")
	c := config.Default().Log
	c.Outputs = []string{out}
	c.Format = "json"
	c.Development = false

	logger, err := NewLogger(c)
	require.NoError(t, err)
	logger.Info("accepted", zap.String("conn", "abc"))
	logger.Debug("hidden")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"conn":"abc"`)
	assert.NotContains(t, string(data), "hidden")
}

func TestLoggerRejectsUnwritableOutput(t *testing.T) {
	dir := t.TempDir()
	c := config.Default().Log
	c.Outputs = []string{dir}
	_, err := NewLogger(c)
	assert.Error(t, err)
}

func TestSetupLoggerReplacesGlobal(t *testing.T) {
	c := config.Default().Log
	c.Outputs = []string{"none"}
	logger, err := SetupLogger(c)
	require.NoError(t, err)
	defer zap.ReplaceGlobals(zap.NewNop())
	assert.Same(t, logger, zap.L())
}

func TestMetricsEndpoint(t *testing.T) {
	reg := NewRegistry()
	c := metrics.New(reg)
	c.Accepts.WithLabelValues("tcp").Inc()

	m, err := StartMetrics(config.MetricsConfig{Listen: "127.0.0.1:0", Path: "/metrics"}, reg)
	require.NoError(t, err)
	defer m.Shutdown(context.Background())

	resp, err := http.Get("http://" + m.Addr().String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), `hypernet_accepts_total{transport="tcp"} 1`))
	assert.Contains(t, string(body), "go_goroutines")
}
