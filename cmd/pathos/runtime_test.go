package main

import (
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/brojonat/pathos/service/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func scrape(t *testing.T, addr string) string {
	t.Helper()
	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestStartMetricsServer(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)
	m.RecordRetry("get_balance", "rpc_failure")

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	addr, stop, err := startMetricsServer("127.0.0.1:0", registry, logger)
	require.NoError(t, err)

	assert.Contains(t, scrape(t, addr), `pathos_retries_total{operation="get_balance",reason="rpc_failure"} 1`)

	stop()
	_, err = http.Get("http://" + addr + "/metrics")
	assert.Error(t, err, "listener is closed after stop")
}

func TestStartMetricsServer_BadAddress(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	_, _, err := startMetricsServer("not-an-address", prometheus.NewRegistry(), logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen for metrics")
}

func TestNewRuntime_WiresMetrics(t *testing.T) {
	app := newApp()
	app.Commands = []*cli.Command{{
		Name: "runtime-check",
		Action: func(c *cli.Context) error {
			rt, err := newRuntime(c, nil, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			require.NotNil(t, rt.metrics)
			require.NotEmpty(t, rt.metricsAddr)

			manager := rt.newManager(nil)
			assert.False(t, manager.IsInstalled())
			rt.metrics.RecordDesync()

			body := scrape(t, rt.metricsAddr)
			assert.Contains(t, body, "wallet_desyncs_total 1")
			return nil
		},
	}}

	err := app.Run([]string{
		"pathos",
		"--keypair", filepath.Join(t.TempDir(), "missing.json"),
		"--metrics-addr", "127.0.0.1:0",
		"runtime-check",
	})
	require.NoError(t, err)
}
