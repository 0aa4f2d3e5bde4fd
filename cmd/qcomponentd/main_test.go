package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CrimsonAS/qcomponent/client"
	"github.com/CrimsonAS/qcomponent/config"
	"github.com/CrimsonAS/qcomponent/testutil/testlog"
	"github.com/CrimsonAS/qcomponent/transport/httptransport"
	"github.com/CrimsonAS/qcomponent/transport/wstransport"
	"github.com/CrimsonAS/qcomponent/wire"
)

func get(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestHandlers(t *testing.T) {
	testlog.Start(t)
	cfg := config.Default()
	cfg.Server.Version = 3
	registry := prometheus.NewRegistry()
	srv, err := newServer(cfg.Server, registry)
	require.NoError(t, err)

	api := httptest.NewServer(queryHandler(cfg.Server, srv))
	t.Cleanup(api.Close)
	metrics := httptest.NewServer(metricsHandler(registry))
	t.Cleanup(metrics.Close)
	ctx := context.Background()

	cl := client.New(httptransport.NewSender(api.URL+cfg.Server.HTTPPath), client.WithVersion(3))
	require.NoError(t, cl.Connect(ctx))
	catalog, ok := cl.Component("Catalog")
	require.True(t, ok)
	n, err := cl.Call(ctx, catalog, "count")
	require.NoError(t, err)
	assert.Equal(t, float64(4), n)

	stale := client.New(httptransport.NewSender(api.URL+cfg.Server.HTTPPath), client.WithVersion(2))
	assert.Equal(t, wire.CodeVersionMismatch, wire.CodeOf(stale.Connect(ctx)))

	ws, err := wstransport.Dial(ctx, "ws"+strings.TrimPrefix(api.URL, "http")+cfg.Server.WSPath, wire.Msgpack)
	require.NoError(t, err)
	defer ws.Close()
	q := wire.NewMap().Set("Movie", wire.NewMap().Set("limit", true))
	resp, err := ws.Send(ctx, &wire.Request{Query: q, Version: wire.Version(3)})
	require.NoError(t, err)
	require.NoError(t, resp.Err())

	assert.Equal(t, "OK", get(t, metrics.URL+"/health"))
	body := get(t, metrics.URL+"/metrics")
	assert.Contains(t, body, "qcomponent_server_requests_total")
	assert.Contains(t, body, `code="VERSION_MISMATCH"`)
}

func TestRunStopsWithContext(t *testing.T) {
	logger := testlog.Start(t)
	cfg := config.Default()
	cfg.Server.HTTPListen = "127.0.0.1:0"
	cfg.Server.MetricsListen = "127.0.0.1:0"
	cfg.Server.ShutdownTimeout = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, logger) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
}

func TestRunFailsWithoutNATS(t *testing.T) {
	logger := testlog.Start(t)
	cfg := config.Default()
	cfg.Server.HTTPListen = ""
	cfg.Server.MetricsListen = ""
	cfg.Server.NATSURL = "nats://127.0.0.1:1"

	err := run(context.Background(), cfg, logger)
	assert.ErrorContains(t, err, "nats")
}
