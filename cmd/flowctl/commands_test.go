package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/flowfc-progression/internal/config"
	"github.com/flowfc-progression/internal/handler"
	"github.com/flowfc-progression/internal/metrics"
	"github.com/flowfc-progression/internal/service"
	"github.com/flowfc-progression/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Progression.RetryBackoff = time.Millisecond
	cfg.RateLimit.Enabled = false
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := service.NewEngine(store.NewMemory(), nil, cfg, metrics.NewMock(), logger)
	srv := httptest.NewServer(handler.NewHandler(engine, nil, nil, cfg, logger).Router())
	t.Cleanup(srv.Close)
	host = srv.URL
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append(args, "--host", host))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestFlowctlRoundTrip(t *testing.T) {
	startServer(t)

	out, err := run(t, "health")
	require.NoError(t, err)
	assert.Contains(t, out, "/ready -> 200")

	out, err = run(t, "register", "--id", "p1", "--username", "pirlo", "--position", "MID")
	require.NoError(t, err)
	assert.Contains(t, out, "-> 201")

	out, err = run(t, "ingest", "--player", "p1", "--goals", "1", "--assists", "2", "--rating", "8", "--date", "2024-07-01")
	require.NoError(t, err)
	assert.Contains(t, out, `"xp_delta": 73`)

	out, err = run(t, "progression", "p1")
	require.NoError(t, err)
	assert.Contains(t, out, `"xp_points": 73`)

	out, err = run(t, "leaderboard", "--metric", "assists", "--limit", "3")
	require.NoError(t, err)
	assert.Contains(t, out, `"player_id": "p1"`)

	out, err = run(t, "matches", "p1", "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, `"date": "2024-07-01T00:00:00Z"`)

	_, err = run(t, "summary", "p1")
	require.NoError(t, err)

	out, err = run(t, "player", "p1")
	require.NoError(t, err)
	assert.Contains(t, out, "GET /api/v1/players/p1 -> 200")
	assert.Contains(t, out, `"position": "MID"`)

	out, err = run(t, "player", "p1", "--position", "CAM", "--jersey", "21")
	require.NoError(t, err)
	assert.Contains(t, out, "PATCH /api/v1/players/p1 -> 200")
	assert.Contains(t, out, `"jersey_number": 21`)
}

func TestFlowctlReportsErrors(t *testing.T) {
	startServer(t)

	out, err := run(t, "progression", "ghost")
	require.Error(t, err)
	assert.Contains(t, out, "-> 404")

	_, err = run(t, "leaderboard", "--metric", "speed")
	assert.Error(t, err)
}
