package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/flowfc-progression/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("stat record rejected", "player_id", "p1")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "stat record rejected", line["msg"])
	assert.Equal(t, "p1", line["player_id"])
}

func TestTextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(config.LoggingConfig{Level: "debug", Format: "text"}, &buf)
	require.NoError(t, err)

	logger.Debug("leaderboard cache invalidated", "generation", 3)
	assert.Contains(t, buf.String(), "leaderboard cache invalidated")
	assert.Contains(t, buf.String(), "generation=3")
}

func TestInvalidSettings(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "loud", Format: "json"}, &bytes.Buffer{})
	assert.Error(t, err)

	_, err = New(config.LoggingConfig{Level: "info", Format: "xml"}, &bytes.Buffer{})
	assert.Error(t, err)
}
