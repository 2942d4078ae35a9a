package main

import (
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flowfc-progression/internal/domain"
	"github.com/flowfc-progression/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomStatIsAlwaysValid(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	date := time.Date(2024, 9, 1, 15, 0, 0, 0, time.UTC)

	for i := 0; i < 500; i++ {
		raw := randomStat(rng, i%37, "match-1", date)
		_, err := service.ValidateStatRecord(raw)
		require.NoError(t, err, "%+v", raw)
		assert.Equal(t, "2024-09-01", raw.Date)
	}
}

func TestRegisterPlayers(t *testing.T) {
	var created int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p domain.Player
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		if p.ID == playerID(1) {
			w.WriteHeader(http.StatusConflict)
			return
		}
		atomic.AddInt32(&created, 1)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	require.NoError(t, registerPlayers(srv.URL, 3))
	assert.Equal(t, int32(2), atomic.LoadInt32(&created))
}

func TestRegisterPlayersFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	assert.Error(t, registerPlayers(srv.URL, 1))
}
