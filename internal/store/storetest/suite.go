// Package storetest runs the same behavioural checks against every
// store.Store implementation.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/flowfc-progression/internal/domain"
	"github.com/flowfc-progression/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store and its teardown.
type Factory func(t *testing.T) (store.Store, func())

// Run exercises s against the store.Store contract.
func Run(t *testing.T, newStore Factory) {
	t.Run("players", func(t *testing.T) { testPlayers(t, newStore) })
	t.Run("player profile updates", func(t *testing.T) { testPlayerUpdates(t, newStore) })
	t.Run("progression versioning", func(t *testing.T) { testProgressionVersioning(t, newStore) })
	t.Run("commit is atomic", func(t *testing.T) { testCommitAtomic(t, newStore) })
	t.Run("query filters", func(t *testing.T) { testQueryFilters(t, newStore) })
	t.Run("concurrent appends", func(t *testing.T) { testConcurrentAppends(t, newStore) })
}

// Record builds a valid stat record for tests.
func Record(playerID string, date string, goals int, rating float64) domain.StatRecord {
	d, _ := time.Parse(domain.DateLayout, date)
	return domain.StatRecord{
		ID:              uuid.NewString(),
		PlayerID:        playerID,
		Goals:           goals,
		Rating:          rating,
		PlaytimeMinutes: 90,
		Date:            d,
		CreatedAt:       time.Now().UTC(),
	}
}

func testPlayers(t *testing.T, newStore Factory) {
	s, teardown := newStore(t)
	defer teardown()
	ctx := context.Background()

	require.NoError(t, s.CreatePlayer(ctx, domain.Player{ID: "p1", Username: "ronnie", CreatedAt: time.Now().UTC()}))
	require.NoError(t, s.CreatePlayer(ctx, domain.Player{ID: "p2", Username: "zizou", CreatedAt: time.Now().UTC()}))

	err := s.CreatePlayer(ctx, domain.Player{ID: "p1", Username: "dupe", CreatedAt: time.Now().UTC()})
	assert.ErrorIs(t, err, domain.ErrPlayerExists)

	exists, err := s.PlayerExists(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.PlayerExists(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, exists)

	players, err := s.GetPlayers(ctx, []string{"p1", "p2", "p3"})
	require.NoError(t, err)
	assert.Len(t, players, 2)
	assert.Equal(t, "zizou", players["p2"].Username)
}

func testPlayerUpdates(t *testing.T, newStore Factory) {
	s, teardown := newStore(t)
	defer teardown()
	ctx := context.Background()

	created := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreatePlayer(ctx, domain.Player{ID: "p1", Username: "ronnie", Email: "r@flow.fc", CreatedAt: created}))

	p, err := s.GetPlayer(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "ronnie", p.Username)
	assert.Equal(t, "r@flow.fc", p.Email)
	assert.True(t, created.Equal(p.CreatedAt))

	p.Position = "ST"
	p.JerseyNumber = 9
	p.TeamID = "team-1"
	p.AvatarURL = "https://cdn.flow.fc/p1.png"
	p.Username = "ignored"
	require.NoError(t, s.UpdatePlayer(ctx, p))

	got, err := s.GetPlayer(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "ST", got.Position)
	assert.Equal(t, 9, got.JerseyNumber)
	assert.Equal(t, "team-1", got.TeamID)
	assert.Equal(t, "https://cdn.flow.fc/p1.png", got.AvatarURL)
	assert.Equal(t, "ronnie", got.Username)

	_, err = s.GetPlayer(ctx, "nobody")
	assert.ErrorIs(t, err, domain.ErrUnknownPlayer)

	err = s.UpdatePlayer(ctx, domain.Player{ID: "nobody", Position: "GK"})
	assert.ErrorIs(t, err, domain.ErrUnknownPlayer)
}

func testProgressionVersioning(t *testing.T, newStore Factory) {
	s, teardown := newStore(t)
	defer teardown()
	ctx := context.Background()
	require.NoError(t, s.CreatePlayer(ctx, domain.Player{ID: "p1", Username: "ronnie", CreatedAt: time.Now().UTC()}))

	_, err := s.GetProgression(ctx, "p1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.PutProgression(ctx, domain.PlayerProgression{PlayerID: "p1", XPPoints: 40, Level: 1}))

	got, err := s.GetProgression(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), got.XPPoints)
	assert.Equal(t, int64(1), got.Version)

	// A writer still holding version 0 must lose.
	err = s.PutProgression(ctx, domain.PlayerProgression{PlayerID: "p1", XPPoints: 500, Level: 6})
	assert.ErrorIs(t, err, store.ErrConflict)

	got.XPPoints = 140
	got.Level = 2
	require.NoError(t, s.PutProgression(ctx, got))

	got, err = s.GetProgression(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(140), got.XPPoints)
	assert.Equal(t, 2, got.Level)
	assert.Equal(t, int64(2), got.Version)
}

func testCommitAtomic(t *testing.T, newStore Factory) {
	s, teardown := newStore(t)
	defer teardown()
	ctx := context.Background()
	require.NoError(t, s.CreatePlayer(ctx, domain.Player{ID: "p1", Username: "ronnie", CreatedAt: time.Now().UTC()}))

	r := Record("p1", "2025-03-01", 1, 7.5)
	require.NoError(t, s.CommitStatRecord(ctx, r, domain.PlayerProgression{PlayerID: "p1", XPPoints: 48, Level: 1}))

	// Stale version: neither the record nor the progression may change.
	stale := Record("p1", "2025-03-02", 3, 9)
	err := s.CommitStatRecord(ctx, stale, domain.PlayerProgression{PlayerID: "p1", XPPoints: 999, Level: 10})
	assert.ErrorIs(t, err, store.ErrConflict)

	records, err := s.QueryStatRecords(ctx, domain.StatFilter{PlayerID: "p1"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, r.ID, records[0].ID)
	assert.Equal(t, 1, records[0].Goals)
	assert.InDelta(t, 7.5, records[0].Rating, 1e-9)
	assert.Equal(t, "2025-03-01", records[0].Date.Format(domain.DateLayout))

	p, err := s.GetProgression(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(48), p.XPPoints)
	assert.Equal(t, int64(1), p.Version)
}

func testQueryFilters(t *testing.T, newStore Factory) {
	s, teardown := newStore(t)
	defer teardown()
	ctx := context.Background()

	for _, id := range []string{"p1", "p2"} {
		require.NoError(t, s.CreatePlayer(ctx, domain.Player{ID: id, Username: id, CreatedAt: time.Now().UTC()}))
	}
	m1 := Record("p1", "2025-01-10", 1, 6)
	m1.MatchID = "m1"
	require.NoError(t, s.AppendStatRecord(ctx, m1))
	require.NoError(t, s.AppendStatRecord(ctx, Record("p1", "2025-02-10", 2, 7)))
	require.NoError(t, s.AppendStatRecord(ctx, Record("p1", "2025-03-10", 0, 8)))
	require.NoError(t, s.AppendStatRecord(ctx, Record("p2", "2025-02-11", 4, 9)))

	all, err := s.QueryStatRecords(ctx, domain.StatFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	p1, err := s.QueryStatRecords(ctx, domain.StatFilter{PlayerID: "p1"})
	require.NoError(t, err)
	assert.Len(t, p1, 3)

	byMatch, err := s.QueryStatRecords(ctx, domain.StatFilter{MatchID: "m1"})
	require.NoError(t, err)
	require.Len(t, byMatch, 1)
	assert.Equal(t, "m1", byMatch[0].MatchID)

	from, _ := time.Parse(domain.DateLayout, "2025-02-01")
	to, _ := time.Parse(domain.DateLayout, "2025-02-28")
	feb, err := s.QueryStatRecords(ctx, domain.StatFilter{From: from, To: to})
	require.NoError(t, err)
	assert.Len(t, feb, 2)

	latest, err := s.QueryStatRecords(ctx, domain.StatFilter{PlayerID: "p1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "2025-03-10", latest[0].Date.Format(domain.DateLayout))
	assert.Equal(t, "2025-02-10", latest[1].Date.Format(domain.DateLayout))
}

func testConcurrentAppends(t *testing.T, newStore Factory) {
	s, teardown := newStore(t)
	defer teardown()
	ctx := context.Background()
	require.NoError(t, s.CreatePlayer(ctx, domain.Player{ID: "p1", Username: "ronnie", CreatedAt: time.Now().UTC()}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.AppendStatRecord(ctx, Record("p1", "2025-04-01", 1, 7)))
		}()
	}
	wg.Wait()

	records, err := s.QueryStatRecords(ctx, domain.StatFilter{PlayerID: "p1"})
	require.NoError(t, err)
	assert.Len(t, records, 20)
}
