package service

import (
	"context"
	"sync"
	"testing"

	"github.com/flowfc-progression/internal/domain"
	"github.com/flowfc-progression/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu           sync.Mutex
	progressions []string
	leaderboards int
}

func (n *recordingNotifier) NotifyProgression(playerID string, _ domain.ProgressionView, _ domain.IngestResult) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.progressions = append(n.progressions, playerID)
}

func (n *recordingNotifier) NotifyLeaderboardChanged() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.leaderboards++
}

func TestIngestStatRecord(t *testing.T) {
	s := store.NewMemory()
	e, m := newTestEngine(t, s, nil)
	registerPlayers(t, e, "p1")
	notifier := &recordingNotifier{}
	e.SetNotifier(notifier)
	ctx := context.Background()

	result, err := e.IngestStatRecord(ctx, domain.Caller{ID: "coach-1"}, validRaw())
	require.NoError(t, err)

	assert.Equal(t, 84, result.XPDelta)
	assert.Equal(t, int64(84), result.Progression.XPPoints)
	assert.Equal(t, 1, result.Progression.Level)
	assert.Equal(t, int64(84), result.Progression.LevelProgress)
	assert.Equal(t, domain.CardTierBronze, result.Progression.CardTier)
	assert.False(t, result.LeveledUp)
	assert.NotEmpty(t, result.Record.ID)
	assert.Equal(t, "coach-1", result.Record.SubmittedBy)

	records, err := s.QueryStatRecords(ctx, domain.StatFilter{PlayerID: "p1"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, result.Record.ID, records[0].ID)

	assert.Equal(t, 1, m.Ingested())
	assert.Equal(t, []string{"p1"}, notifier.progressions)
	assert.Equal(t, 1, notifier.leaderboards)

	result, err = e.IngestStatRecord(ctx, domain.System, validRaw())
	require.NoError(t, err)
	assert.Equal(t, int64(168), result.Progression.XPPoints)
	assert.Equal(t, 2, result.Progression.Level)
	assert.True(t, result.LeveledUp)
	assert.Equal(t, 1, m.LevelUps())
}

func TestIngestRejectsInvalidRecords(t *testing.T) {
	s := store.NewMemory()
	e, m := newTestEngine(t, s, nil)
	registerPlayers(t, e, "p1")
	ctx := context.Background()

	mutations := []func(*domain.RawStatRecord){
		func(r *domain.RawStatRecord) { r.Rating = 10.5 },
		func(r *domain.RawStatRecord) { r.Goals = -1 },
		func(r *domain.RawStatRecord) { r.Date = "" },
		func(r *domain.RawStatRecord) { r.Goals = 600_000_000_000_000_000 },
	}
	for _, mutate := range mutations {
		raw := validRaw()
		mutate(&raw)
		_, err := e.IngestStatRecord(ctx, domain.System, raw)
		assert.ErrorIs(t, err, domain.ErrInvalidStatRecord)
	}

	records, err := s.QueryStatRecords(ctx, domain.StatFilter{})
	require.NoError(t, err)
	assert.Empty(t, records)

	p, err := e.GetProgression(ctx, domain.System, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), p.XPPoints)
	assert.Equal(t, 4, m.Rejected("invalid"))
}

func TestIngestUnknownPlayer(t *testing.T) {
	s := store.NewMemory()
	e, m := newTestEngine(t, s, nil)

	raw := validRaw()
	raw.PlayerID = "ghost"
	_, err := e.IngestStatRecord(context.Background(), domain.System, raw)
	assert.ErrorIs(t, err, domain.ErrUnknownPlayer)
	assert.Equal(t, 1, m.Rejected("unknown_player"))

	records, err := s.QueryStatRecords(context.Background(), domain.StatFilter{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestIngestIsAtomicWhenCommitFails(t *testing.T) {
	mem := store.NewMemory()
	fs := &faultyStore{Store: mem}
	e, m := newTestEngine(t, fs, nil)
	registerPlayers(t, e, "p1")
	fs.commitErrs = []error{errStoreDown, errStoreDown, errStoreDown}
	ctx := context.Background()

	_, err := e.IngestStatRecord(ctx, domain.System, validRaw())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPersistenceUnavailable)
	assert.ErrorIs(t, err, errStoreDown)

	records, err := mem.QueryStatRecords(ctx, domain.StatFilter{})
	require.NoError(t, err)
	assert.Empty(t, records)

	p, err := e.GetProgression(ctx, domain.System, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), p.XPPoints)
	assert.Equal(t, 0, m.Ingested())

	_, commits := fs.calls()
	assert.Equal(t, 3, commits)
}

func TestIngestRecoversFromTransientFailure(t *testing.T) {
	mem := store.NewMemory()
	fs := &faultyStore{Store: mem}
	e, _ := newTestEngine(t, fs, nil)
	registerPlayers(t, e, "p1")
	fs.commitErrs = []error{store.ErrConflict}

	result, err := e.IngestStatRecord(context.Background(), domain.System, validRaw())
	require.NoError(t, err)
	assert.Equal(t, int64(84), result.Progression.XPPoints)

	records, err := mem.QueryStatRecords(context.Background(), domain.StatFilter{})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestIngestConcurrentSamePlayer(t *testing.T) {
	e, _ := newTestEngine(t, store.NewMemory(), nil)
	registerPlayers(t, e, "p1")

	raw := domain.RawStatRecord{PlayerID: "p1", Date: "2024-01-01"}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.IngestStatRecord(context.Background(), domain.System, raw)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	p, err := e.GetProgression(context.Background(), domain.System, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), p.XPPoints)
	assert.Equal(t, 6, p.Level)
	assert.Equal(t, domain.CardTierSilver, p.CardTier)
}

func TestIngestInvalidatesLeaderboard(t *testing.T) {
	cache := newMemoryCache()
	e, _ := newTestEngine(t, store.NewMemory(), cache)
	registerPlayers(t, e, "p1", "p2")
	ctx := context.Background()

	raw := validRaw()
	raw.PlayerID = "p2"
	_, err := e.IngestStatRecord(ctx, domain.System, raw)
	require.NoError(t, err)

	before, err := e.GetLeaderboard(ctx, domain.System, domain.MetricGoals, 0)
	require.NoError(t, err)
	require.Len(t, before, 1)
	assert.Equal(t, "p2", before[0].PlayerID)

	raw.PlayerID = "p1"
	raw.Goals = 5
	_, err = e.IngestStatRecord(ctx, domain.System, raw)
	require.NoError(t, err)

	after, err := e.GetLeaderboard(ctx, domain.System, domain.MetricGoals, 0)
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, "p1", after[0].PlayerID)
	assert.Equal(t, "user-p1", after[0].Username)
}

func TestRegisterPlayer(t *testing.T) {
	e, _ := newTestEngine(t, store.NewMemory(), nil)
	ctx := context.Background()

	p, err := e.RegisterPlayer(ctx, domain.System, domain.Player{Username: "  kaka "})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "kaka", p.Username)

	view, err := e.GetProgression(ctx, domain.System, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), view.XPPoints)
	assert.Equal(t, 1, view.Level)
	assert.Equal(t, int64(1), view.Version)

	_, err = e.RegisterPlayer(ctx, domain.System, domain.Player{ID: p.ID, Username: "again"})
	assert.ErrorIs(t, err, domain.ErrPlayerExists)

	_, err = e.RegisterPlayer(ctx, domain.System, domain.Player{})
	assert.ErrorIs(t, err, domain.ErrInvalidPlayer)
}

func TestGetAndUpdatePlayer(t *testing.T) {
	e, _ := newTestEngine(t, store.NewMemory(), nil)
	registerPlayers(t, e, "p1")
	ctx := context.Background()

	_, err := e.IngestStatRecord(ctx, domain.System, validRaw())
	require.NoError(t, err)

	profile, err := e.GetPlayer(ctx, domain.System, "p1")
	require.NoError(t, err)
	assert.Equal(t, "user-p1", profile.Player.Username)
	assert.Equal(t, int64(84), profile.Progression.XPPoints)
	assert.Equal(t, domain.CardTierBronze, profile.Progression.CardTier)

	position := " CM "
	jersey := 8
	team := "team-blue"
	updated, err := e.UpdatePlayer(ctx, domain.Caller{ID: "p1"}, "p1", domain.PlayerUpdate{
		Position:     &position,
		JerseyNumber: &jersey,
		TeamID:       &team,
	})
	require.NoError(t, err)
	assert.Equal(t, "CM", updated.Position)
	assert.Equal(t, 8, updated.JerseyNumber)

	profile, err = e.GetPlayer(ctx, domain.System, "p1")
	require.NoError(t, err)
	assert.Equal(t, "CM", profile.Player.Position)
	assert.Equal(t, "team-blue", profile.Player.TeamID)
	assert.Equal(t, "user-p1", profile.Player.Username)
	assert.Equal(t, int64(84), profile.Progression.XPPoints)

	avatar := "https://cdn.flow.fc/p1.png"
	_, err = e.UpdatePlayer(ctx, domain.System, "p1", domain.PlayerUpdate{AvatarURL: &avatar})
	require.NoError(t, err)
	profile, err = e.GetPlayer(ctx, domain.System, "p1")
	require.NoError(t, err)
	assert.Equal(t, avatar, profile.Player.AvatarURL)
	assert.Equal(t, "CM", profile.Player.Position)
}

func TestUpdatePlayerValidation(t *testing.T) {
	e, _ := newTestEngine(t, store.NewMemory(), nil)
	registerPlayers(t, e, "p1")
	ctx := context.Background()

	_, err := e.UpdatePlayer(ctx, domain.System, "p1", domain.PlayerUpdate{})
	assert.ErrorIs(t, err, domain.ErrInvalidPlayer)

	negative := -4
	_, err = e.UpdatePlayer(ctx, domain.System, "p1", domain.PlayerUpdate{JerseyNumber: &negative})
	assert.ErrorIs(t, err, domain.ErrInvalidPlayer)

	position := "GK"
	_, err = e.UpdatePlayer(ctx, domain.System, "ghost", domain.PlayerUpdate{Position: &position})
	assert.ErrorIs(t, err, domain.ErrUnknownPlayer)

	_, err = e.GetPlayer(ctx, domain.System, "ghost")
	assert.ErrorIs(t, err, domain.ErrUnknownPlayer)

	_, err = e.GetPlayer(ctx, domain.System, "")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestPlayerSummaryAndRecentMatches(t *testing.T) {
	e, _ := newTestEngine(t, store.NewMemory(), nil)
	registerPlayers(t, e, "p1")
	ctx := context.Background()

	dates := []string{"2024-01-01", "2024-01-05", "2024-01-03", "2024-01-02", "2024-01-07", "2024-01-04"}
	for i, d := range dates {
		raw := domain.RawStatRecord{PlayerID: "p1", Goals: i, Rating: 6, Date: d}
		_, err := e.IngestStatRecord(ctx, domain.System, raw)
		require.NoError(t, err)
	}

	summary, err := e.GetPlayerSummary(ctx, domain.System, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(15), summary.TotalGoals)
	assert.Equal(t, int64(6), summary.TotalMatches)
	assert.InDelta(t, 6.0, summary.AvgRating, 1e-9)
	assert.Equal(t, int64(60+15*15), summary.TotalXP)

	recent, err := e.RecentMatches(ctx, domain.System, "p1", 0)
	require.NoError(t, err)
	require.Len(t, recent, DefaultRecentMatches)
	assert.Equal(t, "2024-01-07", recent[0].Date.Format(domain.DateLayout))
	assert.Equal(t, "2024-01-02", recent[4].Date.Format(domain.DateLayout))

	recent, err = e.RecentMatches(ctx, domain.System, "p1", 2)
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	_, err = e.RecentMatches(ctx, domain.System, "ghost", 2)
	assert.ErrorIs(t, err, domain.ErrUnknownPlayer)

	_, err = e.GetPlayerSummary(ctx, domain.System, "ghost")
	assert.ErrorIs(t, err, domain.ErrUnknownPlayer)
}

func TestGetLeaderboardValidation(t *testing.T) {
	e, _ := newTestEngine(t, store.NewMemory(), nil)

	_, err := e.GetLeaderboard(context.Background(), domain.System, domain.MetricGoals, -1)
	assert.ErrorIs(t, err, domain.ErrInvalidLimit)

	_, err = e.GetLeaderboard(context.Background(), domain.System, domain.Metric("xp"), 5)
	assert.ErrorIs(t, err, domain.ErrInvalidMetric)
}
