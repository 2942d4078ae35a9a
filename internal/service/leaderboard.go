package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/flowfc-progression/internal/config"
	"github.com/flowfc-progression/internal/domain"
	"github.com/flowfc-progression/internal/metrics"
	"github.com/flowfc-progression/internal/store"
	"golang.org/x/sync/singleflight"
)

// computeTimeout bounds one shared leaderboard recomputation.
const computeTimeout = 30 * time.Second

// LeaderboardCache stores fully ranked views per metric. Views are written
// under the generation observed by Get, and Invalidate moves to a new
// generation, so a view computed before an ingestion is never served after
// it.
type LeaderboardCache interface {
	Get(ctx context.Context, metric domain.Metric) (entries []domain.LeaderboardEntry, generation int64, hit bool, err error)
	Set(ctx context.Context, metric domain.Metric, generation int64, entries []domain.LeaderboardEntry) error
	Invalidate(ctx context.Context, playerID string) error
}

// LeaderboardAggregator derives ranked views from the stat record history.
type LeaderboardAggregator struct {
	store   store.Store
	cache   LeaderboardCache
	config  *config.LeaderboardConfig
	metrics metrics.Metrics
	logger  *slog.Logger
	group   singleflight.Group
}

// NewLeaderboardAggregator creates an aggregator. cache may be nil.
func NewLeaderboardAggregator(s store.Store, cache LeaderboardCache, cfg *config.LeaderboardConfig, m metrics.Metrics, logger *slog.Logger) *LeaderboardAggregator {
	return &LeaderboardAggregator{
		store:   s,
		cache:   cache,
		config:  cfg,
		metrics: m,
		logger:  logger,
	}
}

// RankBy returns the top limit players ordered by metric. limit must be
// positive; values above the configured maximum are clamped to it, so a
// caller asking for more than MaxLimit receives at most MaxLimit entries.
func (a *LeaderboardAggregator) RankBy(ctx context.Context, metric domain.Metric, limit int) ([]domain.LeaderboardEntry, error) {
	if _, err := domain.ParseMetric(string(metric)); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, domain.ErrInvalidLimit
	}
	if limit > a.config.MaxLimit {
		limit = a.config.MaxLimit
	}

	entries, err := a.ranked(ctx, metric)
	if err != nil {
		return nil, err
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Invalidate drops cached views after a player's history changed.
func (a *LeaderboardAggregator) Invalidate(ctx context.Context, playerID string) error {
	if a.cache == nil {
		return nil
	}
	if err := a.cache.Invalidate(ctx, playerID); err != nil {
		return fmt.Errorf("invalidating leaderboard cache: %w", err)
	}
	return nil
}

// Warm recomputes every metric's view into the cache.
func (a *LeaderboardAggregator) Warm(ctx context.Context) error {
	for _, metric := range domain.Metrics {
		if err := a.WarmMetric(ctx, metric); err != nil {
			return err
		}
	}
	return nil
}

// WarmMetric recomputes one metric's view into the cache.
func (a *LeaderboardAggregator) WarmMetric(ctx context.Context, metric domain.Metric) error {
	if a.cache == nil {
		return nil
	}
	_, generation, _, err := a.cache.Get(ctx, metric)
	if err != nil {
		return fmt.Errorf("reading cache generation: %w", err)
	}
	entries, err := a.compute(ctx, metric)
	if err != nil {
		return err
	}
	if err := a.cache.Set(ctx, metric, generation, entries); err != nil {
		return fmt.Errorf("warming %s leaderboard: %w", metric, err)
	}
	return nil
}

// ranked returns the full ordering for metric, from cache when possible.
// Concurrent misses for the same metric share one recomputation.
func (a *LeaderboardAggregator) ranked(ctx context.Context, metric domain.Metric) ([]domain.LeaderboardEntry, error) {
	var generation int64
	if a.cache != nil {
		cached, gen, hit, err := a.cache.Get(ctx, metric)
		switch {
		case err != nil:
			a.logger.Warn("leaderboard cache read failed", "metric", metric, "error", err)
		case hit:
			a.metrics.IncLeaderboardCache(true)
			return cached, nil
		default:
			a.metrics.IncLeaderboardCache(false)
			generation = gen
		}
	}

	key := fmt.Sprintf("%s:%d", metric, generation)
	ch := a.group.DoChan(key, func() (interface{}, error) {
		// Shared by every waiter; no single caller may cancel it.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), computeTimeout)
		defer cancel()

		entries, err := a.compute(ctx, metric)
		if err != nil {
			return nil, err
		}
		if a.cache != nil {
			if err := a.cache.Set(ctx, metric, generation, entries); err != nil {
				a.logger.Warn("leaderboard cache write failed", "metric", metric, "error", err)
			}
		}
		return entries, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}

	// Callers slice the result; hand each one its own copy.
	shared := res.Val.([]domain.LeaderboardEntry)
	out := make([]domain.LeaderboardEntry, len(shared))
	copy(out, shared)
	return out, nil
}

func (a *LeaderboardAggregator) compute(ctx context.Context, metric domain.Metric) ([]domain.LeaderboardEntry, error) {
	records, err := a.store.QueryStatRecords(ctx, domain.StatFilter{})
	if err != nil {
		return nil, fmt.Errorf("%w: querying stat records: %w", domain.ErrPersistenceUnavailable, err)
	}

	entries := Aggregate(records)
	Rank(entries, metric)

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.PlayerID
	}
	players, err := a.store.GetPlayers(ctx, ids)
	if err != nil {
		a.logger.Warn("loading leaderboard usernames failed", "error", err)
		return entries, nil
	}
	for i := range entries {
		entries[i].Username = players[entries[i].PlayerID].Username
	}
	return entries, nil
}

// Aggregate groups records by player and sums their statistics. Players
// without records produce no entry, so AvgRating never divides by zero.
func Aggregate(records []domain.StatRecord) []domain.LeaderboardEntry {
	byPlayer := make(map[string]*domain.LeaderboardEntry)
	ratingSums := make(map[string]float64)
	var order []string

	for _, r := range records {
		e, ok := byPlayer[r.PlayerID]
		if !ok {
			e = &domain.LeaderboardEntry{PlayerID: r.PlayerID}
			byPlayer[r.PlayerID] = e
			order = append(order, r.PlayerID)
		}
		e.TotalGoals += int64(r.Goals)
		e.TotalAssists += int64(r.Assists)
		e.TotalMatches++
		ratingSums[r.PlayerID] += r.Rating
	}

	entries := make([]domain.LeaderboardEntry, 0, len(order))
	for _, id := range order {
		e := byPlayer[id]
		e.AvgRating = ratingSums[id] / float64(e.TotalMatches)
		entries = append(entries, *e)
	}
	return entries
}

// Rank sorts entries descending by metric, breaking ties by ascending
// player ID, and numbers them from 1.
func Rank(entries []domain.LeaderboardEntry, metric domain.Metric) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		switch metric {
		case domain.MetricGoals:
			if a.TotalGoals != b.TotalGoals {
				return a.TotalGoals > b.TotalGoals
			}
		case domain.MetricAssists:
			if a.TotalAssists != b.TotalAssists {
				return a.TotalAssists > b.TotalAssists
			}
		case domain.MetricRating:
			if a.AvgRating != b.AvgRating {
				return a.AvgRating > b.AvgRating
			}
		}
		return a.PlayerID < b.PlayerID
	})
	for i := range entries {
		entries[i].Rank = int64(i + 1)
	}
}

// Summarize aggregates one player's records.
func Summarize(playerID string, records []domain.StatRecord, totalXP int64) domain.PlayerSummary {
	summary := domain.PlayerSummary{PlayerID: playerID, TotalXP: totalXP}
	for _, e := range Aggregate(records) {
		if e.PlayerID != playerID {
			continue
		}
		summary.TotalGoals = e.TotalGoals
		summary.TotalAssists = e.TotalAssists
		summary.TotalMatches = e.TotalMatches
		summary.AvgRating = e.AvgRating
	}
	return summary
}
