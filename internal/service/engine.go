// Package service implements the progression engine: stat record ingestion,
// XP progression and leaderboard aggregation.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/flowfc-progression/internal/config"
	"github.com/flowfc-progression/internal/domain"
	"github.com/flowfc-progression/internal/metrics"
	"github.com/flowfc-progression/internal/progression"
	"github.com/flowfc-progression/internal/store"
	"github.com/google/uuid"
)

// DefaultRecentMatches is the number of matches returned when no limit is given
const DefaultRecentMatches = 5

// Notifier receives events after a stat record has been committed
type Notifier interface {
	NotifyProgression(playerID string, view domain.ProgressionView, result domain.IngestResult)
	NotifyLeaderboardChanged()
}

// Engine is the query surface of the progression engine
type Engine struct {
	store       store.Store
	progression *ProgressionStore
	leaderboard *LeaderboardAggregator
	config      *config.Config
	metrics     metrics.Metrics
	logger      *slog.Logger
	notifier    Notifier
	profiles    *keyedMutex
	now         func() time.Time
}

// NewEngine creates a new engine. cache may be nil.
func NewEngine(s store.Store, cache LeaderboardCache, cfg *config.Config, m metrics.Metrics, logger *slog.Logger) *Engine {
	return &Engine{
		store:       s,
		progression: NewProgressionStore(s, &cfg.Progression, m, logger),
		leaderboard: NewLeaderboardAggregator(s, cache, &cfg.Leaderboard, m, logger),
		config:      cfg,
		metrics:     m,
		logger:      logger,
		profiles:    newKeyedMutex(),
		now:         time.Now,
	}
}

// SetNotifier sets the notifier for committed ingestions
func (e *Engine) SetNotifier(n Notifier) {
	e.notifier = n
}

// Progression returns the engine's progression store
func (e *Engine) Progression() *ProgressionStore {
	return e.progression
}

// Leaderboard returns the engine's leaderboard aggregator
func (e *Engine) Leaderboard() *LeaderboardAggregator {
	return e.leaderboard
}

// IngestStatRecord validates raw, stores it and applies the XP it earns.
// The record and the progression update are committed together or not at all.
func (e *Engine) IngestStatRecord(ctx context.Context, caller domain.Caller, raw domain.RawStatRecord) (domain.IngestResult, error) {
	start := e.now()
	defer func() {
		e.metrics.ObserveIngestDuration(time.Since(start).Seconds())
	}()

	record, err := ValidateStatRecord(raw)
	if err != nil {
		e.metrics.IncStatRecordsRejected("invalid")
		return domain.IngestResult{}, err
	}

	exists, err := e.store.PlayerExists(ctx, record.PlayerID)
	if err != nil {
		return domain.IngestResult{}, fmt.Errorf("%w: checking player: %w", domain.ErrPersistenceUnavailable, err)
	}
	if !exists {
		e.metrics.IncStatRecordsRejected("unknown_player")
		return domain.IngestResult{}, fmt.Errorf("player %s: %w", record.PlayerID, domain.ErrUnknownPlayer)
	}

	record.ID = uuid.New().String()
	record.SubmittedBy = caller.ID
	record.CreatedAt = e.now().UTC()

	delta := progression.ComputeXPDelta(record)
	before, after, err := e.progression.apply(ctx, record.PlayerID, delta, func(ctx context.Context, next domain.PlayerProgression) error {
		return e.store.CommitStatRecord(ctx, record, next)
	})
	if err != nil {
		if errors.Is(err, domain.ErrUnknownPlayer) {
			e.metrics.IncStatRecordsRejected("unknown_player")
		}
		return domain.IngestResult{}, err
	}

	e.metrics.IncStatRecordsIngested()
	leveledUp := after.Level > progression.ResolveLevel(before.XPPoints)
	if leveledUp {
		e.metrics.IncLevelUps()
	}

	// The record is committed; a failed invalidation only delays freshness
	// until the cache TTL expires.
	if err := e.leaderboard.Invalidate(ctx, record.PlayerID); err != nil {
		e.logger.Error("leaderboard invalidation failed",
			"player_id", record.PlayerID,
			"error", err,
		)
	}

	view := progression.View(after)
	result := domain.IngestResult{
		Record:      record,
		XPDelta:     delta,
		Progression: view,
		LeveledUp:   leveledUp,
	}

	e.logger.Info("stat record ingested",
		"record_id", record.ID,
		"player_id", record.PlayerID,
		"caller_id", caller.ID,
		"xp_delta", delta,
		"xp_points", after.XPPoints,
		"level", after.Level,
	)

	if e.notifier != nil {
		e.notifier.NotifyProgression(record.PlayerID, view, result)
		e.notifier.NotifyLeaderboardChanged()
	}

	return result, nil
}

// GetProgression returns a player's current XP, level and card details
func (e *Engine) GetProgression(ctx context.Context, caller domain.Caller, playerID string) (domain.ProgressionView, error) {
	if playerID == "" {
		return domain.ProgressionView{}, fmt.Errorf("%w: player id is required", domain.ErrInvalidRequest)
	}
	p, err := e.progression.Get(ctx, playerID)
	if err != nil {
		return domain.ProgressionView{}, err
	}
	return progression.View(p), nil
}

// GetLeaderboard returns the top players ordered by metric. A limit of 0
// uses the configured default.
func (e *Engine) GetLeaderboard(ctx context.Context, caller domain.Caller, metric domain.Metric, limit int) ([]domain.LeaderboardEntry, error) {
	if limit == 0 {
		limit = e.config.Leaderboard.DefaultLimit
	}
	return e.leaderboard.RankBy(ctx, metric, limit)
}

// RegisterPlayer creates a player profile with zero progression. An empty ID
// is assigned a new UUID.
func (e *Engine) RegisterPlayer(ctx context.Context, caller domain.Caller, player domain.Player) (domain.Player, error) {
	player.Username = strings.TrimSpace(player.Username)
	if player.Username == "" {
		return domain.Player{}, fmt.Errorf("%w: username is required", domain.ErrInvalidPlayer)
	}
	if player.JerseyNumber < 0 {
		return domain.Player{}, fmt.Errorf("%w: jersey number must not be negative", domain.ErrInvalidPlayer)
	}
	if player.ID == "" {
		player.ID = uuid.New().String()
	}
	player.CreatedAt = e.now().UTC()

	if err := e.store.CreatePlayer(ctx, player); err != nil {
		if errors.Is(err, domain.ErrPlayerExists) {
			return domain.Player{}, err
		}
		return domain.Player{}, fmt.Errorf("%w: creating player: %w", domain.ErrPersistenceUnavailable, err)
	}

	if _, err := e.progression.ApplyDelta(ctx, player.ID, 0); err != nil {
		return domain.Player{}, fmt.Errorf("initialising progression: %w", err)
	}

	e.logger.Info("player registered",
		"player_id", player.ID,
		"username", player.Username,
		"caller_id", caller.ID,
	)
	return player, nil
}

// GetPlayer returns a player's profile together with their progression
func (e *Engine) GetPlayer(ctx context.Context, caller domain.Caller, playerID string) (domain.PlayerProfile, error) {
	if playerID == "" {
		return domain.PlayerProfile{}, fmt.Errorf("%w: player id is required", domain.ErrInvalidRequest)
	}
	player, err := e.loadPlayer(ctx, playerID)
	if err != nil {
		return domain.PlayerProfile{}, err
	}
	p, err := e.progression.Get(ctx, playerID)
	if err != nil {
		return domain.PlayerProfile{}, err
	}
	return domain.PlayerProfile{Player: player, Progression: progression.View(p)}, nil
}

// UpdatePlayer edits a player's profile fields. Identity, username and XP
// cannot be changed this way.
func (e *Engine) UpdatePlayer(ctx context.Context, caller domain.Caller, playerID string, update domain.PlayerUpdate) (domain.Player, error) {
	if playerID == "" {
		return domain.Player{}, fmt.Errorf("%w: player id is required", domain.ErrInvalidRequest)
	}
	if update.IsEmpty() {
		return domain.Player{}, fmt.Errorf("%w: no fields to update", domain.ErrInvalidPlayer)
	}
	if update.JerseyNumber != nil && *update.JerseyNumber < 0 {
		return domain.Player{}, fmt.Errorf("%w: jersey number must not be negative", domain.ErrInvalidPlayer)
	}

	unlock := e.profiles.Lock(playerID)
	defer unlock()

	current, err := e.loadPlayer(ctx, playerID)
	if err != nil {
		return domain.Player{}, err
	}
	next := update.Apply(current)
	next.Position = strings.TrimSpace(next.Position)
	next.TeamID = strings.TrimSpace(next.TeamID)

	if err := e.store.UpdatePlayer(ctx, next); err != nil {
		if errors.Is(err, domain.ErrUnknownPlayer) {
			return domain.Player{}, err
		}
		return domain.Player{}, fmt.Errorf("%w: updating player: %w", domain.ErrPersistenceUnavailable, err)
	}

	e.logger.Info("player updated",
		"player_id", playerID,
		"caller_id", caller.ID,
	)
	return next, nil
}

func (e *Engine) loadPlayer(ctx context.Context, playerID string) (domain.Player, error) {
	player, err := e.store.GetPlayer(ctx, playerID)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownPlayer) {
			return domain.Player{}, err
		}
		return domain.Player{}, fmt.Errorf("%w: loading player: %w", domain.ErrPersistenceUnavailable, err)
	}
	return player, nil
}

// GetPlayerSummary returns a player's aggregated totals and XP
func (e *Engine) GetPlayerSummary(ctx context.Context, caller domain.Caller, playerID string) (domain.PlayerSummary, error) {
	p, err := e.progression.Get(ctx, playerID)
	if err != nil {
		return domain.PlayerSummary{}, err
	}
	records, err := e.store.QueryStatRecords(ctx, domain.StatFilter{PlayerID: playerID})
	if err != nil {
		return domain.PlayerSummary{}, fmt.Errorf("%w: querying stat records: %w", domain.ErrPersistenceUnavailable, err)
	}
	return Summarize(playerID, records, p.XPPoints), nil
}

// RecentMatches returns a player's most recent stat records, newest first
func (e *Engine) RecentMatches(ctx context.Context, caller domain.Caller, playerID string, limit int) ([]domain.StatRecord, error) {
	if limit < 0 {
		return nil, domain.ErrInvalidLimit
	}
	if limit == 0 {
		limit = DefaultRecentMatches
	}
	if limit > e.config.Leaderboard.MaxLimit {
		limit = e.config.Leaderboard.MaxLimit
	}

	exists, err := e.store.PlayerExists(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("%w: checking player: %w", domain.ErrPersistenceUnavailable, err)
	}
	if !exists {
		return nil, domain.ErrUnknownPlayer
	}

	records, err := e.store.QueryStatRecords(ctx, domain.StatFilter{PlayerID: playerID, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("%w: querying stat records: %w", domain.ErrPersistenceUnavailable, err)
	}
	return records, nil
}

// Ping checks the backing store
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}

// WarmLeaderboards recomputes every cached leaderboard view
func (e *Engine) WarmLeaderboards(ctx context.Context) error {
	return e.leaderboard.Warm(ctx)
}
