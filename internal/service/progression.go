package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flowfc-progression/internal/config"
	"github.com/flowfc-progression/internal/domain"
	"github.com/flowfc-progression/internal/metrics"
	"github.com/flowfc-progression/internal/progression"
	"github.com/flowfc-progression/internal/store"
	"github.com/sethvargo/go-retry"
)

// commitFunc persists the next progression state. It must write nothing when
// it returns an error.
type commitFunc func(ctx context.Context, next domain.PlayerProgression) error

// ProgressionStore owns the authoritative XP of every player.
//
// Writes for one player are serialised by an in-process lock and guarded
// against other processes by the store's version check. Conflicts and
// transient store errors are retried with exponential backoff.
type ProgressionStore struct {
	store   store.Store
	locks   *keyedMutex
	config  *config.ProgressionConfig
	metrics metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewProgressionStore creates a progression store
func NewProgressionStore(s store.Store, cfg *config.ProgressionConfig, m metrics.Metrics, logger *slog.Logger) *ProgressionStore {
	return &ProgressionStore{
		store:   s,
		locks:   newKeyedMutex(),
		config:  cfg,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// ApplyDelta adds xpDelta to the player's XP and re-derives the level.
func (p *ProgressionStore) ApplyDelta(ctx context.Context, playerID string, xpDelta int) (domain.PlayerProgression, error) {
	_, after, err := p.apply(ctx, playerID, xpDelta, p.store.PutProgression)
	return after, err
}

// Get returns the player's progression, or a zero progression for a known
// player that has not earned XP yet.
func (p *ProgressionStore) Get(ctx context.Context, playerID string) (domain.PlayerProgression, error) {
	current, err := p.load(ctx, playerID)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownPlayer) {
			return domain.PlayerProgression{}, err
		}
		return domain.PlayerProgression{}, fmt.Errorf("%w: %w", domain.ErrPersistenceUnavailable, err)
	}
	current.Level = progression.ResolveLevel(current.XPPoints)
	return current, nil
}

func (p *ProgressionStore) apply(ctx context.Context, playerID string, xpDelta int, commit commitFunc) (before, after domain.PlayerProgression, err error) {
	if xpDelta < 0 {
		return before, after, domain.ErrInvalidDelta
	}

	unlock := p.locks.Lock(playerID)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return before, after, err
	}

	attempt := 0
	err = retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempt++

		current, err := p.load(ctx, playerID)
		if err != nil {
			if errors.Is(err, domain.ErrUnknownPlayer) {
				return err
			}
			return retry.RetryableError(err)
		}

		next := current
		next.XPPoints = current.XPPoints + int64(xpDelta)
		if next.XPPoints < current.XPPoints {
			return fmt.Errorf("%w: player %s xp total overflows", domain.ErrInvalidDelta, playerID)
		}
		next.Level = progression.ResolveLevel(next.XPPoints)
		next.UpdatedAt = p.now().UTC()

		if err := commit(ctx, next); err != nil {
			switch {
			case errors.Is(err, store.ErrConflict):
				p.metrics.IncProgressionConflicts()
				p.logger.Debug("progression version conflict",
					"player_id", playerID,
					"version", current.Version,
					"attempt", attempt,
				)
				return retry.RetryableError(domain.ErrPersistenceConflict)
			case errors.Is(err, domain.ErrUnknownPlayer):
				return err
			default:
				p.logger.Warn("progression write failed",
					"player_id", playerID,
					"attempt", attempt,
					"error", err,
				)
				return retry.RetryableError(err)
			}
		}

		before = current
		after = next
		after.Version = current.Version + 1
		return nil
	})
	if err == nil {
		return before, after, nil
	}

	switch {
	case errors.Is(err, domain.ErrUnknownPlayer),
		errors.Is(err, domain.ErrInvalidDelta),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return before, after, err
	}
	return before, after, fmt.Errorf("%w: applying xp for player %s after %d attempts: %w",
		domain.ErrPersistenceUnavailable, playerID, attempt, err)
}

// load reads the stored progression, starting from zero for a registered
// player without a row.
func (p *ProgressionStore) load(ctx context.Context, playerID string) (domain.PlayerProgression, error) {
	current, err := p.store.GetProgression(ctx, playerID)
	if err == nil {
		return current, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.PlayerProgression{}, fmt.Errorf("reading progression: %w", err)
	}

	exists, err := p.store.PlayerExists(ctx, playerID)
	if err != nil {
		return domain.PlayerProgression{}, fmt.Errorf("checking player: %w", err)
	}
	if !exists {
		return domain.PlayerProgression{}, domain.ErrUnknownPlayer
	}
	return domain.PlayerProgression{PlayerID: playerID, Level: 1}, nil
}

func (p *ProgressionStore) backoff() retry.Backoff {
	attempts := p.config.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	b := retry.NewExponential(p.config.RetryBackoff)
	b = retry.WithJitterPercent(20, b)
	return retry.WithMaxRetries(uint64(attempts-1), b)
}
