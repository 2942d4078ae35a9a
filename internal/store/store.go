// Package store defines the persistence contract of the progression engine
// and an in-memory implementation of it.
package store

import (
	"context"
	"errors"

	"github.com/flowfc-progression/internal/domain"
)

var (
	// ErrNotFound is returned when no progression row exists for a player.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a progression write loses a version race.
	ErrConflict = errors.New("version conflict")
)

// Store is the persistence interface consumed by the engine.
//
// PutProgression and CommitStatRecord are compare-and-swap writes: p.Version
// must equal the stored version (0 when no row exists yet) and the stored
// version becomes p.Version+1. A mismatch returns ErrConflict and writes
// nothing. CommitStatRecord appends the record and writes the progression in
// one atomic step.
//
// GetPlayer and UpdatePlayer return domain.ErrUnknownPlayer for an
// unregistered ID. UpdatePlayer rewrites the editable profile fields only.
type Store interface {
	CreatePlayer(ctx context.Context, p domain.Player) error
	GetPlayer(ctx context.Context, playerID string) (domain.Player, error)
	UpdatePlayer(ctx context.Context, p domain.Player) error
	PlayerExists(ctx context.Context, playerID string) (bool, error)
	GetPlayers(ctx context.Context, playerIDs []string) (map[string]domain.Player, error)

	GetProgression(ctx context.Context, playerID string) (domain.PlayerProgression, error)
	PutProgression(ctx context.Context, p domain.PlayerProgression) error

	AppendStatRecord(ctx context.Context, r domain.StatRecord) error
	CommitStatRecord(ctx context.Context, r domain.StatRecord, p domain.PlayerProgression) error
	QueryStatRecords(ctx context.Context, filter domain.StatFilter) ([]domain.StatRecord, error)

	Ping(ctx context.Context) error
	Close() error
}
