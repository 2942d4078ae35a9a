// Package sqlite implements store.Store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/flowfc-progression/internal/domain"
	"github.com/flowfc-progression/internal/store"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

var _ store.Store = (*Store)(nil)

// Store is a SQLite-backed store.Store
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the database at path and migrates it.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to sqlite: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	// SQLite allows a single writer; one connection keeps transactions from
	// tripping over each other.
	db.SetMaxOpenConns(1)
	logger.Info("sqlite store ready", "path", path)
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db, "migrations"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreatePlayer inserts a new player profile
func (s *Store) CreatePlayer(ctx context.Context, p domain.Player) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO players (id, username, full_name, email, avatar_url, team_id, position, jersey_number, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Username, p.FullName, p.Email, p.AvatarURL, p.TeamID, p.Position, p.JerseyNumber,
		formatTime(p.CreatedAt),
	)
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintPrimaryKey) {
			return domain.ErrPlayerExists
		}
		return fmt.Errorf("creating player: %w", err)
	}
	return nil
}

const playerColumns = `id, username, full_name, email, avatar_url, team_id, position, jersey_number, created_at`

// GetPlayer loads one player profile
func (s *Store) GetPlayer(ctx context.Context, playerID string) (domain.Player, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+playerColumns+` FROM players WHERE id = ?`, playerID)
	p, err := scanPlayer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Player{}, domain.ErrUnknownPlayer
		}
		return domain.Player{}, fmt.Errorf("getting player: %w", err)
	}
	return p, nil
}

// UpdatePlayer rewrites a player's editable profile fields
func (s *Store) UpdatePlayer(ctx context.Context, p domain.Player) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE players
		SET full_name = ?, avatar_url = ?, team_id = ?, position = ?, jersey_number = ?
		WHERE id = ?`,
		p.FullName, p.AvatarURL, p.TeamID, p.Position, p.JerseyNumber, p.ID,
	)
	if err != nil {
		return fmt.Errorf("updating player: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrUnknownPlayer
	}
	return nil
}

// PlayerExists checks if a player is registered
func (s *Store) PlayerExists(ctx context.Context, playerID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM players WHERE id = ?)`, playerID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking player existence: %w", err)
	}
	return exists, nil
}

// GetPlayers loads the given players, skipping unknown IDs
func (s *Store) GetPlayers(ctx context.Context, playerIDs []string) (map[string]domain.Player, error) {
	out := make(map[string]domain.Player, len(playerIDs))
	if len(playerIDs) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(playerIDs)), ",")
	args := make([]any, len(playerIDs))
	for i, id := range playerIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+playerColumns+` FROM players WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("getting players: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning player: %w", err)
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

// GetProgression loads a player's progression row
func (s *Store) GetProgression(ctx context.Context, playerID string) (domain.PlayerProgression, error) {
	var p domain.PlayerProgression
	var updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT player_id, xp_points, level, version, updated_at
		FROM player_progression WHERE player_id = ?`, playerID,
	).Scan(&p.PlayerID, &p.XPPoints, &p.Level, &p.Version, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PlayerProgression{}, store.ErrNotFound
		}
		return domain.PlayerProgression{}, fmt.Errorf("getting progression: %w", err)
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return domain.PlayerProgression{}, fmt.Errorf("getting progression: %w", err)
	}
	return p, nil
}

// PutProgression writes p if its version is still current
func (s *Store) PutProgression(ctx context.Context, p domain.PlayerProgression) error {
	return s.withinTx(ctx, func(tx *sql.Tx) error {
		return putProgression(ctx, tx, p)
	})
}

// AppendStatRecord appends one immutable stat record
func (s *Store) AppendStatRecord(ctx context.Context, r domain.StatRecord) error {
	return s.withinTx(ctx, func(tx *sql.Tx) error {
		return insertRecord(ctx, tx, r)
	})
}

// CommitStatRecord appends r and writes p in one transaction
func (s *Store) CommitStatRecord(ctx context.Context, r domain.StatRecord, p domain.PlayerProgression) error {
	return s.withinTx(ctx, func(tx *sql.Tx) error {
		if err := insertRecord(ctx, tx, r); err != nil {
			return err
		}
		return putProgression(ctx, tx, p)
	})
}

// QueryStatRecords returns the records matching filter
func (s *Store) QueryStatRecords(ctx context.Context, filter domain.StatFilter) ([]domain.StatRecord, error) {
	var (
		where []string
		args  []any
	)
	if filter.PlayerID != "" {
		where = append(where, "player_id = ?")
		args = append(args, filter.PlayerID)
	}
	if filter.MatchID != "" {
		where = append(where, "match_id = ?")
		args = append(args, filter.MatchID)
	}
	if !filter.From.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, filter.From.Format(domain.DateLayout))
	}
	if !filter.To.IsZero() {
		where = append(where, "date <= ?")
		args = append(args, filter.To.Format(domain.DateLayout))
	}

	query := `SELECT id, player_id, match_id, goals, assists, passes, tackles, shots, saves,
		playtime_minutes, rating, date, submitted_by, created_at FROM stat_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if filter.Limit > 0 {
		query += " ORDER BY date DESC, created_at DESC LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying stat records: %w", err)
	}
	defer rows.Close()

	var records []domain.StatRecord
	for rows.Next() {
		var r domain.StatRecord
		var date, createdAt string
		err := rows.Scan(&r.ID, &r.PlayerID, &r.MatchID, &r.Goals, &r.Assists, &r.Passes, &r.Tackles,
			&r.Shots, &r.Saves, &r.PlaytimeMinutes, &r.Rating, &date, &r.SubmittedBy, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scanning stat record: %w", err)
		}
		if r.Date, err = time.Parse(domain.DateLayout, date); err != nil {
			return nil, fmt.Errorf("scanning stat record %s date: %w", r.ID, err)
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("scanning stat record %s: %w", r.ID, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *Store) withinTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func insertRecord(ctx context.Context, tx *sql.Tx, r domain.StatRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO stat_records (id, player_id, match_id, goals, assists, passes, tackles, shots, saves,
			playtime_minutes, rating, date, submitted_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.PlayerID, r.MatchID, r.Goals, r.Assists, r.Passes, r.Tackles, r.Shots, r.Saves,
		r.PlaytimeMinutes, r.Rating, r.Date.Format(domain.DateLayout), r.SubmittedBy, formatTime(r.CreatedAt),
	)
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintPrimaryKey) {
			return store.ErrConflict
		}
		if isConstraint(err, sqlite3.ErrConstraintForeignKey) {
			return domain.ErrUnknownPlayer
		}
		return fmt.Errorf("inserting stat record: %w", err)
	}
	return nil
}

func putProgression(ctx context.Context, tx *sql.Tx, p domain.PlayerProgression) error {
	updatedAt := formatTime(p.UpdatedAt)
	if p.Version == 0 {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO player_progression (player_id, xp_points, level, version, updated_at)
			VALUES (?, ?, ?, 1, ?)`,
			p.PlayerID, p.XPPoints, p.Level, updatedAt,
		)
		if err != nil {
			if isConstraint(err, sqlite3.ErrConstraintPrimaryKey) {
				return store.ErrConflict
			}
			if isConstraint(err, sqlite3.ErrConstraintForeignKey) {
				return domain.ErrUnknownPlayer
			}
			return fmt.Errorf("inserting progression: %w", err)
		}
		return nil
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE player_progression
		SET xp_points = ?, level = ?, version = version + 1, updated_at = ?
		WHERE player_id = ? AND version = ?`,
		p.XPPoints, p.Level, updatedAt, p.PlayerID, p.Version,
	)
	if err != nil {
		return fmt.Errorf("updating progression: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrConflict
	}
	return nil
}

func isConstraint(err error, code sqlite3.ErrNoExtended) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == code
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlayer(row rowScanner) (domain.Player, error) {
	var p domain.Player
	var createdAt string
	if err := row.Scan(&p.ID, &p.Username, &p.FullName, &p.Email, &p.AvatarURL, &p.TeamID, &p.Position, &p.JerseyNumber, &createdAt); err != nil {
		return domain.Player{}, err
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return domain.Player{}, err
	}
	p.CreatedAt = t
	return p, nil
}
