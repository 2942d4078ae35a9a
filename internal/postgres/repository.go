package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/flowfc-progression/internal/config"
	"github.com/flowfc-progression/internal/domain"
	"github.com/flowfc-progression/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

var _ store.Store = (*Repository)(nil)

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

// Ping checks the database is reachable
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS players (
			id VARCHAR(64) PRIMARY KEY,
			username VARCHAR(255) NOT NULL,
			full_name VARCHAR(255) NOT NULL DEFAULT '',
			email VARCHAR(255) NOT NULL DEFAULT '',
			avatar_url TEXT NOT NULL DEFAULT '',
			team_id VARCHAR(64) NOT NULL DEFAULT '',
			position VARCHAR(32) NOT NULL DEFAULT '',
			jersey_number INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS player_progression (
			player_id VARCHAR(64) PRIMARY KEY REFERENCES players(id) ON DELETE CASCADE,
			xp_points BIGINT NOT NULL DEFAULT 0 CHECK (xp_points >= 0),
			level INT NOT NULL DEFAULT 1 CHECK (level >= 1),
			version BIGINT NOT NULL DEFAULT 1,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS stat_records (
			id UUID PRIMARY KEY,
			player_id VARCHAR(64) NOT NULL REFERENCES players(id) ON DELETE CASCADE,
			match_id VARCHAR(64) NOT NULL DEFAULT '',
			goals INT NOT NULL DEFAULT 0 CHECK (goals >= 0),
			assists INT NOT NULL DEFAULT 0 CHECK (assists >= 0),
			passes INT NOT NULL DEFAULT 0 CHECK (passes >= 0),
			tackles INT NOT NULL DEFAULT 0 CHECK (tackles >= 0),
			shots INT NOT NULL DEFAULT 0 CHECK (shots >= 0),
			saves INT NOT NULL DEFAULT 0 CHECK (saves >= 0),
			playtime_minutes INT NOT NULL DEFAULT 0 CHECK (playtime_minutes BETWEEN 0 AND 120),
			rating DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (rating BETWEEN 0 AND 10),
			date DATE NOT NULL,
			submitted_by VARCHAR(64) NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stat_records_player ON stat_records(player_id, date DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_stat_records_match ON stat_records(match_id)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// CreatePlayer inserts a new player profile
func (r *Repository) CreatePlayer(ctx context.Context, p domain.Player) error {
	query := `
		INSERT INTO players (id, username, full_name, email, avatar_url, team_id, position, jersey_number, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.pool.Exec(ctx, query,
		p.ID, p.Username, p.FullName, p.Email, p.AvatarURL, p.TeamID, p.Position, p.JerseyNumber, p.CreatedAt,
	)
	if err != nil {
		if pgCode(err) == uniqueViolation {
			return domain.ErrPlayerExists
		}
		return fmt.Errorf("creating player: %w", err)
	}
	return nil
}

// GetPlayer retrieves one player profile
func (r *Repository) GetPlayer(ctx context.Context, playerID string) (domain.Player, error) {
	query := `
		SELECT id, username, full_name, email, avatar_url, team_id, position, jersey_number, created_at
		FROM players
		WHERE id = $1
	`
	var p domain.Player
	err := r.pool.QueryRow(ctx, query, playerID).Scan(
		&p.ID, &p.Username, &p.FullName, &p.Email, &p.AvatarURL, &p.TeamID, &p.Position, &p.JerseyNumber, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Player{}, domain.ErrUnknownPlayer
		}
		return domain.Player{}, fmt.Errorf("getting player: %w", err)
	}
	return p, nil
}

// UpdatePlayer rewrites a player's editable profile fields
func (r *Repository) UpdatePlayer(ctx context.Context, p domain.Player) error {
	query := `
		UPDATE players
		SET full_name = $1, avatar_url = $2, team_id = $3, position = $4, jersey_number = $5
		WHERE id = $6
	`
	result, err := r.pool.Exec(ctx, query, p.FullName, p.AvatarURL, p.TeamID, p.Position, p.JerseyNumber, p.ID)
	if err != nil {
		return fmt.Errorf("updating player: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrUnknownPlayer
	}
	return nil
}

// PlayerExists checks if a player is registered
func (r *Repository) PlayerExists(ctx context.Context, playerID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM players WHERE id = $1)`
	var exists bool
	err := r.pool.QueryRow(ctx, query, playerID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking player existence: %w", err)
	}
	return exists, nil
}

// GetPlayers loads the given players, skipping unknown IDs
func (r *Repository) GetPlayers(ctx context.Context, playerIDs []string) (map[string]domain.Player, error) {
	out := make(map[string]domain.Player, len(playerIDs))
	if len(playerIDs) == 0 {
		return out, nil
	}

	query := `
		SELECT id, username, full_name, email, avatar_url, team_id, position, jersey_number, created_at
		FROM players
		WHERE id = ANY($1)
	`
	rows, err := r.pool.Query(ctx, query, playerIDs)
	if err != nil {
		return nil, fmt.Errorf("getting players: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Player
		err := rows.Scan(&p.ID, &p.Username, &p.FullName, &p.Email, &p.AvatarURL, &p.TeamID, &p.Position, &p.JerseyNumber, &p.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning player: %w", err)
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

// GetProgression retrieves a player's progression row
func (r *Repository) GetProgression(ctx context.Context, playerID string) (domain.PlayerProgression, error) {
	query := `
		SELECT player_id, xp_points, level, version, updated_at
		FROM player_progression
		WHERE player_id = $1
	`
	var p domain.PlayerProgression
	err := r.pool.QueryRow(ctx, query, playerID).Scan(&p.PlayerID, &p.XPPoints, &p.Level, &p.Version, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PlayerProgression{}, store.ErrNotFound
		}
		return domain.PlayerProgression{}, fmt.Errorf("getting progression: %w", err)
	}
	return p, nil
}

// PutProgression writes p if its version is still current
func (r *Repository) PutProgression(ctx context.Context, p domain.PlayerProgression) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return putProgression(ctx, tx, p)
	})
}

// AppendStatRecord appends one immutable stat record
func (r *Repository) AppendStatRecord(ctx context.Context, rec domain.StatRecord) error {
	return insertRecord(ctx, r.pool, rec)
}

// CommitStatRecord appends rec and writes p in one transaction
func (r *Repository) CommitStatRecord(ctx context.Context, rec domain.StatRecord, p domain.PlayerProgression) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := insertRecord(ctx, tx, rec); err != nil {
			return err
		}
		return putProgression(ctx, tx, p)
	})
}

// QueryStatRecords returns the records matching filter
func (r *Repository) QueryStatRecords(ctx context.Context, filter domain.StatFilter) ([]domain.StatRecord, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.PlayerID != "" {
		where = append(where, "player_id = "+arg(filter.PlayerID))
	}
	if filter.MatchID != "" {
		where = append(where, "match_id = "+arg(filter.MatchID))
	}
	if !filter.From.IsZero() {
		where = append(where, "date >= "+arg(filter.From))
	}
	if !filter.To.IsZero() {
		where = append(where, "date <= "+arg(filter.To))
	}

	query := `
		SELECT id::text, player_id, match_id, goals, assists, passes, tackles, shots, saves,
			playtime_minutes, rating, date, submitted_by, created_at
		FROM stat_records
	`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if filter.Limit > 0 {
		query += " ORDER BY date DESC, created_at DESC LIMIT " + arg(filter.Limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying stat records: %w", err)
	}
	defer rows.Close()

	var records []domain.StatRecord
	for rows.Next() {
		var rec domain.StatRecord
		err := rows.Scan(&rec.ID, &rec.PlayerID, &rec.MatchID, &rec.Goals, &rec.Assists, &rec.Passes,
			&rec.Tackles, &rec.Shots, &rec.Saves, &rec.PlaytimeMinutes, &rec.Rating, &rec.Date,
			&rec.SubmittedBy, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning stat record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// execer is satisfied by both the pool and a transaction
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func insertRecord(ctx context.Context, db execer, rec domain.StatRecord) error {
	query := `
		INSERT INTO stat_records (id, player_id, match_id, goals, assists, passes, tackles, shots, saves,
			playtime_minutes, rating, date, submitted_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := db.Exec(ctx, query,
		rec.ID, rec.PlayerID, rec.MatchID, rec.Goals, rec.Assists, rec.Passes, rec.Tackles, rec.Shots,
		rec.Saves, rec.PlaytimeMinutes, rec.Rating, rec.Date, rec.SubmittedBy, createdAt,
	)
	if err != nil {
		switch pgCode(err) {
		case uniqueViolation:
			return store.ErrConflict
		case foreignKeyViolation:
			return domain.ErrUnknownPlayer
		}
		return fmt.Errorf("inserting stat record: %w", err)
	}
	return nil
}

func putProgression(ctx context.Context, tx pgx.Tx, p domain.PlayerProgression) error {
	now := p.UpdatedAt
	if now.IsZero() {
		now = time.Now()
	}

	if p.Version == 0 {
		query := `
			INSERT INTO player_progression (player_id, xp_points, level, version, updated_at)
			VALUES ($1, $2, $3, 1, $4)
			ON CONFLICT (player_id) DO NOTHING
		`
		result, err := tx.Exec(ctx, query, p.PlayerID, p.XPPoints, p.Level, now)
		if err != nil {
			if pgCode(err) == foreignKeyViolation {
				return domain.ErrUnknownPlayer
			}
			return fmt.Errorf("inserting progression: %w", err)
		}
		if result.RowsAffected() == 0 {
			return store.ErrConflict
		}
		return nil
	}

	query := `
		UPDATE player_progression
		SET xp_points = $1, level = $2, version = version + 1, updated_at = $3
		WHERE player_id = $4 AND version = $5
	`
	result, err := tx.Exec(ctx, query, p.XPPoints, p.Level, now, p.PlayerID, p.Version)
	if err != nil {
		return fmt.Errorf("updating progression: %w", err)
	}
	if result.RowsAffected() == 0 {
		return store.ErrConflict
	}
	return nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// Pool returns the underlying connection pool
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}
