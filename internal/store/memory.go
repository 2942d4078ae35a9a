package store

import (
	"context"
	"sync"
	"time"

	"github.com/flowfc-progression/internal/domain"
)

var _ Store = (*Memory)(nil)

// Memory keeps everything in maps guarded by a single RWMutex.
type Memory struct {
	mu           sync.RWMutex
	players      map[string]domain.Player
	progressions map[string]domain.PlayerProgression
	records      []domain.StatRecord
	recordIDs    map[string]struct{}
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		players:      make(map[string]domain.Player),
		progressions: make(map[string]domain.PlayerProgression),
		recordIDs:    make(map[string]struct{}),
	}
}

func (m *Memory) CreatePlayer(_ context.Context, p domain.Player) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.players[p.ID]; ok {
		return domain.ErrPlayerExists
	}
	m.players[p.ID] = p
	return nil
}

func (m *Memory) GetPlayer(_ context.Context, playerID string) (domain.Player, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.players[playerID]
	if !ok {
		return domain.Player{}, domain.ErrUnknownPlayer
	}
	return p, nil
}

func (m *Memory) UpdatePlayer(_ context.Context, p domain.Player) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.players[p.ID]
	if !ok {
		return domain.ErrUnknownPlayer
	}
	current.FullName = p.FullName
	current.AvatarURL = p.AvatarURL
	current.TeamID = p.TeamID
	current.Position = p.Position
	current.JerseyNumber = p.JerseyNumber
	m.players[p.ID] = current
	return nil
}

func (m *Memory) PlayerExists(_ context.Context, playerID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.players[playerID]
	return ok, nil
}

func (m *Memory) GetPlayers(_ context.Context, playerIDs []string) (map[string]domain.Player, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]domain.Player, len(playerIDs))
	for _, id := range playerIDs {
		if p, ok := m.players[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (m *Memory) GetProgression(_ context.Context, playerID string) (domain.PlayerProgression, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.progressions[playerID]
	if !ok {
		return domain.PlayerProgression{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) PutProgression(_ context.Context, p domain.PlayerProgression) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkVersion(p); err != nil {
		return err
	}
	m.storeProgression(p)
	return nil
}

func (m *Memory) AppendStatRecord(_ context.Context, r domain.StatRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.recordIDs[r.ID]; ok {
		return ErrConflict
	}
	m.appendRecord(r)
	return nil
}

func (m *Memory) CommitStatRecord(_ context.Context, r domain.StatRecord, p domain.PlayerProgression) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.recordIDs[r.ID]; ok {
		return ErrConflict
	}
	if err := m.checkVersion(p); err != nil {
		return err
	}
	m.appendRecord(r)
	m.storeProgression(p)
	return nil
}

func (m *Memory) QueryStatRecords(_ context.Context, filter domain.StatFilter) ([]domain.StatRecord, error) {
	m.mu.RLock()
	out := make([]domain.StatRecord, 0, len(m.records))
	for _, r := range m.records {
		if Matches(filter, r) {
			out = append(out, r)
		}
	}
	m.mu.RUnlock()

	return ApplyLimit(filter, out), nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

func (m *Memory) checkVersion(p domain.PlayerProgression) error {
	current, ok := m.progressions[p.PlayerID]
	if !ok {
		if p.Version != 0 {
			return ErrConflict
		}
		return nil
	}
	if current.Version != p.Version {
		return ErrConflict
	}
	return nil
}

func (m *Memory) storeProgression(p domain.PlayerProgression) {
	p.Version++
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	m.progressions[p.PlayerID] = p
}

func (m *Memory) appendRecord(r domain.StatRecord) {
	m.records = append(m.records, r)
	m.recordIDs[r.ID] = struct{}{}
}
