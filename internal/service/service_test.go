package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/flowfc-progression/internal/config"
	"github.com/flowfc-progression/internal/domain"
	"github.com/flowfc-progression/internal/metrics"
	"github.com/flowfc-progression/internal/store"
	"github.com/stretchr/testify/require"
)

var errStoreDown = errors.New("store down")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Progression.RetryAttempts = 3
	cfg.Progression.RetryBackoff = time.Millisecond
	return cfg
}

// faultyStore wraps a store and fails selected writes.
type faultyStore struct {
	store.Store

	mu             sync.Mutex
	putErrs        []error
	commitErrs     []error
	putCalls       int
	commitCalls    int
	queryErr       error
	alwaysConflict bool
}

func (f *faultyStore) PutProgression(ctx context.Context, p domain.PlayerProgression) error {
	f.mu.Lock()
	f.putCalls++
	err := f.next(&f.putErrs)
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.PutProgression(ctx, p)
}

func (f *faultyStore) CommitStatRecord(ctx context.Context, r domain.StatRecord, p domain.PlayerProgression) error {
	f.mu.Lock()
	f.commitCalls++
	err := f.next(&f.commitErrs)
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.CommitStatRecord(ctx, r, p)
}

func (f *faultyStore) QueryStatRecords(ctx context.Context, filter domain.StatFilter) ([]domain.StatRecord, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.Store.QueryStatRecords(ctx, filter)
}

func (f *faultyStore) next(errs *[]error) error {
	if f.alwaysConflict {
		return store.ErrConflict
	}
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (f *faultyStore) calls() (put, commit int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.putCalls, f.commitCalls
}

func newTestEngine(t *testing.T, s store.Store, cache LeaderboardCache) (*Engine, *metrics.Mock) {
	t.Helper()
	m := metrics.NewMock()
	return NewEngine(s, cache, testConfig(), m, testLogger()), m
}

func registerPlayers(t *testing.T, e *Engine, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := e.RegisterPlayer(context.Background(), domain.System, domain.Player{ID: id, Username: "user-" + id})
		require.NoError(t, err)
	}
}
