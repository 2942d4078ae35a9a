package kafka

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/flowfc-progression/internal/config"
	"github.com/flowfc-progression/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIngester struct {
	mu       sync.Mutex
	calls    []domain.RawStatRecord
	callers  []domain.Caller
	err      error
	deadline bool
	ctxErr   error
}

func (f *fakeIngester) IngestStatRecord(ctx context.Context, caller domain.Caller, raw domain.RawStatRecord) (domain.IngestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, f.deadline = ctx.Deadline()
	f.ctxErr = ctx.Err()
	f.calls = append(f.calls, raw)
	f.callers = append(f.callers, caller)
	return domain.IngestResult{}, f.err
}

func newTestConsumer(ingester StatIngester) *Consumer {
	return &Consumer{
		config:  &config.KafkaConfig{Topic: "stat-records", HandlerTimeout: time.Second},
		handler: ingester,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestDecodeStatMessage(t *testing.T) {
	caller, raw, err := DecodeStatMessage([]byte(`{
		"player_id": "p1",
		"match_id": "m7",
		"goals": 2,
		"assists": 1,
		"playtime_minutes": 90,
		"rating": 7.5,
		"date": "2024-04-20",
		"caller_id": "coach-9"
	}`))
	require.NoError(t, err)

	assert.Equal(t, domain.Caller{ID: "coach-9"}, caller)
	assert.Equal(t, "p1", raw.PlayerID)
	assert.Equal(t, "m7", raw.MatchID)
	assert.Equal(t, 2, raw.Goals)
	assert.Equal(t, 7.5, raw.Rating)
	assert.Equal(t, "2024-04-20", raw.Date)
}

func TestDecodeStatMessageDefaults(t *testing.T) {
	caller, _, err := DecodeStatMessage([]byte(`{"player_id":"p1","date":"2024-04-20"}`))
	require.NoError(t, err)
	assert.Equal(t, domain.System, caller)

	_, _, err = DecodeStatMessage([]byte(`{not json`))
	assert.Error(t, err)
}

func TestHandleMessage(t *testing.T) {
	ingester := &fakeIngester{}
	c := newTestConsumer(ingester)

	assert.True(t, c.handleMessage(context.Background(), []byte(`{"player_id":"p1","date":"2024-04-20","caller_id":"ref"}`), 0, 1))
	assert.True(t, c.handleMessage(context.Background(), []byte(`garbage`), 0, 2))

	require.Len(t, ingester.calls, 1)
	assert.Equal(t, "p1", ingester.calls[0].PlayerID)
	assert.Equal(t, "ref", ingester.callers[0].ID)
	assert.True(t, ingester.deadline)
}

func TestHandleMessageSwallowsRejections(t *testing.T) {
	for _, err := range []error{domain.ErrInvalidStatRecord, domain.ErrUnknownPlayer, domain.ErrPersistenceUnavailable} {
		ingester := &fakeIngester{err: err}
		c := newTestConsumer(ingester)

		mark := c.handleMessage(context.Background(), []byte(`{"player_id":"p1","date":"2024-04-20"}`), 3, 9)
		assert.True(t, mark)
		assert.Len(t, ingester.calls, 1)
	}
}

func TestHandleMessageOutlivesSessionCancellation(t *testing.T) {
	ingester := &fakeIngester{}
	c := newTestConsumer(ingester)

	session, cancel := context.WithCancel(context.Background())
	cancel()

	mark := c.handleMessage(session, []byte(`{"player_id":"p1","date":"2024-04-20"}`), 0, 4)
	assert.True(t, mark)
	require.Len(t, ingester.calls, 1)
	assert.NoError(t, ingester.ctxErr)
	assert.True(t, ingester.deadline)
}

func TestHandleMessageLeavesCancelledIngestionUnmarked(t *testing.T) {
	ingester := &fakeIngester{err: context.Canceled}
	c := newTestConsumer(ingester)

	mark := c.handleMessage(context.Background(), []byte(`{"player_id":"p1","date":"2024-04-20"}`), 0, 5)
	assert.False(t, mark)
	assert.Len(t, ingester.calls, 1)
}
