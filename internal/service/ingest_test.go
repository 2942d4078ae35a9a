package service

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/flowfc-progression/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRaw() domain.RawStatRecord {
	return domain.RawStatRecord{
		PlayerID:        "p1",
		MatchID:         "m1",
		Goals:           2,
		Assists:         1,
		Passes:          40,
		Tackles:         3,
		PlaytimeMinutes: 90,
		Rating:          8,
		Date:            "2024-05-11",
	}
}

func TestValidateStatRecord(t *testing.T) {
	r, err := ValidateStatRecord(validRaw())
	require.NoError(t, err)
	assert.Equal(t, "p1", r.PlayerID)
	assert.Equal(t, time.Date(2024, 5, 11, 0, 0, 0, 0, time.UTC), r.Date)
	assert.Empty(t, r.ID)
}

func TestValidateStatRecordAcceptsTimestamps(t *testing.T) {
	raw := validRaw()
	raw.Date = "2024-05-11T23:30:00-02:00"

	r, err := ValidateStatRecord(raw)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 12, 0, 0, 0, 0, time.UTC), r.Date)
}

func TestValidateStatRecordRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.RawStatRecord)
		field  string
	}{
		{"rating above ten", func(r *domain.RawStatRecord) { r.Rating = 10.5 }, "rating"},
		{"negative rating", func(r *domain.RawStatRecord) { r.Rating = -0.1 }, "rating"},
		{"nan rating", func(r *domain.RawStatRecord) { r.Rating = math.NaN() }, "rating"},
		{"negative goals", func(r *domain.RawStatRecord) { r.Goals = -1 }, "goals"},
		{"negative saves", func(r *domain.RawStatRecord) { r.Saves = -3 }, "saves"},
		{"goals above bound", func(r *domain.RawStatRecord) { r.Goals = 600_000_000_000_000_000 }, "goals"},
		{"passes above bound", func(r *domain.RawStatRecord) { r.Passes = MaxStatCount + 1 }, "passes"},
		{"playtime too long", func(r *domain.RawStatRecord) { r.PlaytimeMinutes = 121 }, "playtime_minutes"},
		{"missing date", func(r *domain.RawStatRecord) { r.Date = "" }, "date"},
		{"bad date", func(r *domain.RawStatRecord) { r.Date = "11/05/2024" }, "date"},
		{"missing player", func(r *domain.RawStatRecord) { r.PlayerID = "  " }, "player_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := validRaw()
			tt.mutate(&raw)

			_, err := ValidateStatRecord(raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidStatRecord)

			var verr *domain.ValidationError
			require.True(t, errors.As(err, &verr))
			require.Len(t, verr.Violations, 1)
			assert.Equal(t, tt.field, verr.Violations[0].Field)
		})
	}
}

func TestValidateStatRecordReportsEveryViolation(t *testing.T) {
	raw := validRaw()
	raw.Goals = -1
	raw.Rating = 11
	raw.Date = ""

	_, err := ValidateStatRecord(raw)

	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Violations, 3)
}

func TestValidateStatRecordBoundaries(t *testing.T) {
	raw := validRaw()
	raw.Rating = 10
	raw.PlaytimeMinutes = 120
	_, err := ValidateStatRecord(raw)
	assert.NoError(t, err)

	raw.Rating = 0
	raw.PlaytimeMinutes = 0
	_, err = ValidateStatRecord(raw)
	assert.NoError(t, err)

	raw.Goals = MaxStatCount
	raw.Passes = MaxStatCount
	_, err = ValidateStatRecord(raw)
	assert.NoError(t, err)
}
