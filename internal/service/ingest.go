package service

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/flowfc-progression/internal/domain"
)

// Bounds enforced on every submission
const (
	MaxPlaytimeMinutes = 120
	MaxStatCount       = 10000
	MinRating          = 0.0
	MaxRating          = 10.0
)

// ValidateStatRecord checks a raw submission and normalises it into a
// StatRecord. Every violation is reported, not just the first. The returned
// record has no ID, submitter or creation time yet.
func ValidateStatRecord(raw domain.RawStatRecord) (domain.StatRecord, error) {
	verr := &domain.ValidationError{}

	playerID := strings.TrimSpace(raw.PlayerID)
	if playerID == "" {
		verr.Add("player_id", "is required")
	}

	counts := []struct {
		field string
		value int
	}{
		{"goals", raw.Goals},
		{"assists", raw.Assists},
		{"passes", raw.Passes},
		{"tackles", raw.Tackles},
		{"shots", raw.Shots},
		{"saves", raw.Saves},
	}
	for _, c := range counts {
		switch {
		case c.value < 0:
			verr.Add(c.field, "must not be negative")
		case c.value > MaxStatCount:
			verr.Add(c.field, fmt.Sprintf("must not exceed %d", MaxStatCount))
		}
	}

	if raw.PlaytimeMinutes < 0 || raw.PlaytimeMinutes > MaxPlaytimeMinutes {
		verr.Add("playtime_minutes", "must be between 0 and 120")
	}
	if math.IsNaN(raw.Rating) || raw.Rating < MinRating || raw.Rating > MaxRating {
		verr.Add("rating", "must be between 0 and 10")
	}

	date, ok := parseDate(raw.Date)
	if !ok {
		if strings.TrimSpace(raw.Date) == "" {
			verr.Add("date", "is required")
		} else {
			verr.Add("date", "must be a YYYY-MM-DD date")
		}
	}

	if verr.HasViolations() {
		return domain.StatRecord{}, verr
	}

	return domain.StatRecord{
		PlayerID:        playerID,
		MatchID:         strings.TrimSpace(raw.MatchID),
		Goals:           raw.Goals,
		Assists:         raw.Assists,
		Passes:          raw.Passes,
		Tackles:         raw.Tackles,
		Shots:           raw.Shots,
		Saves:           raw.Saves,
		PlaytimeMinutes: raw.PlaytimeMinutes,
		Rating:          raw.Rating,
		Date:            date,
	}, nil
}

// parseDate accepts a calendar date or a full RFC 3339 timestamp and keeps
// only the UTC calendar day.
func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if d, err := time.Parse(domain.DateLayout, s); err == nil {
		return d, true
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		y, m, d := ts.UTC().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
	}
	return time.Time{}, false
}
