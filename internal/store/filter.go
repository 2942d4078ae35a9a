package store

import (
	"sort"

	"github.com/flowfc-progression/internal/domain"
)

// Matches reports whether r passes every set field of f.
func Matches(f domain.StatFilter, r domain.StatRecord) bool {
	if f.PlayerID != "" && r.PlayerID != f.PlayerID {
		return false
	}
	if f.MatchID != "" && r.MatchID != f.MatchID {
		return false
	}
	if !f.From.IsZero() && r.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.Date.After(f.To) {
		return false
	}
	return true
}

// ApplyLimit orders records newest first and truncates them when f.Limit is
// set. Without a limit the input order is kept.
func ApplyLimit(f domain.StatFilter, records []domain.StatRecord) []domain.StatRecord {
	if f.Limit <= 0 {
		return records
	}
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].Date.Equal(records[j].Date) {
			return records[i].Date.After(records[j].Date)
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	if len(records) > f.Limit {
		records = records[:f.Limit]
	}
	return records
}
