package domain

import "time"

// DateLayout is the calendar-date format of stat submissions
const DateLayout = "2006-01-02"

// RawStatRecord is an unvalidated match-performance submission
type RawStatRecord struct {
	PlayerID        string  `json:"player_id"`
	MatchID         string  `json:"match_id,omitempty"`
	Goals           int     `json:"goals"`
	Assists         int     `json:"assists"`
	Passes          int     `json:"passes"`
	Tackles         int     `json:"tackles"`
	Shots           int     `json:"shots"`
	Saves           int     `json:"saves"`
	PlaytimeMinutes int     `json:"playtime_minutes"`
	Rating          float64 `json:"rating"`
	Date            string  `json:"date"`
}

// StatRecord is one accepted, immutable match performance for one player
type StatRecord struct {
	ID              string    `json:"id"`
	PlayerID        string    `json:"player_id"`
	MatchID         string    `json:"match_id,omitempty"`
	Goals           int       `json:"goals"`
	Assists         int       `json:"assists"`
	Passes          int       `json:"passes"`
	Tackles         int       `json:"tackles"`
	Shots           int       `json:"shots"`
	Saves           int       `json:"saves"`
	PlaytimeMinutes int       `json:"playtime_minutes"`
	Rating          float64   `json:"rating"`
	Date            time.Time `json:"date"`
	SubmittedBy     string    `json:"submitted_by,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// StatFilter narrows a stat record query. Zero values match everything.
type StatFilter struct {
	PlayerID string
	MatchID  string
	From     time.Time
	To       time.Time
	// Limit caps the result; records are then returned newest first.
	Limit int
}

// Metric selects the leaderboard ordering
type Metric string

const (
	MetricGoals   Metric = "goals"
	MetricAssists Metric = "assists"
	MetricRating  Metric = "rating"
)

// Metrics lists every leaderboard metric
var Metrics = []Metric{MetricGoals, MetricAssists, MetricRating}

// ParseMetric validates a metric name
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(s); m {
	case MetricGoals, MetricAssists, MetricRating:
		return m, nil
	default:
		return "", ErrInvalidMetric
	}
}

// LeaderboardEntry represents a single entry in a ranked view
type LeaderboardEntry struct {
	Rank         int64   `json:"rank" msgpack:"rank"`
	PlayerID     string  `json:"player_id" msgpack:"player_id"`
	Username     string  `json:"username,omitempty" msgpack:"username,omitempty"`
	TotalGoals   int64   `json:"total_goals" msgpack:"total_goals"`
	TotalAssists int64   `json:"total_assists" msgpack:"total_assists"`
	TotalMatches int64   `json:"total_matches" msgpack:"total_matches"`
	AvgRating    float64 `json:"avg_rating" msgpack:"avg_rating"`
}

// PlayerSummary aggregates a single player's history
type PlayerSummary struct {
	PlayerID     string  `json:"player_id"`
	TotalGoals   int64   `json:"total_goals"`
	TotalAssists int64   `json:"total_assists"`
	TotalMatches int64   `json:"total_matches"`
	AvgRating    float64 `json:"avg_rating"`
	TotalXP      int64   `json:"total_xp"`
}

// IngestResult is returned after a stat record has been committed
type IngestResult struct {
	Record      StatRecord      `json:"record"`
	XPDelta     int             `json:"xp_delta"`
	Progression ProgressionView `json:"progression"`
	LeveledUp   bool            `json:"leveled_up"`
}
