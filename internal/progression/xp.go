// Package progression holds the pure XP and level rules.
package progression

import (
	"math"

	"github.com/flowfc-progression/internal/domain"
)

// XP weights per stat. The values are kept as-is for compatibility with
// existing player totals.
const (
	BaseXP          = 10
	GoalXP          = 15
	AssistXP        = 10
	PassXP          = 0.1
	TackleXP        = 0.5
	ShotXP          = 0.2
	SaveXP          = 0.5
	PlaytimeXP      = 0.2
	RatingThreshold = 7.0
	RatingXP        = 10
)

// ComputeXPDelta returns the XP earned by one match performance.
// Terms are summed in a fixed order and rounded half up, so identical records
// always earn identical XP. Negative inputs contribute nothing.
func ComputeXPDelta(r domain.StatRecord) int {
	xp := float64(BaseXP)
	xp += nonNeg(r.Goals) * GoalXP
	xp += nonNeg(r.Assists) * AssistXP
	xp += nonNeg(r.Passes) * PassXP
	xp += nonNeg(r.Tackles) * TackleXP
	xp += nonNeg(r.Shots) * ShotXP
	xp += nonNeg(r.Saves) * SaveXP
	xp += nonNeg(r.PlaytimeMinutes) * PlaytimeXP
	if r.Rating > RatingThreshold {
		xp += (r.Rating - RatingThreshold) * RatingXP
	}
	return int(math.Floor(xp + 0.5))
}

func nonNeg(n int) float64 {
	if n < 0 {
		return 0
	}
	return float64(n)
}
