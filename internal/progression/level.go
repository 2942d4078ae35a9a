package progression

import "github.com/flowfc-progression/internal/domain"

// XPPerLevel is the XP span of one level
const XPPerLevel = 100

// ResolveLevel maps cumulative XP to a level: floor(1 + xp/100).
func ResolveLevel(xp int64) int {
	if xp < 0 {
		return 1
	}
	return int(1 + xp/XPPerLevel)
}

// LevelProgress is the percentage of the current level already earned.
func LevelProgress(xp int64) int64 {
	if xp < 0 {
		return 0
	}
	return xp % XPPerLevel
}

// Tier returns the card finish unlocked at level.
func Tier(level int) domain.CardTier {
	switch {
	case level >= 15:
		return domain.CardTierSpecial
	case level >= 10:
		return domain.CardTierGold
	case level >= 5:
		return domain.CardTierSilver
	default:
		return domain.CardTierBronze
	}
}

// View derives the presentation fields of p. The level is recomputed from XP
// rather than trusted from storage.
func View(p domain.PlayerProgression) domain.ProgressionView {
	p.Level = ResolveLevel(p.XPPoints)
	return domain.ProgressionView{
		PlayerProgression: p,
		LevelProgress:     LevelProgress(p.XPPoints),
		CardTier:          Tier(p.Level),
	}
}
