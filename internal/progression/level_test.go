package progression

import (
	"testing"

	"github.com/flowfc-progression/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestResolveLevel(t *testing.T) {
	cases := map[int64]int{
		0:    1,
		99:   1,
		100:  2,
		250:  3,
		1000: 11,
		-5:   1,
	}
	for xp, want := range cases {
		assert.Equal(t, want, ResolveLevel(xp), "xp=%d", xp)
	}
}

func TestResolveLevelIsMonotonic(t *testing.T) {
	prev := ResolveLevel(0)
	for xp := int64(1); xp <= 5000; xp++ {
		level := ResolveLevel(xp)
		assert.GreaterOrEqual(t, level, prev, "xp=%d", xp)
		assert.Equal(t, level, ResolveLevel(xp))
		prev = level
	}
}

func TestTier(t *testing.T) {
	assert.Equal(t, domain.CardTierBronze, Tier(1))
	assert.Equal(t, domain.CardTierBronze, Tier(4))
	assert.Equal(t, domain.CardTierSilver, Tier(5))
	assert.Equal(t, domain.CardTierGold, Tier(10))
	assert.Equal(t, domain.CardTierSpecial, Tier(15))
	assert.Equal(t, domain.CardTierSpecial, Tier(40))
}

func TestViewRecomputesLevel(t *testing.T) {
	v := View(domain.PlayerProgression{PlayerID: "p1", XPPoints: 1040, Level: 3})

	assert.Equal(t, 11, v.Level)
	assert.Equal(t, int64(40), v.LevelProgress)
	assert.Equal(t, domain.CardTierGold, v.CardTier)
}
