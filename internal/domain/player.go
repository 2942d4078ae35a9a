package domain

import "time"

// Caller is the already-authenticated identity on whose behalf an engine
// call is made. The engine records it but never verifies it.
type Caller struct {
	ID string `json:"id"`
}

// System is the caller used for internally triggered work.
var System = Caller{ID: "system"}

// Player represents a registered player profile
type Player struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	FullName     string    `json:"full_name,omitempty"`
	Email        string    `json:"email,omitempty"`
	AvatarURL    string    `json:"avatar_url,omitempty"`
	TeamID       string    `json:"team_id,omitempty"`
	Position     string    `json:"position,omitempty"`
	JerseyNumber int       `json:"jersey_number,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// PlayerUpdate carries the editable profile fields. Nil fields are left
// unchanged.
type PlayerUpdate struct {
	FullName     *string `json:"full_name,omitempty"`
	AvatarURL    *string `json:"avatar_url,omitempty"`
	TeamID       *string `json:"team_id,omitempty"`
	Position     *string `json:"position,omitempty"`
	JerseyNumber *int    `json:"jersey_number,omitempty"`
}

// IsEmpty reports whether the update changes nothing
func (u PlayerUpdate) IsEmpty() bool {
	return u.FullName == nil && u.AvatarURL == nil && u.TeamID == nil &&
		u.Position == nil && u.JerseyNumber == nil
}

// Apply returns p with the update's fields set
func (u PlayerUpdate) Apply(p Player) Player {
	if u.FullName != nil {
		p.FullName = *u.FullName
	}
	if u.AvatarURL != nil {
		p.AvatarURL = *u.AvatarURL
	}
	if u.TeamID != nil {
		p.TeamID = *u.TeamID
	}
	if u.Position != nil {
		p.Position = *u.Position
	}
	if u.JerseyNumber != nil {
		p.JerseyNumber = *u.JerseyNumber
	}
	return p
}

// CardTier is the football-card finish a player's level unlocks
type CardTier string

const (
	CardTierBronze  CardTier = "bronze"
	CardTierSilver  CardTier = "silver"
	CardTierGold    CardTier = "gold"
	CardTierSpecial CardTier = "special"
)

// PlayerProgression is the cumulative XP state of one player.
// Level is always derived from XPPoints; Version is the optimistic
// concurrency token checked by the store on every write.
type PlayerProgression struct {
	PlayerID  string    `json:"player_id"`
	XPPoints  int64     `json:"xp_points"`
	Level     int       `json:"level"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProgressionView is PlayerProgression plus the presentation fields shown on
// the profile card.
type ProgressionView struct {
	PlayerProgression
	LevelProgress int64    `json:"level_progress"`
	CardTier      CardTier `json:"card_tier"`
}

// PlayerProfile is what the profile card shows: the player and their
// current progression.
type PlayerProfile struct {
	Player      Player          `json:"player"`
	Progression ProgressionView `json:"progression"`
}
