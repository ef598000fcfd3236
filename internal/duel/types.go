package duel

import (
	"encoding/json"
	"time"
)

// Status represents the duel lifecycle state.
type Status string

const (
	StatusConfig    Status = "CONFIG"
	StatusInvited   Status = "INVITED"
	StatusActive    Status = "ACTIVE"
	StatusFinished  Status = "FINISHED"
	StatusCancelled Status = "CANCELLED"
	StatusExpired   Status = "EXPIRED"
)

// Terminal reports whether s admits no further transition.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusCancelled || s == StatusExpired
}

// Result is the outcome of a finished duel.
type Result string

const (
	ResultWinA Result = "WIN_A"
	ResultWinB Result = "WIN_B"
	ResultDraw Result = "DRAW"
)

// ValidResult reports membership in the result catalogue.
func ValidResult(r Result) bool {
	return r == ResultWinA || r == ResultWinB || r == ResultDraw
}

// GameTypeRPS is the only shipped game type.
const GameTypeRPS = "RPS"

// Payload is the mutable blob attached to a duel. XPBaseline is owned by
// the flow controller; Game is owned by whichever game type is configured
// and stays opaque to everything else.
type Payload struct {
	XPBaseline map[string]int64 `json:"xp_baseline,omitempty"`
	Game       json.RawMessage  `json:"game,omitempty"`
}

// Marshal renders the payload for a CAS comparison. A nil payload renders
// as nil so "no payload yet" compares equal to itself.
func (p *Payload) Marshal() ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

// Duel is the persisted state of a wagered minigame session.
type Duel struct {
	ID          string     `json:"id"`
	GuildID     string     `json:"guild_id"`
	ChannelID   string     `json:"channel_id"`
	MessageID   string     `json:"message_id,omitempty"`
	PlayerAID   string     `json:"player_a_id"`
	PlayerAName string     `json:"player_a_name,omitempty"`
	PlayerBID   string     `json:"player_b_id"`
	PlayerBName string     `json:"player_b_name,omitempty"`
	GameType    string     `json:"game_type,omitempty"`
	StakeXP     int64      `json:"stake_xp,omitempty"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Payload     *Payload   `json:"payload,omitempty"`
}

// IsParticipant reports whether userID is one of the two players.
func (d *Duel) IsParticipant(userID string) bool {
	return userID != "" && (userID == d.PlayerAID || userID == d.PlayerBID)
}

// Opponent returns the other participant's id, or "" for a non-participant.
func (d *Duel) Opponent(userID string) string {
	switch userID {
	case d.PlayerAID:
		return d.PlayerBID
	case d.PlayerBID:
		return d.PlayerAID
	}
	return ""
}

// ExpiredAt reports whether the duel's deadline has passed at now.
func (d *Duel) ExpiredAt(now time.Time) bool {
	return d.ExpiresAt != nil && now.After(*d.ExpiresAt)
}
