package dueldto

import "time"

// DuelView is the core-field projection of a duel row.
type DuelView struct {
	DuelID      string
	GuildID     string
	ChannelID   string
	MessageID   string
	PlayerAID   string
	PlayerAName string
	PlayerBID   string
	PlayerBName string
	GameType    string
	StakeXP     int64
	Status      string
	CreatedAt   time.Time
	ExpiresAt   *time.Time
	FinishedAt  *time.Time
}

// UIContext carries presentation hints computed by the core.
type UIContext struct {
	AllowedStakes []int64
}

// Game phases reported by GameState.
const (
	GameWaiting  = "WAITING"
	GameFinished = "FINISHED"
)

// GameState is the plug-in game's contribution to a snapshot.
// Phase is WAITING while moves are outstanding and FINISHED once resolved.
type GameState struct {
	Phase  string
	Result string
	Played map[string]bool
}

// LevelChange reports a player's level before and after settlement.
type LevelChange struct {
	From int
	To   int
}

// Effects describes the side effects the presentation layer must react to.
type Effects struct {
	XPChanged        bool
	SyncRolesUserIDs []string
	LevelChanges     map[string]LevelChange
}

// SweepEffect is emitted per duel resolved or expired by a sweep.
type SweepEffect struct {
	DuelID           string
	PrevStatus       string
	XPChanged        bool
	SyncRolesUserIDs []string
}

// Snapshot is the immutable read-model returned by every duel operation.
// No caller ever sees a raw store row.
type Snapshot struct {
	Duel    DuelView
	UI      *UIContext
	XP      map[string]int64
	Game    *GameState
	Effects *Effects
}
