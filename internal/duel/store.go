package duel

import (
	"context"
	"time"
)

type staticErr string

func (e staticErr) Error() string { return string(e) }

// Store-level conditions the flow controller maps onto its own error kinds.
var (
	// ErrInsufficientFunds aborts an Activate whose debits would overdraw a player.
	ErrInsufficientFunds = staticErr("insufficient balance for stake")
)

// Store is the persistence contract for duels. Every conditional write
// reports whether it actually applied; a lost race is (false, nil), never an
// error. That applied flag is the only concurrency primitive the rest of the
// core relies on; there are no in-memory locks anywhere.
type Store interface {
	Create(ctx context.Context, d *Duel) error
	GetByID(ctx context.Context, id string) (*Duel, error)
	GetByMessage(ctx context.Context, guildID, channelID, messageID string) (*Duel, error)
	// GetOpenForUser returns the user's non-terminal duel in the guild, if any.
	GetOpenForUser(ctx context.Context, guildID, userID string) (*Duel, error)

	// UpdateIfStatus applies mutate to the duel only while it still has the
	// required status.
	UpdateIfStatus(ctx context.Context, id string, required Status, mutate func(*Duel)) (bool, error)
	// Transition moves the duel from one status to another, replacing its
	// deadline; terminal targets get finished_at stamped.
	Transition(ctx context.Context, id string, from, to Status, expiresAt *time.Time) (bool, error)
	// UpdatePayloadIfUnchanged swaps the payload only if its serialized form
	// still equals oldRaw and the duel is still ACTIVE.
	UpdatePayloadIfUnchanged(ctx context.Context, id string, oldRaw, newRaw []byte) (bool, error)

	// Activate runs the whole INVITED→ACTIVE unit atomically: the status
	// transition, recording the XP baseline (idempotent if already present),
	// and debiting the stake from both players. Partial failure applies
	// nothing.
	Activate(ctx context.Context, id string, expiresAt time.Time, stake int64) (bool, error)
	// Settle runs a terminal transition plus XP credits atomically. credits
	// maps user id to the amount added; it may be empty.
	Settle(ctx context.Context, id string, from, to Status, finishedAt time.Time, credits map[string]int64) (bool, error)

	ListExpired(ctx context.Context, now time.Time) ([]*Duel, error)
	// Cleanup deletes terminal duels past retention: CANCELLED/EXPIRED rows
	// finished before cutoffShort, FINISHED rows before cutoffFinished.
	Cleanup(ctx context.Context, cutoffShort, cutoffFinished time.Time) (int, error)
}
