package duel

import (
	"context"

	"github.com/kapu/xp-duel-bot/pkg/dueldto"
)

// Game is the capability set a pluggable minigame implements. Games own the
// Game slot of the duel payload and write it exclusively through the store's
// payload CAS.
type Game interface {
	// Play records the user's action and returns the resulting game state.
	Play(ctx context.Context, store Store, d *Duel, userID, action string) (*dueldto.GameState, error)
	// IsComplete reports whether every required move is already recorded.
	IsComplete(d *Duel) bool
	// Resolve computes the final result of a complete game.
	Resolve(d *Duel) (Result, error)
}
