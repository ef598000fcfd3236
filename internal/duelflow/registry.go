package duelflow

import (
	"sort"

	"github.com/kapu/xp-duel-bot/internal/duel"
)

// Registry maps a game-type key to exactly one game implementation. The set
// of registered keys is the game-type catalogue.
type Registry struct {
	games map[string]duel.Game
}

func NewRegistry() *Registry {
	return &Registry{games: make(map[string]duel.Game)}
}

func (r *Registry) Register(gameType string, g duel.Game) {
	r.games[gameType] = g
}

// Lookup returns nil for an unmapped key; the controller turns that into
// WrongGameType.
func (r *Registry) Lookup(gameType string) duel.Game {
	return r.games[gameType]
}

func (r *Registry) Has(gameType string) bool {
	_, ok := r.games[gameType]
	return ok
}

// Types returns the catalogue keys in stable order.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.games))
	for k := range r.games {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
