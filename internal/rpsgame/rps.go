package rpsgame

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kapu/xp-duel-bot/internal/duel"
	"github.com/kapu/xp-duel-bot/pkg/dueldto"
)

// Move is one of the three legal throws.
type Move string

const (
	MoveRock     Move = "ROCK"
	MovePaper    Move = "PAPER"
	MoveScissors Move = "SCISSORS"
)

// ParseMove normalizes user input into a Move.
func ParseMove(s string) (Move, bool) {
	switch Move(strings.ToUpper(strings.TrimSpace(s))) {
	case MoveRock:
		return MoveRock, true
	case MovePaper:
		return MovePaper, true
	case MoveScissors:
		return MoveScissors, true
	}
	return "", false
}

// beats reports whether a defeats b.
func beats(a, b Move) bool {
	switch a {
	case MoveRock:
		return b == MoveScissors
	case MoveScissors:
		return b == MovePaper
	case MovePaper:
		return b == MoveRock
	}
	return false
}

// state is the RPS-private shape of the payload's game slot.
type state struct {
	MoveA *Move `json:"move_a,omitempty"`
	MoveB *Move `json:"move_b,omitempty"`
}

func decodeState(p *duel.Payload) (*state, error) {
	st := &state{}
	if p == nil || len(p.Game) == 0 {
		return st, nil
	}
	if err := json.Unmarshal(p.Game, st); err != nil {
		return nil, fmt.Errorf("corrupt rps state: %w", err)
	}
	return st, nil
}

// moveCASAttempts bounds the retry on a lost payload race: one refetch, then
// fail loudly rather than spin.
const moveCASAttempts = 2

// RPS implements the duel game contract for Rock-Paper-Scissors.
type RPS struct{}

func New() RPS { return RPS{} }

func (RPS) Play(ctx context.Context, store duel.Store, d *duel.Duel, userID, action string) (*dueldto.GameState, error) {
	if d == nil || !d.IsParticipant(userID) {
		return nil, dueldto.ErrNotAuthorizedPlayer
	}
	mv, ok := ParseMove(action)
	if !ok {
		return nil, dueldto.ErrInvalidMove
	}

	cur := d
	for attempt := 0; attempt < moveCASAttempts; attempt++ {
		if cur.Status != duel.StatusActive {
			return nil, dueldto.ErrNotActive
		}
		oldRaw, err := cur.Payload.Marshal()
		if err != nil {
			return nil, err
		}
		st, err := decodeState(cur.Payload)
		if err != nil {
			return nil, err
		}
		if (userID == cur.PlayerAID && st.MoveA != nil) || (userID == cur.PlayerBID && st.MoveB != nil) {
			return nil, dueldto.ErrAlreadyPlayed
		}
		if userID == cur.PlayerAID {
			st.MoveA = &mv
		} else {
			st.MoveB = &mv
		}

		next := duel.Payload{}
		if cur.Payload != nil {
			next.XPBaseline = cur.Payload.XPBaseline
		}
		if next.Game, err = json.Marshal(st); err != nil {
			return nil, err
		}
		newRaw, err := next.Marshal()
		if err != nil {
			return nil, err
		}

		applied, err := store.UpdatePayloadIfUnchanged(ctx, cur.ID, oldRaw, newRaw)
		if err != nil {
			return nil, err
		}
		if applied {
			return gameState(cur, st), nil
		}

		// lost the race: refetch once and retry against the fresh payload
		cur, err = store.GetByID(ctx, cur.ID)
		if err != nil {
			return nil, err
		}
		if cur == nil {
			return nil, dueldto.ErrNotFound
		}
	}
	return nil, dueldto.ErrPayloadError
}

func (RPS) IsComplete(d *duel.Duel) bool {
	if d == nil {
		return false
	}
	st, err := decodeState(d.Payload)
	if err != nil {
		return false
	}
	return st.MoveA != nil && st.MoveB != nil
}

func (RPS) Resolve(d *duel.Duel) (duel.Result, error) {
	st, err := decodeState(d.Payload)
	if err != nil {
		return "", err
	}
	if st.MoveA == nil || st.MoveB == nil {
		return "", fmt.Errorf("rps game %s is not complete", d.ID)
	}
	switch {
	case *st.MoveA == *st.MoveB:
		return duel.ResultDraw, nil
	case beats(*st.MoveA, *st.MoveB):
		return duel.ResultWinA, nil
	default:
		return duel.ResultWinB, nil
	}
}

func gameState(d *duel.Duel, st *state) *dueldto.GameState {
	gs := &dueldto.GameState{
		Phase: dueldto.GameWaiting,
		Played: map[string]bool{
			d.PlayerAID: st.MoveA != nil,
			d.PlayerBID: st.MoveB != nil,
		},
	}
	if st.MoveA != nil && st.MoveB != nil {
		gs.Phase = dueldto.GameFinished
		switch {
		case *st.MoveA == *st.MoveB:
			gs.Result = string(duel.ResultDraw)
		case beats(*st.MoveA, *st.MoveB):
			gs.Result = string(duel.ResultWinA)
		default:
			gs.Result = string(duel.ResultWinB)
		}
	}
	return gs
}
