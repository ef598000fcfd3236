package duelflow

import (
	"time"

	"github.com/kapu/xp-duel-bot/internal/duel"
	"github.com/kapu/xp-duel-bot/pkg/dueldto"
)

// Snapshot assembly. Every controller operation returns one of these so the
// presentation layer never touches a raw store row.

func baseSnapshot(d *duel.Duel) *dueldto.Snapshot {
	return &dueldto.Snapshot{
		Duel: dueldto.DuelView{
			DuelID:      d.ID,
			GuildID:     d.GuildID,
			ChannelID:   d.ChannelID,
			MessageID:   d.MessageID,
			PlayerAID:   d.PlayerAID,
			PlayerAName: d.PlayerAName,
			PlayerBID:   d.PlayerBID,
			PlayerBName: d.PlayerBName,
			GameType:    d.GameType,
			StakeXP:     d.StakeXP,
			Status:      string(d.Status),
			CreatedAt:   d.CreatedAt,
			ExpiresAt:   copyTime(d.ExpiresAt),
			FinishedAt:  copyTime(d.FinishedAt),
		},
	}
}

func withBalances(s *dueldto.Snapshot, d *duel.Duel, balA, balB int64) *dueldto.Snapshot {
	s.XP = map[string]int64{d.PlayerAID: balA, d.PlayerBID: balB}
	return s
}

func withAllowedStakes(s *dueldto.Snapshot, stakes []int64) *dueldto.Snapshot {
	s.UI = &dueldto.UIContext{AllowedStakes: stakes}
	return s
}

func withGame(s *dueldto.Snapshot, gs *dueldto.GameState) *dueldto.Snapshot {
	s.Game = gs
	return s
}

func withEffects(s *dueldto.Snapshot, e *dueldto.Effects) *dueldto.Snapshot {
	s.Effects = e
	return s
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
