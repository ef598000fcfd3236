package duelflow

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/kapu/xp-duel-bot/internal/duel"
	"github.com/kapu/xp-duel-bot/internal/obslog"
	"github.com/kapu/xp-duel-bot/pkg/dueldto"
)

// CancelExpiredDuels is the periodic sweep: every non-terminal duel whose
// deadline has passed is either resolved (an ACTIVE game both players
// already finished must never be discarded as a timeout) or expired with a
// refund when a stake had been taken. One bad row never halts the sweep.
func (c *Controller) CancelExpiredDuels(ctx context.Context) ([]dueldto.SweepEffect, error) {
	now := c.clock.Now().UTC()
	expired, err := c.store.ListExpired(ctx, now)
	if err != nil {
		return nil, err
	}
	var effects []dueldto.SweepEffect
	for _, d := range expired {
		eff, serr := c.sweepOne(ctx, d)
		if serr != nil {
			obslog.L().Error("duel_sweep_error",
				zap.String("duel_id", d.ID),
				zap.String("status", string(d.Status)),
				zap.Error(serr),
			)
			continue
		}
		if eff != nil {
			effects = append(effects, *eff)
		}
	}
	if len(effects) > 0 {
		obslog.L().Info("duel_sweep", zap.Int("handled", len(effects)))
	}
	return effects, nil
}

func (c *Controller) sweepOne(ctx context.Context, d *duel.Duel) (*dueldto.SweepEffect, error) {
	prev := d.Status

	if prev == duel.StatusActive {
		if game := c.registry.Lookup(d.GameType); game != nil && game.IsComplete(d) {
			result, err := game.Resolve(d)
			if err != nil {
				return nil, err
			}
			if _, err := c.finishDuel(ctx, d.ID, result, true, "sweep_resolve"); err != nil {
				if errors.Is(err, dueldto.ErrAlreadyHandled) || errors.Is(err, dueldto.ErrNotFinishable) {
					// a racing caller settled it; nothing left to do
					return nil, nil
				}
				return nil, err
			}
			return &dueldto.SweepEffect{
				DuelID:           d.ID,
				PrevStatus:       string(prev),
				XPChanged:        true,
				SyncRolesUserIDs: []string{d.PlayerAID, d.PlayerBID},
			}, nil
		}
	}

	// CONFIG/INVITED expiries never touched the ledger; ACTIVE ones get
	// their stakes back
	var credits map[string]int64
	if prev == duel.StatusActive && d.StakeXP > 0 {
		credits = map[string]int64{d.PlayerAID: d.StakeXP, d.PlayerBID: d.StakeXP}
	}
	now := c.clock.Now().UTC()
	applied, err := c.store.Settle(ctx, d.ID, prev, duel.StatusExpired, now, credits)
	if err != nil {
		return nil, err
	}
	if !applied {
		// resolved elsewhere between listing and settling
		return nil, nil
	}

	if fresh, gerr := c.store.GetByID(ctx, d.ID); gerr == nil && fresh != nil {
		c.archive(ctx, fresh, "", "expire")
	}

	eff := &dueldto.SweepEffect{
		DuelID:     d.ID,
		PrevStatus: string(prev),
		XPChanged:  credits != nil,
	}
	if credits != nil {
		eff.SyncRolesUserIDs = []string{d.PlayerAID, d.PlayerBID}
	}
	obslog.L().Info("duel_expire",
		zap.String("duel_id", d.ID),
		zap.String("prev_status", string(prev)),
		zap.Bool("xp_refunded", credits != nil),
	)
	return eff, nil
}
