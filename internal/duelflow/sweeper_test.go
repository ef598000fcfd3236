package duelflow

import (
	"context"
	"testing"
	"time"

	"github.com/kapu/xp-duel-bot/internal/duel"
)

func TestSweepExpiresUntouchedConfig(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedXP(t, playerA, 100)
	env.seedXP(t, playerB, 100)
	id := env.openDuel(t, duel.StatusConfig)

	env.clock.Advance(11 * time.Minute)

	effects, err := env.ctrl.CancelExpiredDuels(ctx)
	if err != nil {
		t.Fatalf("CancelExpiredDuels: %v", err)
	}
	if len(effects) != 1 {
		t.Fatalf("effects = %+v", effects)
	}
	eff := effects[0]
	if eff.DuelID != id || eff.PrevStatus != string(duel.StatusConfig) || eff.XPChanged {
		t.Fatalf("unexpected effect: %+v", eff)
	}

	d, err := env.store.GetByID(ctx, id)
	if err != nil || d == nil {
		t.Fatalf("reload: %v", err)
	}
	if d.Status != duel.StatusExpired {
		t.Fatalf("status = %s", d.Status)
	}
	// nothing was staked, nothing moves
	if env.mustXP(t, playerA) != 100 || env.mustXP(t, playerB) != 100 {
		t.Fatalf("config expiry touched the ledger")
	}

	// the row is terminal now; a second sweep finds nothing
	effects, err = env.ctrl.CancelExpiredDuels(ctx)
	if err != nil || len(effects) != 0 {
		t.Fatalf("second sweep: %+v %v", effects, err)
	}
}

func TestSweepExpiresInvitedWithoutRefund(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedXP(t, playerA, 100)
	env.seedXP(t, playerB, 100)
	id := env.openDuel(t, duel.StatusInvited)

	env.clock.Advance(6 * time.Minute)

	effects, err := env.ctrl.CancelExpiredDuels(ctx)
	if err != nil || len(effects) != 1 {
		t.Fatalf("sweep: %+v %v", effects, err)
	}
	if effects[0].XPChanged {
		t.Fatalf("invite expiry must not move xp")
	}
	d, _ := env.store.GetByID(ctx, id)
	if d.Status != duel.StatusExpired {
		t.Fatalf("status = %s", d.Status)
	}
	if env.mustXP(t, playerA) != 100 || env.mustXP(t, playerB) != 100 {
		t.Fatalf("invite expiry touched the ledger")
	}
}

func TestSweepRefundsAbandonedActive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedXP(t, playerA, 100)
	env.seedXP(t, playerB, 100)
	id := env.openDuel(t, duel.StatusActive)

	// one move only, then both walk away
	if _, err := env.ctrl.PlayGameAction(ctx, id, playerA, "ROCK"); err != nil {
		t.Fatalf("move: %v", err)
	}

	env.clock.Advance(11 * time.Minute)

	effects, err := env.ctrl.CancelExpiredDuels(ctx)
	if err != nil || len(effects) != 1 {
		t.Fatalf("sweep: %+v %v", effects, err)
	}
	eff := effects[0]
	if !eff.XPChanged || eff.PrevStatus != string(duel.StatusActive) {
		t.Fatalf("unexpected effect: %+v", eff)
	}

	d, _ := env.store.GetByID(ctx, id)
	if d.Status != duel.StatusExpired {
		t.Fatalf("status = %s", d.Status)
	}
	// both stakes come back
	if env.mustXP(t, playerA) != 100 || env.mustXP(t, playerB) != 100 {
		t.Fatalf("refund balances = %d / %d", env.mustXP(t, playerA), env.mustXP(t, playerB))
	}
}

func TestSweepResolvesCompleteActiveGame(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedXP(t, playerA, 100)
	env.seedXP(t, playerB, 100)
	id := env.openDuel(t, duel.StatusActive)

	// record both moves directly so the controller never sees completion;
	// the sweeper must settle the result instead of voiding the game
	game := env.ctrl.registry.Lookup(duel.GameTypeRPS)
	d, _ := env.store.GetByID(ctx, id)
	if _, err := game.Play(ctx, env.store, d, playerA, "PAPER"); err != nil {
		t.Fatalf("move A: %v", err)
	}
	d, _ = env.store.GetByID(ctx, id)
	if _, err := game.Play(ctx, env.store, d, playerB, "ROCK"); err != nil {
		t.Fatalf("move B: %v", err)
	}

	env.clock.Advance(11 * time.Minute)

	effects, err := env.ctrl.CancelExpiredDuels(ctx)
	if err != nil || len(effects) != 1 {
		t.Fatalf("sweep: %+v %v", effects, err)
	}

	d, _ = env.store.GetByID(ctx, id)
	if d.Status != duel.StatusFinished {
		t.Fatalf("complete game swept to %s", d.Status)
	}
	// PAPER beats ROCK: player A collects the pot
	if env.mustXP(t, playerA) != 110 || env.mustXP(t, playerB) != 90 {
		t.Fatalf("settled balances = %d / %d", env.mustXP(t, playerA), env.mustXP(t, playerB))
	}
}

func TestCleanupRemovesOldTerminalDuels(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedXP(t, playerA, 100)
	env.seedXP(t, playerB, 100)
	id := env.openDuel(t, duel.StatusInvited)

	if _, err := env.ctrl.RefuseDuel(ctx, id, playerB); err != nil {
		t.Fatalf("RefuseDuel: %v", err)
	}

	// still inside the short retention window
	deleted, err := env.ctrl.CleanupOldDuels(ctx)
	if err != nil || deleted != 0 {
		t.Fatalf("early cleanup: %d %v", deleted, err)
	}

	env.clock.Advance(2 * time.Hour)

	deleted, err = env.ctrl.CleanupOldDuels(ctx)
	if err != nil || deleted != 1 {
		t.Fatalf("cleanup: %d %v", deleted, err)
	}
	d, err := env.store.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if d != nil {
		t.Fatalf("duel survived cleanup")
	}
}
