package duelflow

import (
	"context"
	"errors"
	"strings"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kapu/xp-duel-bot/internal/config"
	"github.com/kapu/xp-duel-bot/internal/duel"
	"github.com/kapu/xp-duel-bot/internal/obslog"
	"github.com/kapu/xp-duel-bot/internal/xpledger"
	"github.com/kapu/xp-duel-bot/pkg/dueldto"
)

// Controller orchestrates the duel lifecycle. It holds no per-duel state:
// every decision is re-read from the store and every write is conditional,
// so concurrent callers can only race at the store, never here.
type Controller struct {
	store    duel.Store
	ledger   xpledger.Ledger
	registry *Registry
	clock    quartz.Clock
	cfg      *config.AppConfig
	repo     *duel.Repository
}

func NewController(store duel.Store, ledger xpledger.Ledger, registry *Registry, clock quartz.Clock, cfg *config.AppConfig) *Controller {
	return &Controller{
		store:    store,
		ledger:   ledger,
		registry: registry,
		clock:    clock,
		cfg:      cfg,
	}
}

// AttachRepository wires an optional Postgres archive for terminal duels.
func (c *Controller) AttachRepository(r *duel.Repository) {
	if c != nil {
		c.repo = r
	}
}

// NewDuel opens a CONFIG-phase duel between two distinct players.
func (c *Controller) NewDuel(ctx context.Context, guildID, channelID, playerAID, playerAName, playerBID, playerBName string) (*dueldto.Snapshot, error) {
	playerAID = strings.TrimSpace(playerAID)
	playerBID = strings.TrimSpace(playerBID)
	if playerAID == "" || playerBID == "" || playerAID == playerBID {
		return nil, dueldto.ErrSamePlayerDuel
	}
	for _, uid := range []string{playerAID, playerBID} {
		open, err := c.store.GetOpenForUser(ctx, guildID, uid)
		if err != nil {
			return nil, err
		}
		if open != nil {
			return nil, dueldto.ErrPlayerAlreadyInDuel
		}
	}

	now := c.clock.Now().UTC()
	deadline := now.Add(c.cfg.ConfigDeadline)
	d := &duel.Duel{
		ID:          uuid.NewString(),
		GuildID:     strings.TrimSpace(guildID),
		ChannelID:   strings.TrimSpace(channelID),
		PlayerAID:   playerAID,
		PlayerAName: strings.TrimSpace(playerAName),
		PlayerBID:   playerBID,
		PlayerBName: strings.TrimSpace(playerBName),
		Status:      duel.StatusConfig,
		CreatedAt:   now,
		ExpiresAt:   &deadline,
	}
	if err := c.store.Create(ctx, d); err != nil {
		return nil, err
	}
	obslog.L().Info("duel_create",
		zap.String("duel_id", d.ID),
		zap.String("guild_id", d.GuildID),
		zap.String("player_a", d.PlayerAID),
		zap.String("player_b", d.PlayerBID),
	)
	return baseSnapshot(d), nil
}

// ConfigureGameType picks the minigame while the duel is still in CONFIG.
// The snapshot reports which stakes both players can currently afford.
func (c *Controller) ConfigureGameType(ctx context.Context, id, gameType string) (*dueldto.Snapshot, error) {
	d, err := c.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.requireConfigPhase(d); err != nil {
		return nil, err
	}
	if !c.registry.Has(gameType) {
		return nil, dueldto.ErrInvalidGameType
	}
	applied, err := c.store.UpdateIfStatus(ctx, id, duel.StatusConfig, func(cur *duel.Duel) {
		cur.GameType = gameType
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, dueldto.ErrConfigurationError
	}
	d.GameType = gameType

	balA, balB, err := c.balances(ctx, d)
	if err != nil {
		return nil, err
	}
	snap := withBalances(baseSnapshot(d), d, balA, balB)
	return withAllowedStakes(snap, c.affordableStakes(balA, balB)), nil
}

// ConfigureStakeXP sets the wager; it must be in the catalogue and
// affordable by both players right now.
func (c *Controller) ConfigureStakeXP(ctx context.Context, id string, stake int64) (*dueldto.Snapshot, error) {
	d, err := c.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.requireConfigPhase(d); err != nil {
		return nil, err
	}
	if !c.validStake(stake) {
		return nil, dueldto.ErrInvalidStake
	}
	balA, balB, err := c.balances(ctx, d)
	if err != nil {
		return nil, err
	}
	if balA < stake || balB < stake {
		return nil, dueldto.ErrInsufficientXP
	}
	applied, err := c.store.UpdateIfStatus(ctx, id, duel.StatusConfig, func(cur *duel.Duel) {
		cur.StakeXP = stake
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, dueldto.ErrConfigurationError
	}
	d.StakeXP = stake
	return withBalances(baseSnapshot(d), d, balA, balB), nil
}

// SendInvite pins the invite message and moves the duel to INVITED with the
// shorter invite deadline.
func (c *Controller) SendInvite(ctx context.Context, id, messageID string) (*dueldto.Snapshot, error) {
	d, err := c.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.requireConfigPhase(d); err != nil {
		return nil, err
	}
	messageID = strings.TrimSpace(messageID)
	if messageID == "" || messageID == "0" {
		return nil, dueldto.ErrMissingMessageID
	}
	if d.GameType == "" || d.StakeXP == 0 {
		return nil, dueldto.ErrConfigurationIncomplete
	}

	applied, err := c.store.UpdateIfStatus(ctx, id, duel.StatusConfig, func(cur *duel.Duel) {
		cur.MessageID = messageID
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, dueldto.ErrConfigurationError
	}

	deadline := c.clock.Now().UTC().Add(c.cfg.InviteDeadline)
	applied, err = c.store.Transition(ctx, id, duel.StatusConfig, duel.StatusInvited, &deadline)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, dueldto.ErrAlreadyHandled
	}
	d, err = c.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	obslog.L().Info("duel_invite",
		zap.String("duel_id", d.ID),
		zap.String("guild_id", d.GuildID),
		zap.String("message_id", d.MessageID),
		zap.String("game_type", d.GameType),
		zap.Int64("stake_xp", d.StakeXP),
	)
	return baseSnapshot(d), nil
}

// AcceptDuel is player B's acceptance: one atomic unit transitions
// INVITED→ACTIVE, records the XP baseline and debits both stakes.
func (c *Controller) AcceptDuel(ctx context.Context, id, userID string) (*dueldto.Snapshot, error) {
	d, err := c.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(userID) != d.PlayerBID {
		return nil, dueldto.ErrNotAuthorizedPlayer
	}
	if d.Status != duel.StatusInvited {
		return nil, dueldto.ErrNotAcceptable
	}
	// the stake may have become unaffordable since configuration; re-check
	// rather than activating on stale balances
	balA, balB, err := c.balances(ctx, d)
	if err != nil {
		return nil, err
	}
	if balA < d.StakeXP || balB < d.StakeXP {
		return nil, dueldto.ErrInsufficientXP
	}

	deadline := c.clock.Now().UTC().Add(c.cfg.ActiveDeadline)
	applied, err := c.store.Activate(ctx, id, deadline, d.StakeXP)
	if errors.Is(err, duel.ErrInsufficientFunds) {
		return nil, dueldto.ErrInsufficientXP
	}
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, dueldto.ErrAlreadyHandled
	}

	d, err = c.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	obslog.L().Info("duel_accept",
		zap.String("duel_id", d.ID),
		zap.String("guild_id", d.GuildID),
		zap.String("accepted_by", d.PlayerBID),
		zap.Int64("stake_xp", d.StakeXP),
	)
	balA, balB, err = c.balances(ctx, d)
	if err != nil {
		return nil, err
	}
	return withBalances(baseSnapshot(d), d, balA, balB), nil
}

// RefuseDuel is player B's decline; nothing was debited yet, so the ledger
// is untouched.
func (c *Controller) RefuseDuel(ctx context.Context, id, userID string) (*dueldto.Snapshot, error) {
	d, err := c.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(userID) != d.PlayerBID {
		return nil, dueldto.ErrNotAuthorizedPlayer
	}
	if d.Status != duel.StatusInvited {
		return nil, dueldto.ErrNotAcceptable
	}
	now := c.clock.Now().UTC()
	applied, err := c.store.Settle(ctx, id, duel.StatusInvited, duel.StatusCancelled, now, nil)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, dueldto.ErrAlreadyHandled
	}
	d, err = c.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	obslog.L().Info("duel_refuse",
		zap.String("duel_id", d.ID),
		zap.String("guild_id", d.GuildID),
		zap.String("refused_by", userID),
	)
	c.archive(ctx, d, "", "refuse")
	return baseSnapshot(d), nil
}

// PlayGameAction routes an in-session move to the configured game and, when
// the game reports completion, finishes the duel and reports level changes.
func (c *Controller) PlayGameAction(ctx context.Context, id, userID, action string) (*dueldto.Snapshot, error) {
	d, err := c.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	game := c.registry.Lookup(d.GameType)
	if game == nil {
		return nil, dueldto.ErrWrongGameType
	}
	gs, err := game.Play(ctx, c.store, d, userID, action)
	if err != nil {
		return nil, err
	}
	if gs.Phase != dueldto.GameFinished {
		d, err = c.mustGet(ctx, id)
		if err != nil {
			return nil, err
		}
		return withGame(baseSnapshot(d), gs), nil
	}

	result := duel.Result(gs.Result)
	if _, err := c.finishDuel(ctx, id, result, false, "finish"); err != nil {
		// a racing caller or the sweeper finished it first; the settlement
		// already happened exactly once
		if !errors.Is(err, dueldto.ErrAlreadyHandled) && !errors.Is(err, dueldto.ErrNotFinishable) {
			return nil, err
		}
	}

	d, err = c.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	balA, balB, err := c.balances(ctx, d)
	if err != nil {
		return nil, err
	}
	effects, err := c.levelEffects(ctx, d, balA, balB)
	if err != nil {
		return nil, err
	}
	snap := withBalances(baseSnapshot(d), d, balA, balB)
	return withEffects(withGame(snap, gs), effects), nil
}

// FinishDuel settles an ACTIVE duel with the given result.
func (c *Controller) FinishDuel(ctx context.Context, id string, result duel.Result) (*dueldto.Snapshot, error) {
	return c.finishDuel(ctx, id, result, false, "finish")
}

func (c *Controller) finishDuel(ctx context.Context, id string, result duel.Result, ignoreExpired bool, method string) (*dueldto.Snapshot, error) {
	if !duel.ValidResult(result) {
		return nil, dueldto.ErrInvalidResult
	}
	d, err := c.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != duel.StatusActive {
		return nil, dueldto.ErrNotFinishable
	}
	now := c.clock.Now().UTC()
	if !ignoreExpired && d.ExpiredAt(now) {
		return nil, dueldto.ErrExpiredDuel
	}

	credits := settlementCredits(d, result)
	applied, err := c.store.Settle(ctx, id, duel.StatusActive, duel.StatusFinished, now, credits)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, dueldto.ErrAlreadyHandled
	}

	d, err = c.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	obslog.L().Info("duel_finish",
		zap.String("duel_id", d.ID),
		zap.String("guild_id", d.GuildID),
		zap.String("result", string(result)),
		zap.Int64("stake_xp", d.StakeXP),
		zap.String("method", method),
	)
	c.archive(ctx, d, result, method)

	balA, balB, err := c.balances(ctx, d)
	if err != nil {
		return nil, err
	}
	snap := withBalances(baseSnapshot(d), d, balA, balB)
	return withEffects(snap, &dueldto.Effects{
		XPChanged:        true,
		SyncRolesUserIDs: []string{d.PlayerAID, d.PlayerBID},
	}), nil
}

// DuelByMessage resolves the duel attached to an invite message.
func (c *Controller) DuelByMessage(ctx context.Context, guildID, channelID, messageID string) (*dueldto.Snapshot, error) {
	d, err := c.store.GetByMessage(ctx, guildID, channelID, messageID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, dueldto.ErrNotFound
	}
	return baseSnapshot(d), nil
}

// CleanupOldDuels deletes terminal rows past retention, in the live store
// and the archive.
func (c *Controller) CleanupOldDuels(ctx context.Context) (int, error) {
	now := c.clock.Now().UTC()
	deleted, err := c.store.Cleanup(ctx, now.Add(-c.cfg.RetentionShort), now.Add(-c.cfg.RetentionFinished))
	if err != nil {
		return 0, err
	}
	if c.repo != nil {
		if _, perr := c.repo.PruneHistory(ctx, now.Add(-c.cfg.RetentionFinished)); perr != nil {
			obslog.L().Error("duel_history_prune_error", zap.Error(perr))
		}
	}
	if deleted > 0 {
		obslog.L().Info("duel_cleanup", zap.Int("deleted", deleted))
	}
	return deleted, nil
}

// helpers

func (c *Controller) mustGet(ctx context.Context, id string) (*duel.Duel, error) {
	d, err := c.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, dueldto.ErrNotFound
	}
	return d, nil
}

func (c *Controller) requireConfigPhase(d *duel.Duel) error {
	if d.Status != duel.StatusConfig {
		return dueldto.ErrAlreadyHandled
	}
	if d.ExpiredAt(c.clock.Now().UTC()) {
		return dueldto.ErrExpiredDuel
	}
	return nil
}

func (c *Controller) balances(ctx context.Context, d *duel.Duel) (int64, int64, error) {
	balA, err := c.ledger.GetXP(ctx, d.GuildID, d.PlayerAID)
	if err != nil {
		return 0, 0, err
	}
	balB, err := c.ledger.GetXP(ctx, d.GuildID, d.PlayerBID)
	if err != nil {
		return 0, 0, err
	}
	return balA, balB, nil
}

func (c *Controller) validStake(stake int64) bool {
	for _, s := range c.cfg.Stakes {
		if s == stake {
			return true
		}
	}
	return false
}

func (c *Controller) affordableStakes(balA, balB int64) []int64 {
	limit := balA
	if balB < limit {
		limit = balB
	}
	var out []int64
	for _, s := range c.cfg.Stakes {
		if s <= limit {
			out = append(out, s)
		}
	}
	return out
}

// settlementCredits computes the payouts entering FINISHED: both stakes were
// debited at ACTIVE entry, so a draw refunds each stake and a win pays the
// winner double.
func settlementCredits(d *duel.Duel, result duel.Result) map[string]int64 {
	switch result {
	case duel.ResultDraw:
		return map[string]int64{d.PlayerAID: d.StakeXP, d.PlayerBID: d.StakeXP}
	case duel.ResultWinA:
		return map[string]int64{d.PlayerAID: 2 * d.StakeXP}
	case duel.ResultWinB:
		return map[string]int64{d.PlayerBID: 2 * d.StakeXP}
	}
	return nil
}

// levelEffects diffs current balances against the baseline captured at
// ACTIVE entry and reports which players changed level.
func (c *Controller) levelEffects(ctx context.Context, d *duel.Duel, balA, balB int64) (*dueldto.Effects, error) {
	effects := &dueldto.Effects{XPChanged: true}
	if d.Payload == nil || d.Payload.XPBaseline == nil {
		effects.SyncRolesUserIDs = []string{d.PlayerAID, d.PlayerBID}
		return effects, nil
	}
	thresholds, err := c.ledger.GetLevels(ctx, d.GuildID)
	if err != nil {
		return nil, err
	}
	current := map[string]int64{d.PlayerAID: balA, d.PlayerBID: balB}
	for _, uid := range []string{d.PlayerAID, d.PlayerBID} {
		base, ok := d.Payload.XPBaseline[uid]
		if !ok {
			continue
		}
		from := xpledger.ComputeLevel(base, thresholds)
		to := xpledger.ComputeLevel(current[uid], thresholds)
		if from != to {
			if effects.LevelChanges == nil {
				effects.LevelChanges = make(map[string]dueldto.LevelChange)
			}
			effects.LevelChanges[uid] = dueldto.LevelChange{From: from, To: to}
			effects.SyncRolesUserIDs = append(effects.SyncRolesUserIDs, uid)
		}
	}
	return effects, nil
}

// archive saves a terminal duel into Postgres when a repository is attached;
// failures are logged, never surfaced.
func (c *Controller) archive(ctx context.Context, d *duel.Duel, result duel.Result, method string) {
	if c.repo == nil || d == nil {
		return
	}
	if err := c.repo.SaveResult(ctx, d, result, method); err != nil {
		obslog.L().Error("duel_archive_error",
			zap.String("duel_id", d.ID),
			zap.String("method", method),
			zap.Error(err),
		)
	}
}
