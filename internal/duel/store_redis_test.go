package duel

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/kapu/xp-duel-bot/internal/xpledger"
)

func newTestStore(t *testing.T) (*RedisStore, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb), rdb
}

func testDuel(status Status) *Duel {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	deadline := now.Add(10 * time.Minute)
	return &Duel{
		ID:        "d1",
		GuildID:   "10",
		ChannelID: "20",
		PlayerAID: "1",
		PlayerBID: "2",
		Status:    status,
		CreatedAt: now,
		ExpiresAt: &deadline,
	}
}

func TestCreateAndLookups(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	d := testDuel(StatusConfig)
	if err := s.Create(ctx, d); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.GetByID(ctx, "d1")
	if err != nil || got == nil {
		t.Fatalf("GetByID: %v got=%v", err, got)
	}
	if got.Status != StatusConfig || got.PlayerAID != "1" {
		t.Fatalf("unexpected record: %+v", got)
	}

	open, err := s.GetOpenForUser(ctx, "10", "2")
	if err != nil || open == nil || open.ID != "d1" {
		t.Fatalf("GetOpenForUser: %v open=%v", err, open)
	}

	// no message index until an invite message exists
	byMsg, err := s.GetByMessage(ctx, "10", "20", "999")
	if err != nil || byMsg != nil {
		t.Fatalf("expected no message match, got %v err=%v", byMsg, err)
	}

	applied, err := s.UpdateIfStatus(ctx, "d1", StatusConfig, func(cur *Duel) {
		cur.MessageID = "999"
	})
	if err != nil || !applied {
		t.Fatalf("UpdateIfStatus: applied=%v err=%v", applied, err)
	}
	byMsg, err = s.GetByMessage(ctx, "10", "20", "999")
	if err != nil || byMsg == nil || byMsg.ID != "d1" {
		t.Fatalf("GetByMessage after invite: %v byMsg=%v", err, byMsg)
	}
}

func TestUpdateIfStatusRequiresStatus(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	if err := s.Create(ctx, testDuel(StatusInvited)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	applied, err := s.UpdateIfStatus(ctx, "d1", StatusConfig, func(cur *Duel) {
		cur.StakeXP = 10
	})
	if err != nil {
		t.Fatalf("UpdateIfStatus: %v", err)
	}
	if applied {
		t.Fatalf("update applied despite wrong status")
	}
}

func TestTransitionAppliesExactlyOnce(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	if err := s.Create(ctx, testDuel(StatusConfig)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	deadline := time.Now().UTC().Add(5 * time.Minute)

	applied, err := s.Transition(ctx, "d1", StatusConfig, StatusInvited, &deadline)
	if err != nil || !applied {
		t.Fatalf("first transition: applied=%v err=%v", applied, err)
	}
	applied, err = s.Transition(ctx, "d1", StatusConfig, StatusInvited, &deadline)
	if err != nil {
		t.Fatalf("second transition: %v", err)
	}
	if applied {
		t.Fatalf("transition applied twice")
	}
}

func TestPayloadCAS(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	if err := s.Create(ctx, testDuel(StatusActive)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	next := &Payload{Game: []byte(`{"move_a":"ROCK"}`)}
	newRaw, _ := next.Marshal()

	applied, err := s.UpdatePayloadIfUnchanged(ctx, "d1", nil, newRaw)
	if err != nil || !applied {
		t.Fatalf("first payload write: applied=%v err=%v", applied, err)
	}

	// same precondition again: the payload moved on, so this must lose
	applied, err = s.UpdatePayloadIfUnchanged(ctx, "d1", nil, newRaw)
	if err != nil {
		t.Fatalf("stale payload write: %v", err)
	}
	if applied {
		t.Fatalf("stale payload write applied")
	}
}

func TestPayloadCASRequiresActive(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	if err := s.Create(ctx, testDuel(StatusInvited)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	next := &Payload{Game: []byte(`{"move_a":"ROCK"}`)}
	newRaw, _ := next.Marshal()
	applied, err := s.UpdatePayloadIfUnchanged(ctx, "d1", nil, newRaw)
	if err != nil {
		t.Fatalf("payload write: %v", err)
	}
	if applied {
		t.Fatalf("payload write applied on non-active duel")
	}
}

func TestActivateDebitsAndBaselines(t *testing.T) {
	s, rdb := newTestStore(t)
	ctx := context.Background()

	d := testDuel(StatusInvited)
	d.StakeXP = 10
	if err := s.Create(ctx, d); err != nil {
		t.Fatalf("Create: %v", err)
	}
	balKey := xpledger.BalanceKey("10")
	rdb.HSet(ctx, balKey, "1", 100)
	rdb.HSet(ctx, balKey, "2", 40)

	deadline := time.Now().UTC().Add(10 * time.Minute)
	applied, err := s.Activate(ctx, "d1", deadline, 10)
	if err != nil || !applied {
		t.Fatalf("Activate: applied=%v err=%v", applied, err)
	}

	got, _ := s.GetByID(ctx, "d1")
	if got.Status != StatusActive {
		t.Fatalf("status after activate: %s", got.Status)
	}
	if got.Payload == nil || got.Payload.XPBaseline["1"] != 100 || got.Payload.XPBaseline["2"] != 40 {
		t.Fatalf("baseline not captured: %+v", got.Payload)
	}
	if v := rdb.HGet(ctx, balKey, "1").Val(); v != "90" {
		t.Fatalf("player 1 balance after debit: %s", v)
	}
	if v := rdb.HGet(ctx, balKey, "2").Val(); v != "30" {
		t.Fatalf("player 2 balance after debit: %s", v)
	}

	// replay cannot double-debit
	applied, err = s.Activate(ctx, "d1", deadline, 10)
	if err != nil || applied {
		t.Fatalf("second activate: applied=%v err=%v", applied, err)
	}
	if v := rdb.HGet(ctx, balKey, "1").Val(); v != "90" {
		t.Fatalf("double debit detected: %s", v)
	}
}

func TestActivateRejectsUnaffordableStake(t *testing.T) {
	s, rdb := newTestStore(t)
	ctx := context.Background()
	d := testDuel(StatusInvited)
	if err := s.Create(ctx, d); err != nil {
		t.Fatalf("Create: %v", err)
	}
	rdb.HSet(ctx, xpledger.BalanceKey("10"), "1", 100)
	// player 2 has nothing

	_, err := s.Activate(ctx, "d1", time.Now().UTC().Add(10*time.Minute), 10)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	got, _ := s.GetByID(ctx, "d1")
	if got.Status != StatusInvited {
		t.Fatalf("status mutated on rejected activate: %s", got.Status)
	}
}

func TestSettleCreditsOnce(t *testing.T) {
	s, rdb := newTestStore(t)
	ctx := context.Background()
	d := testDuel(StatusActive)
	d.StakeXP = 10
	if err := s.Create(ctx, d); err != nil {
		t.Fatalf("Create: %v", err)
	}
	balKey := xpledger.BalanceKey("10")
	rdb.HSet(ctx, balKey, "1", 90)
	rdb.HSet(ctx, balKey, "2", 90)

	finishedAt := time.Now().UTC()
	credits := map[string]int64{"1": 20}
	applied, err := s.Settle(ctx, "d1", StatusActive, StatusFinished, finishedAt, credits)
	if err != nil || !applied {
		t.Fatalf("Settle: applied=%v err=%v", applied, err)
	}
	got, _ := s.GetByID(ctx, "d1")
	if got.Status != StatusFinished || got.FinishedAt == nil || got.ExpiresAt != nil {
		t.Fatalf("settled record wrong: %+v", got)
	}
	if v := rdb.HGet(ctx, balKey, "1").Val(); v != "110" {
		t.Fatalf("winner payout: %s", v)
	}

	applied, err = s.Settle(ctx, "d1", StatusActive, StatusFinished, finishedAt, credits)
	if err != nil {
		t.Fatalf("second settle: %v", err)
	}
	if applied {
		t.Fatalf("settlement applied twice")
	}
	if v := rdb.HGet(ctx, balKey, "1").Val(); v != "110" {
		t.Fatalf("double payout detected: %s", v)
	}
}

func TestListExpiredAndCleanup(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	d := testDuel(StatusConfig)
	if err := s.Create(ctx, d); err != nil {
		t.Fatalf("Create: %v", err)
	}

	before := d.ExpiresAt.Add(-time.Minute)
	after := d.ExpiresAt.Add(time.Minute)

	list, err := s.ListExpired(ctx, before)
	if err != nil || len(list) != 0 {
		t.Fatalf("nothing should be expired yet: %v len=%d", err, len(list))
	}
	list, err = s.ListExpired(ctx, after)
	if err != nil || len(list) != 1 || list[0].ID != "d1" {
		t.Fatalf("expected d1 expired: %v list=%v", err, list)
	}

	// terminal rows leave the open index and become cleanup candidates
	applied, err := s.Settle(ctx, "d1", StatusConfig, StatusExpired, after, nil)
	if err != nil || !applied {
		t.Fatalf("Settle to EXPIRED: applied=%v err=%v", applied, err)
	}
	list, err = s.ListExpired(ctx, after.Add(time.Hour))
	if err != nil || len(list) != 0 {
		t.Fatalf("terminal duel still listed as expired: %v", list)
	}

	deleted, err := s.Cleanup(ctx, after.Add(time.Hour), after.Add(time.Hour))
	if err != nil || deleted != 1 {
		t.Fatalf("Cleanup: deleted=%d err=%v", deleted, err)
	}
	got, err := s.GetByID(ctx, "d1")
	if err != nil || got != nil {
		t.Fatalf("record survived cleanup: %v", got)
	}
	open, err := s.GetOpenForUser(ctx, "10", "1")
	if err != nil || open != nil {
		t.Fatalf("user index survived cleanup: %v", open)
	}
}

func TestCleanupHonoursRetentionWindows(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	finished := testDuel(StatusActive)
	finished.ID = "df"
	if err := s.Create(ctx, finished); err != nil {
		t.Fatalf("Create: %v", err)
	}
	endedAt := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	if _, err := s.Settle(ctx, "df", StatusActive, StatusFinished, endedAt, nil); err != nil {
		t.Fatalf("Settle: %v", err)
	}

	// short cutoff already passed, finished cutoff has not
	deleted, err := s.Cleanup(ctx, endedAt.Add(time.Hour), endedAt.Add(-time.Hour))
	if err != nil || deleted != 0 {
		t.Fatalf("finished duel deleted inside retention: deleted=%d err=%v", deleted, err)
	}
	deleted, err = s.Cleanup(ctx, endedAt.Add(-time.Hour), endedAt.Add(time.Hour))
	if err != nil || deleted != 1 {
		t.Fatalf("finished duel kept past retention: deleted=%d err=%v", deleted, err)
	}
}
