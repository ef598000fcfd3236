package duel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kapu/xp-duel-bot/internal/xpledger"
)

// Safety TTL on every duel key; the retention cleanup is the primary
// deletion path, this just keeps abandoned rows from living forever.
const ttlDuel = 14 * 24 * time.Hour

// RedisStore persists duels as JSON records with secondary index sets.
// Conditional writes use WATCH + MULTI/EXEC; a lost race surfaces as
// "did not apply", the same contract as a rows-affected check.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore { return &RedisStore{rdb: rdb} }

func (s *RedisStore) keyDuel(id string) string { return "duel:" + strings.TrimSpace(id) }
func (s *RedisStore) keyMsgIdx(guildID, channelID, messageID string) string {
	return fmt.Sprintf("duel:index:msg:%s:%s:%s", strings.TrimSpace(guildID), strings.TrimSpace(channelID), strings.TrimSpace(messageID))
}
func (s *RedisStore) keyUserIdx(guildID, userID string) string {
	return fmt.Sprintf("duel:index:user:%s:%s", strings.TrimSpace(guildID), strings.TrimSpace(userID))
}
func (s *RedisStore) keyOpen() string { return "duel:index:open" }
func (s *RedisStore) keyDone() string { return "duel:index:done" }

func (s *RedisStore) Create(ctx context.Context, d *Duel) error {
	if d == nil || strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("duel record requires an id")
	}
	pipe := s.rdb.TxPipeline()
	if err := s.saveTx(ctx, pipe, d); err != nil {
		return err
	}
	_, err := pipe.Exec(ctx)
	return err
}

// saveTx writes the record and keeps every secondary index converged with
// it inside the same MULTI/EXEC.
func (s *RedisStore) saveTx(ctx context.Context, pipe redis.Pipeliner, d *Duel) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	pipe.Set(ctx, s.keyDuel(d.ID), raw, ttlDuel)
	if d.MessageID != "" {
		pipe.Set(ctx, s.keyMsgIdx(d.GuildID, d.ChannelID, d.MessageID), d.ID, ttlDuel)
	}
	for _, uid := range []string{d.PlayerAID, d.PlayerBID} {
		key := s.keyUserIdx(d.GuildID, uid)
		pipe.SAdd(ctx, key, d.ID)
		pipe.Expire(ctx, key, ttlDuel)
	}
	if d.Status.Terminal() {
		pipe.SRem(ctx, s.keyOpen(), d.ID)
		pipe.SAdd(ctx, s.keyDone(), d.ID)
		pipe.Expire(ctx, s.keyDone(), ttlDuel)
	} else {
		pipe.SAdd(ctx, s.keyOpen(), d.ID)
		pipe.Expire(ctx, s.keyOpen(), ttlDuel)
	}
	return nil
}

func (s *RedisStore) get(ctx context.Context, c redis.Cmdable, id string) (*Duel, error) {
	raw, err := c.Get(ctx, s.keyDuel(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var d Duel
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("corrupt duel record %s: %w", id, err)
	}
	return &d, nil
}

func (s *RedisStore) GetByID(ctx context.Context, id string) (*Duel, error) {
	return s.get(ctx, s.rdb, id)
}

func (s *RedisStore) GetByMessage(ctx context.Context, guildID, channelID, messageID string) (*Duel, error) {
	id, err := s.rdb.Get(ctx, s.keyMsgIdx(guildID, channelID, messageID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.get(ctx, s.rdb, id)
}

func (s *RedisStore) GetOpenForUser(ctx context.Context, guildID, userID string) (*Duel, error) {
	ids, err := s.rdb.SMembers(ctx, s.keyUserIdx(guildID, userID)).Result()
	if err != nil {
		return nil, err
	}
	var open []*Duel
	for _, id := range ids {
		d, gerr := s.get(ctx, s.rdb, id)
		if gerr != nil {
			return nil, gerr
		}
		if d == nil || d.Status.Terminal() {
			continue
		}
		open = append(open, d)
	}
	if len(open) == 0 {
		return nil, nil
	}
	sort.Slice(open, func(i, j int) bool { return open[i].CreatedAt.After(open[j].CreatedAt) })
	return open[0], nil
}

// watchApply wraps the WATCH/MULTI/EXEC dance shared by every conditional
// write. fn loads state through tx, checks its condition, queues writes on a
// TxPipeline and reports whether the condition held.
func (s *RedisStore) watchApply(ctx context.Context, fn func(tx *redis.Tx) (bool, error), keys ...string) (bool, error) {
	applied := false
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		ok, err := fn(tx)
		applied = ok
		return err
	}, keys...)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (s *RedisStore) UpdateIfStatus(ctx context.Context, id string, required Status, mutate func(*Duel)) (bool, error) {
	return s.watchApply(ctx, func(tx *redis.Tx) (bool, error) {
		cur, err := s.get(ctx, tx, id)
		if err != nil {
			return false, err
		}
		if cur == nil || cur.Status != required {
			return false, nil
		}
		mutate(cur)
		pipe := tx.TxPipeline()
		if err := s.saveTx(ctx, pipe, cur); err != nil {
			return false, err
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return false, err
		}
		return true, nil
	}, s.keyDuel(id))
}

func (s *RedisStore) Transition(ctx context.Context, id string, from, to Status, expiresAt *time.Time) (bool, error) {
	return s.watchApply(ctx, func(tx *redis.Tx) (bool, error) {
		cur, err := s.get(ctx, tx, id)
		if err != nil {
			return false, err
		}
		if cur == nil || cur.Status != from {
			return false, nil
		}
		cur.Status = to
		cur.ExpiresAt = expiresAt
		if to.Terminal() && cur.FinishedAt == nil {
			now := time.Now().UTC()
			cur.FinishedAt = &now
		}
		pipe := tx.TxPipeline()
		if err := s.saveTx(ctx, pipe, cur); err != nil {
			return false, err
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return false, err
		}
		return true, nil
	}, s.keyDuel(id))
}

func (s *RedisStore) UpdatePayloadIfUnchanged(ctx context.Context, id string, oldRaw, newRaw []byte) (bool, error) {
	return s.watchApply(ctx, func(tx *redis.Tx) (bool, error) {
		cur, err := s.get(ctx, tx, id)
		if err != nil {
			return false, err
		}
		if cur == nil || cur.Status != StatusActive {
			return false, nil
		}
		curRaw, err := cur.Payload.Marshal()
		if err != nil {
			return false, err
		}
		if !bytes.Equal(curRaw, oldRaw) {
			return false, nil
		}
		if len(newRaw) == 0 {
			cur.Payload = nil
		} else {
			var p Payload
			if err := json.Unmarshal(newRaw, &p); err != nil {
				return false, fmt.Errorf("bad payload for duel %s: %w", id, err)
			}
			cur.Payload = &p
		}
		pipe := tx.TxPipeline()
		if err := s.saveTx(ctx, pipe, cur); err != nil {
			return false, err
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return false, err
		}
		return true, nil
	}, s.keyDuel(id))
}

func (s *RedisStore) Activate(ctx context.Context, id string, expiresAt time.Time, stake int64) (bool, error) {
	// need the record first to know which balance hash to watch
	d, err := s.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if d == nil {
		return false, nil
	}
	balKey := xpledger.BalanceKey(d.GuildID)
	return s.watchApply(ctx, func(tx *redis.Tx) (bool, error) {
		cur, err := s.get(ctx, tx, id)
		if err != nil {
			return false, err
		}
		if cur == nil || cur.Status != StatusInvited {
			return false, nil
		}
		balA, err := s.balance(ctx, tx, balKey, cur.PlayerAID)
		if err != nil {
			return false, err
		}
		balB, err := s.balance(ctx, tx, balKey, cur.PlayerBID)
		if err != nil {
			return false, err
		}
		if balA < stake || balB < stake {
			return false, ErrInsufficientFunds
		}
		cur.Status = StatusActive
		cur.ExpiresAt = &expiresAt
		if cur.Payload == nil {
			cur.Payload = &Payload{}
		}
		// baseline is pre-debit and written once
		if cur.Payload.XPBaseline == nil {
			cur.Payload.XPBaseline = map[string]int64{
				cur.PlayerAID: balA,
				cur.PlayerBID: balB,
			}
		}
		pipe := tx.TxPipeline()
		if err := s.saveTx(ctx, pipe, cur); err != nil {
			return false, err
		}
		pipe.HIncrBy(ctx, balKey, cur.PlayerAID, -stake)
		pipe.HIncrBy(ctx, balKey, cur.PlayerBID, -stake)
		if _, err := pipe.Exec(ctx); err != nil {
			return false, err
		}
		return true, nil
	}, s.keyDuel(id), balKey)
}

func (s *RedisStore) Settle(ctx context.Context, id string, from, to Status, finishedAt time.Time, credits map[string]int64) (bool, error) {
	d, err := s.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if d == nil {
		return false, nil
	}
	balKey := xpledger.BalanceKey(d.GuildID)
	return s.watchApply(ctx, func(tx *redis.Tx) (bool, error) {
		cur, err := s.get(ctx, tx, id)
		if err != nil {
			return false, err
		}
		if cur == nil || cur.Status != from {
			return false, nil
		}
		cur.Status = to
		cur.ExpiresAt = nil
		cur.FinishedAt = &finishedAt
		pipe := tx.TxPipeline()
		if err := s.saveTx(ctx, pipe, cur); err != nil {
			return false, err
		}
		for uid, amount := range credits {
			if amount != 0 {
				pipe.HIncrBy(ctx, balKey, uid, amount)
			}
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return false, err
		}
		return true, nil
	}, s.keyDuel(id), balKey)
}

func (s *RedisStore) balance(ctx context.Context, tx *redis.Tx, key, field string) (int64, error) {
	raw, err := tx.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt xp balance at %s/%s: %w", key, field, err)
	}
	return n, nil
}

func (s *RedisStore) ListExpired(ctx context.Context, now time.Time) ([]*Duel, error) {
	ids, err := s.rdb.SMembers(ctx, s.keyOpen()).Result()
	if err != nil {
		return nil, err
	}
	var out []*Duel
	for _, id := range ids {
		d, gerr := s.get(ctx, s.rdb, id)
		if gerr != nil {
			return nil, gerr
		}
		if d == nil {
			// stale index entry
			_ = s.rdb.SRem(ctx, s.keyOpen(), id).Err()
			continue
		}
		if d.Status.Terminal() {
			_ = s.rdb.SRem(ctx, s.keyOpen(), id).Err()
			_ = s.rdb.SAdd(ctx, s.keyDone(), id).Err()
			continue
		}
		if d.ExpiredAt(now) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *RedisStore) Cleanup(ctx context.Context, cutoffShort, cutoffFinished time.Time) (int, error) {
	ids, err := s.rdb.SMembers(ctx, s.keyDone()).Result()
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, id := range ids {
		d, gerr := s.get(ctx, s.rdb, id)
		if gerr != nil {
			return deleted, gerr
		}
		if d == nil {
			_ = s.rdb.SRem(ctx, s.keyDone(), id).Err()
			continue
		}
		cutoff := cutoffShort
		if d.Status == StatusFinished {
			cutoff = cutoffFinished
		}
		if d.FinishedAt == nil || !d.FinishedAt.Before(cutoff) {
			continue
		}
		pipe := s.rdb.TxPipeline()
		pipe.Del(ctx, s.keyDuel(id))
		if d.MessageID != "" {
			pipe.Del(ctx, s.keyMsgIdx(d.GuildID, d.ChannelID, d.MessageID))
		}
		for _, uid := range []string{d.PlayerAID, d.PlayerBID} {
			pipe.SRem(ctx, s.keyUserIdx(d.GuildID, uid), id)
		}
		pipe.SRem(ctx, s.keyDone(), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}
