package xpledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// BalanceKey returns the hash holding per-user XP balances for a guild.
// The duel store reaches into the same hash when it settles stakes, so the
// layout lives here and nowhere else.
func BalanceKey(guildID string) string { return "xp:bal:" + strings.TrimSpace(guildID) }

func levelsKey(guildID string) string { return "xp:levels:" + strings.TrimSpace(guildID) }

// Ledger is the XP collaborator consumed by the duel flow.
type Ledger interface {
	GetXP(ctx context.Context, guildID, userID string) (int64, error)
	// AddXP applies delta and returns the new total, clamped at zero.
	AddXP(ctx context.Context, guildID, userID string, delta int64) (int64, error)
	// GetLevels returns the guild's ascending level thresholds.
	GetLevels(ctx context.Context, guildID string) ([]int64, error)
}

// ComputeLevel returns how many thresholds xp has reached.
func ComputeLevel(xp int64, thresholds []int64) int {
	n := sort.Search(len(thresholds), func(i int) bool { return thresholds[i] > xp })
	return n
}

// DefaultLevels returns the cumulative XP needed for levels 1..n
// (per-level cost 5l²+50l+100, the usual chat-bot curve).
func DefaultLevels(n int) []int64 {
	out := make([]int64, 0, n)
	var total int64
	for l := 0; l < n; l++ {
		total += int64(5*l*l + 50*l + 100)
		out = append(out, total)
	}
	return out
}

// RedisLedger keeps balances in Redis hashes.
type RedisLedger struct {
	rdb *redis.Client
}

func NewRedisLedger(rdb *redis.Client) *RedisLedger { return &RedisLedger{rdb: rdb} }

func (l *RedisLedger) GetXP(ctx context.Context, guildID, userID string) (int64, error) {
	raw, err := l.rdb.HGet(ctx, BalanceKey(guildID), strings.TrimSpace(userID)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt xp balance for %s/%s: %w", guildID, userID, err)
	}
	return n, nil
}

func (l *RedisLedger) AddXP(ctx context.Context, guildID, userID string, delta int64) (int64, error) {
	key := BalanceKey(guildID)
	field := strings.TrimSpace(userID)
	var total int64
	// watch so the zero clamp cannot race another writer
	for attempt := 0; attempt < 3; attempt++ {
		err := l.rdb.Watch(ctx, func(tx *redis.Tx) error {
			cur := int64(0)
			raw, err := tx.HGet(ctx, key, field).Result()
			if err != nil && err != redis.Nil {
				return err
			}
			if err == nil {
				if cur, err = strconv.ParseInt(raw, 10, 64); err != nil {
					return fmt.Errorf("corrupt xp balance for %s/%s: %w", guildID, userID, err)
				}
			}
			next := cur + delta
			if next < 0 {
				next = 0
			}
			pipe := tx.TxPipeline()
			pipe.HSet(ctx, key, field, next)
			if _, err := pipe.Exec(ctx); err != nil {
				return err
			}
			total = next
			return nil
		}, key)
		if err == nil {
			return total, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return 0, err
		}
	}
	return 0, fmt.Errorf("xp update for %s/%s kept losing races", guildID, userID)
}

func (l *RedisLedger) GetLevels(ctx context.Context, guildID string) ([]int64, error) {
	raw, err := l.rdb.Get(ctx, levelsKey(guildID)).Bytes()
	if err == redis.Nil {
		return DefaultLevels(100), nil
	}
	if err != nil {
		return nil, err
	}
	var levels []int64
	if err := json.Unmarshal(raw, &levels); err != nil {
		return nil, fmt.Errorf("corrupt level table for guild %s: %w", guildID, err)
	}
	return levels, nil
}

// SetLevels stores a guild-specific threshold table.
func (l *RedisLedger) SetLevels(ctx context.Context, guildID string, levels []int64) error {
	raw, err := json.Marshal(levels)
	if err != nil {
		return err
	}
	return l.rdb.Set(ctx, levelsKey(guildID), raw, 0).Err()
}
