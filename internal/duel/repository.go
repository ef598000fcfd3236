package duel

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Repository archives terminal duels into Postgres for long-term history.
// The live store stays in Redis; this is write-mostly bookkeeping.
type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveResult upserts a terminal duel into the history table. method records
// how the duel ended (finish, refuse, expire, sweep_resolve).
func (r *Repository) SaveResult(ctx context.Context, d *Duel, result Result, method string) error {
	if r == nil || r.db == nil || d == nil {
		return nil
	}

	var finishedAt time.Time
	if d.FinishedAt != nil {
		finishedAt = *d.FinishedAt
	} else {
		finishedAt = time.Now().UTC()
	}
	duration := finishedAt.Sub(d.CreatedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	q := `INSERT INTO duel_history (
	    duel_id, guild_id, channel_id, message_id,
	    player_a_id, player_a_name, player_b_id, player_b_name,
	    game_type, stake_xp, status, result, result_method,
	    started_at, ended_at, duration_ms
	  ) VALUES (
	    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
	  ) ON CONFLICT (duel_id) DO UPDATE SET
	    message_id=EXCLUDED.message_id,
	    game_type=EXCLUDED.game_type,
	    stake_xp=EXCLUDED.stake_xp,
	    status=EXCLUDED.status,
	    result=EXCLUDED.result,
	    result_method=EXCLUDED.result_method,
	    ended_at=EXCLUDED.ended_at,
	    duration_ms=EXCLUDED.duration_ms`

	_, err := r.db.ExecContext(ctx, q,
		d.ID, d.GuildID, d.ChannelID, d.MessageID,
		d.PlayerAID, d.PlayerAName, d.PlayerBID, d.PlayerBName,
		d.GameType, d.StakeXP, string(d.Status), string(result), strings.TrimSpace(method),
		d.CreatedAt, finishedAt, duration,
	)
	return err
}

// PruneHistory deletes archived rows that ended before cutoff.
func (r *Repository) PruneHistory(ctx context.Context, cutoff time.Time) (int64, error) {
	if r == nil || r.db == nil {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM duel_history WHERE ended_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}
