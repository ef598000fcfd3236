package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig is loaded once at startup; every field is immutable afterwards.
type AppConfig struct {
	RedisURL    string
	DatabaseURL string

	// per-phase deadlines written into expires_at
	ConfigDeadline time.Duration
	InviteDeadline time.Duration
	ActiveDeadline time.Duration

	SweepInterval   time.Duration
	CleanupInterval time.Duration

	// retention windows for terminal duels
	RetentionShort    time.Duration
	RetentionFinished time.Duration

	// stake catalogue, ascending
	Stakes []int64

	MsgOverrideDir string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ConfigDeadline:    10 * time.Minute,
		InviteDeadline:    5 * time.Minute,
		ActiveDeadline:    10 * time.Minute,
		SweepInterval:     30 * time.Second,
		CleanupInterval:   10 * time.Minute,
		RetentionShort:    1 * time.Hour,
		RetentionFinished: 7 * 24 * time.Hour,
		Stakes:            []int64{10, 25, 50, 100},
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.MsgOverrideDir = strings.TrimSpace(os.Getenv("MSG_OVERRIDE_DIR"))

	loadDuration(&cfg.ConfigDeadline, "DUEL_CONFIG_DEADLINE")
	loadDuration(&cfg.InviteDeadline, "DUEL_INVITE_DEADLINE")
	loadDuration(&cfg.ActiveDeadline, "DUEL_ACTIVE_DEADLINE")
	loadDuration(&cfg.SweepInterval, "DUEL_SWEEP_INTERVAL")
	loadDuration(&cfg.CleanupInterval, "DUEL_CLEANUP_INTERVAL")
	loadDuration(&cfg.RetentionShort, "DUEL_RETENTION_SHORT")
	loadDuration(&cfg.RetentionFinished, "DUEL_RETENTION_FINISHED")

	if v := strings.TrimSpace(os.Getenv("DUEL_STAKES")); v != "" {
		var stakes []int64
		for _, p := range strings.Split(v, ",") {
			s := strings.TrimSpace(p)
			if s == "" {
				continue
			}
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil || n <= 0 {
				return nil, errors.New("DUEL_STAKES must be a comma list of positive integers")
			}
			stakes = append(stakes, n)
		}
		if len(stakes) > 0 {
			cfg.Stakes = stakes
		}
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}

	return cfg, nil
}

func loadDuration(dst *time.Duration, env string) {
	v := strings.TrimSpace(os.Getenv(env))
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		*dst = d
	}
}
