package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/quartz"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appcfg "github.com/kapu/xp-duel-bot/internal/config"
	"github.com/kapu/xp-duel-bot/internal/duel"
	"github.com/kapu/xp-duel-bot/internal/duelflow"
	"github.com/kapu/xp-duel-bot/internal/msgcat"
	"github.com/kapu/xp-duel-bot/internal/obslog"
	"github.com/kapu/xp-duel-bot/internal/rpsgame"
	"github.com/kapu/xp-duel-bot/internal/xpledger"
)

// duel-bot hosts the duel engine's maintenance loops (expiry sweep and
// retention cleanup). The chat-facing presentation layer embeds the
// controller as a library and is wired elsewhere.
func main() {
	_ = godotenv.Load()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = obslog.L().Sync() }()

	cat, err := msgcat.New(cfg.MsgOverrideDir)
	if err != nil {
		log.Fatalf("message catalog error: %v", err)
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis url error: %v", err)
	}
	rdb := redis.NewClient(opts)
	defer func() { _ = rdb.Close() }()
	{
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Fatalf("redis ping error: %v", err)
		}
	}

	store := duel.NewRedisStore(rdb)
	ledger := xpledger.NewRedisLedger(rdb)
	registry := duelflow.NewRegistry()
	registry.Register(duel.GameTypeRPS, rpsgame.New())

	ctrl := duelflow.NewController(store, ledger, registry, quartz.NewReal(), cfg)

	if cfg.DatabaseURL != "" {
		repo, rerr := duel.NewRepository(cfg.DatabaseURL)
		if rerr != nil {
			obslog.L().Warn("duel archive unavailable", zap.Error(rerr))
		} else {
			ctrl.AttachRepository(repo)
			defer func() { _ = repo.Close() }()
		}
	}

	obslog.L().Info("duel_bot_start",
		zap.Strings("game_types", registry.Types()),
		zap.Int64s("stakes", cfg.Stakes),
		zap.Duration("sweep_interval", cfg.SweepInterval),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweep := time.NewTicker(cfg.SweepInterval)
	defer sweep.Stop()
	cleanup := time.NewTicker(cfg.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			obslog.L().Info("duel_bot_stop")
			return
		case <-sweep.C:
			effects, serr := ctrl.CancelExpiredDuels(ctx)
			if serr != nil {
				obslog.L().Error("sweep_failed", zap.Error(serr))
				continue
			}
			for _, eff := range effects {
				obslog.L().Info("sweep_effect",
					zap.String("duel_id", eff.DuelID),
					zap.String("prev_status", eff.PrevStatus),
					zap.Bool("xp_changed", eff.XPChanged),
					zap.String("notice", cat.Message("notify.expired")),
				)
			}
		case <-cleanup.C:
			if _, cerr := ctrl.CleanupOldDuels(ctx); cerr != nil {
				obslog.L().Error("cleanup_failed", zap.Error(cerr))
			}
		}
	}
}
