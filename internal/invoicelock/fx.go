package invoicelock

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/procura/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("invoicelock",
	fx.Provide(New),
)

// New returns a RedisLocker when REDIS_ADDR is set, otherwise a LocalLocker.
func New(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) Locker {
	if cfg.RedisAddr == "" {
		log.Info("invoice lock is process local")
		return NewLocalLocker()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	log.Info("invoice lock uses redis", zap.String("addr", cfg.RedisAddr))
	return NewRedisLocker(client, cfg.LockTTL, cfg.LockWait, log)
}
