// internal/app/bootstrap/db.go
package bootstrap

import (
	"context"

	"github.com/dalemusser/stratamind/internal/app/system/indexes"
	"github.com/dalemusser/stratamind/internal/app/system/mailer"
	"github.com/dalemusser/stratamind/internal/app/system/seeding"
	"github.com/dalemusser/stratamind/internal/app/system/validators"
	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ConnectDB connects to MongoDB and, when configured, Redis.
//
// WAFFLE calls this after configuration is loaded but before EnsureSchema and
// Startup. MongoDB is required. Redis only backs the code attempt limiter,
// which fails open, so an unreachable Redis is logged and startup continues.
func ConnectDB(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) (DBDeps, error) {
	poolCfg := wafflemongo.DefaultPoolConfig()
	if appCfg.MongoMaxPoolSize > 0 {
		poolCfg.MaxPoolSize = uint64(appCfg.MongoMaxPoolSize)
	}
	if appCfg.MongoMinPoolSize > 0 {
		poolCfg.MinPoolSize = uint64(appCfg.MongoMinPoolSize)
	}

	client, err := wafflemongo.ConnectWithPool(ctx, appCfg.MongoURI, appCfg.MongoDatabase, poolCfg)
	if err != nil {
		return DBDeps{}, err
	}
	db := client.Database(appCfg.MongoDatabase)

	logger.Info("connected to MongoDB",
		zap.String("database", appCfg.MongoDatabase),
		zap.Uint64("max_pool_size", poolCfg.MaxPoolSize),
		zap.Uint64("min_pool_size", poolCfg.MinPoolSize),
	)

	var rdb *redis.Client
	if appCfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     appCfg.RedisAddr,
			Password: appCfg.RedisPassword,
			DB:       appCfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable; code attempt limiting is degraded until it recovers",
				zap.String("addr", appCfg.RedisAddr),
				zap.Error(err))
		} else {
			logger.Info("connected to Redis", zap.String("addr", appCfg.RedisAddr), zap.Int("db", appCfg.RedisDB))
		}
	} else {
		logger.Info("redis_addr not set; code attempts are bounded only by challenge expiry")
	}

	mail := mailer.New(mailer.Config{
		AppName:     appCfg.MailAppName,
		IncludeBody: appCfg.MailLogBody,
	}, logger)

	return DBDeps{
		MongoClient:   client,
		MongoDatabase: db,
		Redis:         rdb,
		Mailer:        mail,
	}, nil
}

// EnsureSchema creates collections, validators, and indexes, then seeds
// the startup account if one is configured.
//
// The context has a timeout based on coreCfg.IndexBootTimeout.
func EnsureSchema(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	db := deps.MongoDatabase

	// Collections first so indexes attach to validated collections.
	logger.Info("ensuring collections and validators")
	if err := validators.EnsureAll(ctx, db); err != nil {
		logger.Error("failed to ensure validators", zap.Error(err))
		return err
	}

	logger.Info("ensuring database indexes")
	if err := indexes.EnsureAll(ctx, db); err != nil {
		logger.Error("failed to ensure indexes", zap.Error(err))
		return err
	}

	if err := seeding.SeedAll(ctx, db, seeding.Account{
		Email:    appCfg.SeedAccountEmail,
		Name:     appCfg.SeedAccountName,
		Password: appCfg.SeedAccountPassword,
	}, logger); err != nil {
		logger.Error("failed to seed account", zap.Error(err))
		return err
	}

	logger.Info("database schema ensured successfully")
	return nil
}
