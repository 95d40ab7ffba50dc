package app

import (
	"context"
	"errors"

	"github.com/uptrace/bun"

	"identity-service/internal/config"
	"identity-service/internal/db"
	"identity-service/internal/logger"
	"identity-service/internal/redis"
)

type Infra struct {
	DB    *bun.DB
	Redis *redis.Client
}

func setupInfra(ctx context.Context, cfg config.Config) (*Infra, error) {
	bdb, err := db.Open(ctx, cfg.DatabaseDSN, cfg.MaxDBConnections)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx, bdb); err != nil {
		bdb.Close()
		return nil, err
	}

	logger.Info("database ready", map[string]any{
		"driver": string(db.DetectType(cfg.DatabaseDSN)),
	})

	redisClient, err := redis.New(ctx, redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		bdb.Close()
		return nil, err
	}

	logger.Info("redis ready", map[string]any{
		"addr": cfg.RedisAddr,
	})

	return &Infra{
		DB:    bdb,
		Redis: redisClient,
	}, nil
}

func (i *Infra) Close() error {
	return errors.Join(i.Redis.Close(), i.DB.Close())
}

// Migrate brings the database schema up to date without starting the server.
func Migrate(ctx context.Context, cfg config.Config) error {
	bdb, err := db.Open(ctx, cfg.DatabaseDSN, cfg.MaxDBConnections)
	if err != nil {
		return err
	}
	defer bdb.Close()

	if err := db.Migrate(ctx, bdb); err != nil {
		return err
	}
	logger.Info("database migrated", map[string]any{
		"driver": string(db.DetectType(cfg.DatabaseDSN)),
	})
	return nil
}
