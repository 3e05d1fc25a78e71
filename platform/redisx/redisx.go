// Package redisx builds Redis connections shared by the deduplicator and the
// task queue. This is part of the platform layer and contains no business logic.
package redisx

import (
	"context"
	"crypto/tls"
	"fmt"

	"engagement_backend/platform/config"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// ParseOptions parses a redis:// or rediss:// URL, optionally disabling
// certificate verification for managed Redis with self-signed certs.
func ParseOptions(redisURL string, tlsInsecure bool) (*redis.Options, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		opt.TLSConfig = clone
	} else if tlsInsecure {
		opt.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return opt, nil
}

// NewClient opens a go-redis client and verifies connectivity.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opt, err := ParseOptions(cfg.GetRedisURL(), cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// AsynqOpt converts the configured URL into asynq connection options.
func AsynqOpt(cfg config.RedisConfig) (asynq.RedisClientOpt, error) {
	opt, err := ParseOptions(cfg.GetRedisURL(), cfg.GetRedisTLSInsecure())
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Username:  opt.Username,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: opt.TLSConfig,
	}, nil
}
