package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore carries the fast-path flags shared across replicas: tenant
// cancellation flags polled per file by scan workers, and rate-limit
// counters. Everything here is advisory; the operational store stays the
// source of truth.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects and pings. Callers may run without Redis (nil
// store); scan workers then fall back to polling Postgres.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}

	slog.Info("Redis connected", "addr", addr, "db", db)
	return &RedisStore{rdb: rdb}, nil
}

func (r *RedisStore) Close() error { return r.rdb.Close() }

func cancelKey(jobID string) string { return "scan:cancel:" + jobID }

// MarkJobCancelled sets the fast cancellation flag with a TTL long
// enough to outlive any running scan.
func (r *RedisStore) MarkJobCancelled(ctx context.Context, jobID string) error {
	return r.rdb.Set(ctx, cancelKey(jobID), "1", 24*time.Hour).Err()
}

// IsJobCancelled checks the fast flag.
func (r *RedisStore) IsJobCancelled(ctx context.Context, jobID string) (bool, error) {
	n, err := r.rdb.Exists(ctx, cancelKey(jobID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// IncrWindow bumps a fixed-window rate-limit counter and returns the new
// count. The window key should embed the window start.
func (r *RedisStore) IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := r.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
