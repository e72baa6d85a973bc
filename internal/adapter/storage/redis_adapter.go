package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/pricewatch/internal/core/domain"
)

const (
	runLockKey     = "reconcile:lock"
	lastRunKey     = "reconcile:last_run"
	runHistoryKey  = "reconcile:runs"
	runHistorySize = 50
)

var unlockScript = redis.NewScript(`
local key = KEYS[1]
local token = ARGV[1]

if redis.call('GET', key) == token then
	return redis.call('DEL', key)
end

return 0
`)

type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

// NewRedisClient parses url and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opt.ReadTimeout == 0 {
		opt.ReadTimeout = 5 * time.Second
	}
	if opt.WriteTimeout == 0 {
		opt.WriteTimeout = 5 * time.Second
	}
	if opt.DialTimeout == 0 {
		opt.DialTimeout = 5 * time.Second
	}
	if opt.PoolSize == 0 {
		opt.PoolSize = 100
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (r *RedisAdapter) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisAdapter) Lock(ctx context.Context, token string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, runLockKey, token, ttl).Result()
}

func (r *RedisAdapter) Unlock(ctx context.Context, token string) error {
	return unlockScript.Run(ctx, r.client, []string{runLockKey}, token).Err()
}

func (r *RedisAdapter) SaveRun(ctx context.Context, summary domain.RunSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode run summary: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, lastRunKey, data, 0)
	pipe.LPush(ctx, runHistoryKey, data)
	pipe.LTrim(ctx, runHistoryKey, 0, runHistorySize-1)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisAdapter) LastRun(ctx context.Context) (*domain.RunSummary, error) {
	data, err := r.client.Get(ctx, lastRunKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var summary domain.RunSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("decode run summary: %w", err)
	}
	return &summary, nil
}

// RecentRuns returns up to limit summaries, newest first.
func (r *RedisAdapter) RecentRuns(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	if limit <= 0 || limit > runHistorySize {
		limit = runHistorySize
	}
	raw, err := r.client.LRange(ctx, runHistoryKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	runs := make([]domain.RunSummary, 0, len(raw))
	for _, item := range raw {
		var s domain.RunSummary
		if err := json.Unmarshal([]byte(item), &s); err != nil {
			return nil, fmt.Errorf("decode run summary: %w", err)
		}
		runs = append(runs, s)
	}
	return runs, nil
}
