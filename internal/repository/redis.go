package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/frlabs/sitegate/internal/config"
	"github.com/frlabs/sitegate/internal/model"
	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

type RedisClient struct {
	Client *redis.Client
}

func NewRedisClient(cfg *config.Config) (*RedisClient, error) {
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis address is empty")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisClient{Client: rdb}, nil
}

func (r *RedisClient) Close() error {
	return r.Client.Close()
}

// Increment implements service.QuotaStore. The window starts at the first hit.
func (r *RedisClient) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := r.Client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// RedisConsentRepo keeps the most recent consent evidence in a capped list.
type RedisConsentRepo struct {
	client  *RedisClient
	listKey string
	listMax int64
}

func NewRedisConsentRepo(client *RedisClient, listKey string, listMax int) *RedisConsentRepo {
	if listKey == "" {
		listKey = "consent_events"
	}
	if listMax <= 0 {
		listMax = 10000
	}
	return &RedisConsentRepo{
		client:  client,
		listKey: listKey,
		listMax: int64(listMax),
	}
}

func (r *RedisConsentRepo) Insert(ctx context.Context, ev *model.ConsentEvidence) error {
	if ev == nil {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	pipe := r.client.Client.Pipeline()
	pipe.LPush(ctx, r.listKey, payload)
	pipe.LTrim(ctx, r.listKey, 0, r.listMax-1)
	_, err = pipe.Exec(ctx)
	return err
}
