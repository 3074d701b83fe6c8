package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds coordination store connection settings.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Redis is the production Store backed by a Redis server.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a Redis store. The connection is established lazily.
func NewRedis(cfg RedisConfig) *Redis {
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		}),
	}
}

func mapErr(err error) error {
	if errors.Is(err, redis.Nil) {
		return ErrNil
	}
	return err
}

func (r *Redis) HGet(ctx context.Context, key, field string) (string, error) {
	v, err := r.client.HGet(ctx, key, field).Result()
	return v, mapErr(err)
}

func (r *Redis) HSet(ctx context.Context, key, field, value string) error {
	return r.client.HSet(ctx, key, field, value).Err()
}

func (r *Redis) HDel(ctx context.Context, key, field string) error {
	return r.client.HDel(ctx, key, field).Err()
}

func (r *Redis) HExists(ctx context.Context, key, field string) (bool, error) {
	return r.client.HExists(ctx, key, field).Result()
}

func (r *Redis) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return r.client.HGetAll(ctx, key).Result()
}

func (r *Redis) RPush(ctx context.Context, key, value string) error {
	return r.client.RPush(ctx, key, value).Err()
}

func (r *Redis) BLPop(ctx context.Context, timeout time.Duration, key string) (string, error) {
	res, err := r.client.BLPop(ctx, timeout, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrTimeout
	}
	if err != nil {
		return "", err
	}
	if len(res) != 2 {
		return "", fmt.Errorf("blpop %s: unexpected reply length %d", key, len(res))
	}
	return res[1], nil
}

func (r *Redis) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return r.client.LRange(ctx, key, start, stop).Result()
}

func (r *Redis) Incr(ctx context.Context, key string) (int64, error) {
	return r.client.Incr(ctx, key).Result()
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, key).Result()
	return v, mapErr(err)
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, key, value, 0).Err()
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// Ensure Redis implements Store
var _ Store = (*Redis)(nil)
