package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "logd:"

type RedisStorage struct {
	client *redis.Client
	domain string
}

func NewRedisStorage(ctx context.Context, redisUrl string, domain string) (*RedisStorage, error) {
	if redisUrl == "" {
		return nil, errors.New("redis url is required")
	}
	opts, err := redis.ParseURL(redisUrl)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisStorage{
		client: client,
		domain: domain,
	}, nil
}

func (self *RedisStorage) key(key string) string {
	return redisKeyPrefix + scopedKey(self.domain, key)
}

func (self *RedisStorage) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := self.client.Get(ctx, self.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, true, nil
}

// values do not expire
func (self *RedisStorage) Set(ctx context.Context, key string, value string) error {
	if err := self.client.Set(ctx, self.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (self *RedisStorage) Close() error {
	return self.client.Close()
}
