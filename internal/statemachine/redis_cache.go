package statemachine

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/field-ticket-service/internal/domain"
)

const redisKeyPrefix = "state_machine:"

// RedisCache stores state machines as JSON values in Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache returns a SharedCache backed by client, or nil when client is nil.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if client == nil {
		return nil
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, commerceID string) (*domain.StateMachine, bool, error) {
	raw, err := c.client.Get(ctx, redisKeyPrefix+commerceID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var machine domain.StateMachine
	if err := json.Unmarshal(raw, &machine); err != nil {
		return nil, false, err
	}
	return &machine, true, nil
}

func (c *RedisCache) Set(ctx context.Context, machine *domain.StateMachine) error {
	b, err := json.Marshal(machine)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, redisKeyPrefix+machine.CommerceID, b, c.ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, commerceID string) error {
	return c.client.Del(ctx, redisKeyPrefix+commerceID).Err()
}
