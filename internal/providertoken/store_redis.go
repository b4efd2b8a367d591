package providertoken

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "provider_token:"

// RedisStore shares tokens across replicas.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, provider string) (Token, bool, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+provider).Bytes()
	if errors.Is(err, redis.Nil) {
		return Token{}, false, nil
	}
	if err != nil {
		return Token{}, false, err
	}
	var token Token
	if err := json.Unmarshal(raw, &token); err != nil {
		return Token{}, false, err
	}
	return token, true, nil
}

func (s *RedisStore) Set(ctx context.Context, provider string, token Token, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(token)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, redisKeyPrefix+provider, raw, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, provider string) error {
	return s.client.Del(ctx, redisKeyPrefix+provider).Err()
}
