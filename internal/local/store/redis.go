package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"authcore/internal/platform/redis"
	"authcore/pkg/sentinel"
)

// RedisTokenStore keeps opaque token claims in redis with the token lifetime
// as the key TTL, so expiry needs no reaper. Redemption uses GETDEL for the
// single-use guarantee across instances.
type RedisTokenStore struct {
	client *redis.Client
	prefix string
}

func NewRedisTokenStore(client *redis.Client, prefix string) *RedisTokenStore {
	if prefix == "" {
		prefix = "authcore:token:"
	}
	return &RedisTokenStore{client: client, prefix: prefix}
}

func (s *RedisTokenStore) key(token string) string { return s.prefix + token }

func (s *RedisTokenStore) Save(ctx context.Context, token string, claims map[string]any, ttl time.Duration) error {
	raw, err := json.Marshal(claims)
	if err != nil {
		return fmt.Errorf("marshal token claims: %w", err)
	}
	if err := s.client.Set(ctx, s.key(token), raw, ttl).Err(); err != nil {
		return fmt.Errorf("save token claims: %w", err)
	}
	return nil
}

func (s *RedisTokenStore) Claims(ctx context.Context, token string) (map[string]any, error) {
	raw, err := s.client.Get(ctx, s.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get token claims: %w", err)
	}
	return unmarshalClaims(raw)
}

func (s *RedisTokenStore) Redeem(ctx context.Context, token string) (map[string]any, error) {
	raw, err := s.client.GetDel(ctx, s.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("redeem token claims: %w", err)
	}
	return unmarshalClaims(raw)
}

func unmarshalClaims(raw []byte) (map[string]any, error) {
	var claims map[string]any
	if err := json.Unmarshal(raw, &claims); err != nil {
		return nil, fmt.Errorf("unmarshal token claims: %w", err)
	}
	return claims, nil
}
