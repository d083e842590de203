package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/angelmondragon/smmhub-backend/pkg/redis"
)

// Guard marks keys as processed per scope using Redis SETNX with a TTL.
// Keys follow the `smm:idempotency:<scope>:<key>` pattern.
type Guard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

func NewGuard(store redis.IdempotencyStore, ttl time.Duration) (*Guard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Guard{store: store, ttl: ttl}, nil
}

// CheckAndMark returns true when key was already marked in scope and otherwise
// marks it for the configured TTL.
func (g *Guard) CheckAndMark(ctx context.Context, scope, key string) (bool, error) {
	redisKey, err := g.key(scope, key)
	if err != nil {
		return false, err
	}
	set, err := g.store.SetNX(ctx, redisKey, "1", g.ttl)
	if err != nil {
		return false, err
	}
	return !set, nil
}

// Release clears the mark so a retry can pass the guard again.
func (g *Guard) Release(ctx context.Context, scope, key string) error {
	redisKey, err := g.key(scope, key)
	if err != nil {
		return err
	}
	return g.store.Del(ctx, redisKey)
}

func (g *Guard) key(scope, key string) (string, error) {
	if strings.TrimSpace(scope) == "" {
		return "", errors.New("scope is required")
	}
	if strings.TrimSpace(key) == "" {
		return "", errors.New("key is required")
	}
	return g.store.IdempotencyKey(scope, key), nil
}
