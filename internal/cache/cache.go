// Package cache stores decoded LLM analyses so repeated runs over unchanged
// content skip the model call.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "compintel:"

// AnalysisCache looks up and stores analysis JSON by key.
type AnalysisCache interface {
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)
	Set(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error
}

// Redis is an AnalysisCache backed by a Redis server.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to addr and verifies the server with PING.
func NewRedis(ctx context.Context, addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return &Redis{client: client}, nil
}

// Get implements AnalysisCache.
func (r *Redis) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	raw, err := r.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return json.RawMessage(raw), true, nil
}

// Set implements AnalysisCache. A zero ttl keeps the entry until evicted.
func (r *Redis) Set(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error {
	if err := r.client.Set(ctx, keyPrefix+key, []byte(value), ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Noop never hits and discards writes.
type Noop struct{}

// Get implements AnalysisCache.
func (Noop) Get(context.Context, string) (json.RawMessage, bool, error) { return nil, false, nil }

// Set implements AnalysisCache.
func (Noop) Set(context.Context, string, json.RawMessage, time.Duration) error { return nil }
