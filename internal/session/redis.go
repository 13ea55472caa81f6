package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// Redis keeps the selection under one key so every replica sees the same
// player on the block.
type Redis struct {
	client *redis.Client
	key    string
}

// NewRedis returns a Store that uses key on client.
func NewRedis(client *redis.Client, key string) *Redis {
	return &Redis{client: client, key: key}
}

func (r *Redis) Get(ctx context.Context) (Current, error) {
	raw, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Current{}, nil
	}
	if err != nil {
		return Current{}, fmt.Errorf("reading current auction: %w", err)
	}

	var c Current
	if err := json.Unmarshal(raw, &c); err != nil {
		return Current{}, fmt.Errorf("decoding current auction: %w", err)
	}
	return c, nil
}

func (r *Redis) Set(ctx context.Context, c Current) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding current auction: %w", err)
	}
	if err := r.client.Set(ctx, r.key, raw, 0).Err(); err != nil {
		return fmt.Errorf("writing current auction: %w", err)
	}
	return nil
}

func (r *Redis) Reset(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("clearing current auction: %w", err)
	}
	return nil
}
