package rules

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisMedium implements Medium as a single Redis string key
type RedisMedium struct {
	client *redis.Client
	key    string
}

// NewRedisMedium creates a Redis-backed slot stored under key
func NewRedisMedium(client *redis.Client, key string) *RedisMedium {
	return &RedisMedium{client: client, key: key}
}

// Read returns the value of the slot key
func (m *RedisMedium) Read(ctx context.Context) ([]byte, error) {
	data, err := m.client.Get(ctx, m.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSlotEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read redis key %s: %w", m.key, err)
	}
	return data, nil
}

// Write replaces the value of the slot key without expiry
func (m *RedisMedium) Write(ctx context.Context, data []byte) error {
	if err := m.client.Set(ctx, m.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write redis key %s: %w", m.key, err)
	}
	return nil
}
