// Package redis provides Redis-based implementations of the store interfaces.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"cognicity-rem/internal/config"
	"cognicity-rem/internal/metrics"
	"cognicity-rem/internal/store"
)

const (
	storeName = "redis"

	// prefixDispatched is the key prefix for dispatch records.
	prefixDispatched = "rem:dispatched:"
)

// DispatchStore implements store.DispatchStore using Redis.
type DispatchStore struct {
	client *redis.Client
}

// NewDispatchStore creates a new Redis-backed dispatch store.
func NewDispatchStore(cfg *config.RedisConfig) (*DispatchStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewDispatchStoreWithClient(client), nil
}

// NewDispatchStoreWithClient wraps an existing client.
func NewDispatchStoreWithClient(client *redis.Client) *DispatchStore {
	return &DispatchStore{client: client}
}

// dispatchedKey generates the Redis key for an area's dispatch record.
func dispatchedKey(layer string, areaID int64) string {
	return fmt.Sprintf("%s%s:%d", prefixDispatched, layer, areaID)
}

// GetDispatched retrieves the record for an area.
func (s *DispatchStore) GetDispatched(ctx context.Context, layer string, areaID int64) (_ *store.DispatchRecord, err error) {
	defer observe("get_dispatched", time.Now(), &err)

	data, err := s.client.Get(ctx, dispatchedKey(layer, areaID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get dispatch record: %w", err)
	}

	var record store.DispatchRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dispatch record: %w", err)
	}

	return &record, nil
}

// SetDispatched stores or replaces the record for an area.
func (s *DispatchStore) SetDispatched(ctx context.Context, record *store.DispatchRecord) (err error) {
	defer observe("set_dispatched", time.Now(), &err)

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch record: %w", err)
	}

	if err := s.client.Set(ctx, dispatchedKey(record.Layer, record.AreaID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set dispatch record: %w", err)
	}

	return nil
}

// DeleteDispatched removes the record for an area.
func (s *DispatchStore) DeleteDispatched(ctx context.Context, layer string, areaID int64) (err error) {
	defer observe("delete_dispatched", time.Now(), &err)

	if err := s.client.Del(ctx, dispatchedKey(layer, areaID)).Err(); err != nil {
		return fmt.Errorf("failed to delete dispatch record: %w", err)
	}

	return nil
}

// Ping checks that Redis is reachable.
func (s *DispatchStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client connection.
func (s *DispatchStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func observe(operation string, start time.Time, err *error) {
	metrics.ObserveStorage(storeName, operation, time.Since(start).Seconds(), *err)
}
