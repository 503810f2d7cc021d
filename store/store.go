// Package store persists job result snapshots in Redis so they survive
// process restarts. A nil client degrades every operation to a no-op, which
// keeps Redis strictly optional.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/appraisio/acore/config"
	"github.com/redis/go-redis/v9"
)

// Connect creates a Redis client and verifies the connection.
func Connect(conf *config.Redis) (*redis.Client, error) {
	if conf == nil || conf.Addr == "" {
		return nil, errors.New("redis configuration is nil or empty")
	}

	rc := redis.NewClient(&redis.Options{
		Addr:         conf.Addr,
		Username:     conf.Username,
		Password:     conf.Password,
		DB:           conf.Db,
		ReadTimeout:  conf.ReadTimeout,
		WriteTimeout: conf.WriteTimeout,
		DialTimeout:  conf.DialTimeout,
		PoolSize:     10,
	})

	dialTimeout := conf.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("redis connect error: %v", err)
	}

	return rc, nil
}

// Store persists values of one type under a shared key prefix.
type Store[T any] struct {
	rc     *redis.Client
	prefix string
}

// NewStore creates a store. rc may be nil; all operations then no-op.
func NewStore[T any](rc *redis.Client, prefix string) *Store[T] {
	return &Store[T]{rc: rc, prefix: prefix}
}

func (s *Store[T]) key(id string) string {
	return fmt.Sprintf("%s:%s", s.prefix, id)
}

// Get retrieves a value. A miss and a nil client both return (nil, nil).
func (s *Store[T]) Get(ctx context.Context, id string) (*T, error) {
	if s.rc == nil {
		return nil, nil
	}

	result, err := s.rc.Get(ctx, s.key(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	var row T
	if err = json.Unmarshal([]byte(result), &row); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &row, nil
}

// Set saves a value with an optional expiry.
func (s *Store[T]) Set(ctx context.Context, id string, data *T, expire ...time.Duration) error {
	if s.rc == nil {
		return nil
	}

	bytes, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	exp := time.Duration(0)
	if len(expire) > 0 {
		exp = expire[0]
	}
	if err = s.rc.Set(ctx, s.key(id), bytes, exp).Err(); err != nil {
		return fmt.Errorf("failed to set snapshot: %w", err)
	}
	return nil
}

// Delete removes a value.
func (s *Store[T]) Delete(ctx context.Context, id string) error {
	if s.rc == nil {
		return nil
	}
	if err := s.rc.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}
