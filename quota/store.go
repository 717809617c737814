// Copyright 2025 FlowGate
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Store wraps a Redis connection pool with the counter and hash
// operations the enforcer needs. All counters carry a TTL so that
// abandoned tenants do not accumulate keys.
type Store struct {
	client *redis.Client
}

// NewStore connects to Redis and verifies the connection.
// URL format: redis://host:port or redis://host:port/db
func NewStore(redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{client: client}, nil
}

// NewStoreWithClient wraps an existing client. Used by tests and by
// components that share one connection pool.
func NewStoreWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Client exposes the underlying connection for components that need
// operations the Store does not wrap (e.g. the job queue).
func (s *Store) Client() *redis.Client {
	return s.client
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// IncrementBy atomically adds delta to a counter and refreshes its TTL.
func (s *Store) IncrementBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	pipe := s.client.Pipeline()
	incr := pipe.IncrBy(ctx, key, delta)
	pipe.Expire(ctx, key, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment %s: %w", key, err)
	}
	return incr.Val(), nil
}

// GetInt reads an integer counter. A missing key reads as zero.
func (s *Store) GetInt(ctx context.Context, key string) (int64, error) {
	val, err := s.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return val, nil
}

// HashGetAll reads all fields of a hash. A missing key yields an empty map.
func (s *Store) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	data, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read hash %s: %w", key, err)
	}
	return data, nil
}

// HashIncrement atomically increments a hash field and refreshes the
// key's TTL, returning the new value.
func (s *Store) HashIncrement(ctx context.Context, key, field string, ttl time.Duration) (int64, error) {
	pipe := s.client.Pipeline()
	incr := pipe.HIncrBy(ctx, key, field, 1)
	pipe.Expire(ctx, key, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment hash %s.%s: %w", key, field, err)
	}
	return incr.Val(), nil
}

// HashSet writes one or more hash fields.
func (s *Store) HashSet(ctx context.Context, key string, fields map[string]interface{}) error {
	if err := s.client.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("failed to set hash %s: %w", key, err)
	}
	return nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
