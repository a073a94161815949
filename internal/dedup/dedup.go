// Copyright (c) 2026 John Earle
//
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

// Package dedup provides a Redis-backed idempotency guard for send
// requests. A client that repeats a request with the same Idempotency-Key
// inside the TTL is told the request is a duplicate instead of sending a
// second email.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long a claimed key blocks repeats.
	DefaultTTL = 24 * time.Hour

	// keyPrefix namespaces idempotency keys in Redis.
	keyPrefix = "serve-mailer:idem:"
)

// Guard claims idempotency keys in Redis.
type Guard struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewGuard creates a guard. A non-positive ttl selects DefaultTTL.
func NewGuard(rdb *redis.Client, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{
		rdb: rdb,
		ttl: ttl,
	}
}

// Claim reports whether key was unclaimed, claiming it if so.
func (g *Guard) Claim(ctx context.Context, key string) (bool, error) {
	// SET NX = set only if key does not exist. Returns true if the key was set.
	set, err := g.rdb.SetNX(ctx, redisKey(key), 1, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency SETNX: %w", err)
	}
	return set, nil
}

// Release forgets a claimed key so a failed request can be retried.
func (g *Guard) Release(ctx context.Context, key string) error {
	if err := g.rdb.Del(ctx, redisKey(key)).Err(); err != nil {
		return fmt.Errorf("idempotency DEL: %w", err)
	}
	return nil
}

// Ping checks connectivity to Redis.
func (g *Guard) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return g.rdb.Ping(ctx).Err()
}

func redisKey(key string) string {
	return keyPrefix + key
}
