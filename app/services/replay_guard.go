// Package services provides external service integrations and technical concerns like notifications and tokens
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayGuard short-circuits webhook deliveries that were already processed.
// It is an optimization in front of the database unique index, not the
// authority: a cache miss or cache outage only costs a duplicate-key round
// trip, so errors here must never block processing.
type ReplayGuard interface {
	Seen(ctx context.Context, provider string, updateID int64) bool
	Remember(ctx context.Context, provider string, updateID int64) error
}

// RedisReplayGuard implements ReplayGuard on Redis with a TTL per entry
type RedisReplayGuard struct {
	rc  *redis.Client
	ttl time.Duration
}

func NewRedisReplayGuard(rc *redis.Client, ttl time.Duration) ReplayGuard {
	return &RedisReplayGuard{
		rc:  rc,
		ttl: ttl,
	}
}

func replayKey(provider string, updateID int64) string {
	return fmt.Sprintf("webhook:seen:%s:%d", provider, updateID)
}

// Seen reports whether this delivery was already fully processed.
// Cache errors read as "not seen" so the delivery falls through to the
// database check.
func (g *RedisReplayGuard) Seen(ctx context.Context, provider string, updateID int64) bool {
	n, err := g.rc.Exists(ctx, replayKey(provider, updateID)).Result()
	if err != nil {
		return false
	}
	return n > 0
}

// Remember marks a delivery as processed. Callers only do this after the
// outcome is terminal; an entry written for an in-flight delivery would
// suppress the redelivery that recovers a crashed attempt.
func (g *RedisReplayGuard) Remember(ctx context.Context, provider string, updateID int64) error {
	return g.rc.Set(ctx, replayKey(provider, updateID), 1, g.ttl).Err()
}

// MockReplayGuard is an in-memory ReplayGuard for tests
type MockReplayGuard struct {
	mu   sync.Mutex
	seen map[string]bool
}

func NewMockReplayGuard() *MockReplayGuard {
	return &MockReplayGuard{
		seen: make(map[string]bool),
	}
}

func (g *MockReplayGuard) Seen(ctx context.Context, provider string, updateID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seen[replayKey(provider, updateID)]
}

func (g *MockReplayGuard) Remember(ctx context.Context, provider string, updateID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seen[replayKey(provider, updateID)] = true
	return nil
}
