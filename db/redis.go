package db

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	presenceKey         = "bossfight:presence"
	adminRateLimitTTL   = 10 * time.Second
	adminRateLimitLimit = 5
)

// Redis wraps a client used for overlay-presence tracking and admin
// command rate limiting. Grounded on the teacher's InitRedis
// connection setup (db/redis.go); the hash/TTL key patterns that used
// to back crash-bet state now back subscriber presence counts.
type Redis struct {
	client *redis.Client
}

// NewRedis dials redisURL and verifies connectivity, following the
// teacher's InitRedis construction sequence.
func NewRedis(ctx context.Context, redisURL string) (*Redis, error) {
	log.Println("🔌 Connecting to Redis...")

	password := os.Getenv("REDIS_PASSWORD")
	dbIndex := 0
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		if n, err := strconv.Atoi(dbStr); err == nil {
			dbIndex = n
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:         redisURL,
		Password:     password,
		DB:           dbIndex,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("db: failed to connect to Redis: %w", err)
	}

	log.Printf("✅ Redis connected successfully - URL: %s", redisURL)
	return &Redis{client: client}, nil
}

// Close releases the Redis client.
func (r *Redis) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// RecordPresence marks subscriberID as connected, storing the connect
// time (Unix seconds) as the hash field's value. Entries carry no TTL:
// an entry stays until ClearPresence is called for that subscriber.
func (r *Redis) RecordPresence(ctx context.Context, subscriberID string) error {
	if err := r.client.HSet(ctx, presenceKey, subscriberID, time.Now().Unix()).Err(); err != nil {
		return fmt.Errorf("db: failed to record presence: %w", err)
	}
	return nil
}

// ClearPresence removes subscriberID on clean disconnect.
func (r *Redis) ClearPresence(ctx context.Context, subscriberID string) error {
	if err := r.client.HDel(ctx, presenceKey, subscriberID).Err(); err != nil {
		return fmt.Errorf("db: failed to clear presence: %w", err)
	}
	return nil
}

// PresenceCount returns the number of currently tracked subscribers.
func (r *Redis) PresenceCount(ctx context.Context) (int64, error) {
	n, err := r.client.HLen(ctx, presenceKey).Result()
	if err != nil {
		return 0, fmt.Errorf("db: failed to count presence: %w", err)
	}
	return n, nil
}

// AllowAdminCommand applies a fixed-window rate limit over admin
// commands from a given wallet: at most adminRateLimitLimit commands
// per adminRateLimitTTL window. Returns false when the caller should
// be refused.
func (r *Redis) AllowAdminCommand(ctx context.Context, wallet string) (bool, error) {
	key := fmt.Sprintf("bossfight:adminrate:%s", wallet)

	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("db: failed to increment admin rate counter: %w", err)
	}
	if count == 1 {
		r.client.Expire(ctx, key, adminRateLimitTTL)
	}
	return count <= adminRateLimitLimit, nil
}

// HealthCheck performs a Redis connectivity check for /api/health.
func (r *Redis) HealthCheck(ctx context.Context) error {
	if r.client == nil {
		return fmt.Errorf("db: redis client not initialized")
	}
	return r.client.Ping(ctx).Err()
}
