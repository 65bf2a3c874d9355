// Package core provides the ambient stack shared by every subsystem of the
// HITL support orchestrator: structured logging, telemetry, circuit
// breaking, and a namespaced Redis client wrapper used by the agent
// directory and the request queue when they are configured for the
// Redis-backed deployment instead of the in-memory one.
//
// Database Allocation:
//   - DB 0: human agent directory (identity + real-time state)
//   - DB 1: request queue
//   - DB 2: context store cache
//   - DB 3: circuit breaker state
//   - DB 4-15: available for extensions
package core

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisClient provides a namespaced Redis interface with DB isolation so
// the directory, queue, and context store can share one Redis deployment
// without colliding keys.
type RedisClient struct {
	client    *redis.Client
	dbID      int
	namespace string
	logger    Logger
}

// RedisClientOptions configures the Redis client.
type RedisClientOptions struct {
	RedisURL  string
	DB        int
	Namespace string
	Logger    Logger
}

// NewRedisClient creates a new Redis client with specified options, verifying
// connectivity before returning.
func NewRedisClient(opts RedisClientOptions) (*RedisClient, error) {
	if opts.RedisURL == "" {
		return nil, fmt.Errorf("redis URL is required: %w", ErrInvalidConfiguration)
	}

	redisOpt, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", ErrInvalidConfiguration)
	}

	if opts.DB >= 0 && opts.DB <= 15 {
		redisOpt.DB = opts.DB
	}

	client := redis.NewClient(redisOpt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis DB %d: %w", opts.DB, ErrConnectionFailed)
	}

	rc := &RedisClient{
		client:    client,
		dbID:      opts.DB,
		namespace: opts.Namespace,
		logger:    opts.Logger,
	}

	if rc.logger != nil {
		rc.logger.Info("redis client connected", map[string]interface{}{
			"db":        opts.DB,
			"db_name":   GetRedisDBName(opts.DB),
			"namespace": opts.Namespace,
		})
	}

	return rc, nil
}

// Raw exposes the underlying client for callers that need operations this
// wrapper doesn't cover (sorted sets for the priority queue, pub/sub for
// cross-instance command delivery, etc).
func (r *RedisClient) Raw() *redis.Client { return r.client }

// Close closes the Redis connection.
func (r *RedisClient) Close() error {
	return r.client.Close()
}

func (r *RedisClient) formatKey(key string) string {
	if r.namespace != "" {
		return fmt.Sprintf("%s:%s", r.namespace, key)
	}
	return key
}

// Key returns the namespaced form of key, for callers building raw
// redis.Client calls (ZAdd, pipelines, etc) that need the same prefixing
// this wrapper applies internally.
func (r *RedisClient) Key(key string) string { return r.formatKey(key) }

// Get retrieves a value.
func (r *RedisClient) Get(ctx context.Context, key string) (string, error) {
	return r.client.Get(ctx, r.formatKey(key)).Result()
}

// Set stores a value with optional TTL.
func (r *RedisClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return r.client.Set(ctx, r.formatKey(key), value, ttl).Err()
}

// Del deletes keys.
func (r *RedisClient) Del(ctx context.Context, keys ...string) error {
	formatted := make([]string, len(keys))
	for i, key := range keys {
		formatted[i] = r.formatKey(key)
	}
	return r.client.Del(ctx, formatted...).Err()
}

// Pipeline creates a pipeline for batched operations (used by
// contextstore.RedisStore to append and trim an interaction history in
// one round trip).
func (r *RedisClient) Pipeline() redis.Pipeliner {
	return r.client.Pipeline()
}

// HealthCheck verifies Redis connectivity.
func (r *RedisClient) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// --- Standard Redis DB allocation ---

const (
	RedisDBDirectory      = 0
	RedisDBQueue          = 1
	RedisDBContextStore   = 2
	RedisDBCircuitBreaker = 3

	RedisDBReservedStart = 4
	RedisDBReservedEnd   = 15
)

// IsReservedDB returns true if the DB number is reserved for future
// extensions rather than one of the allocations above.
func IsReservedDB(db int) bool {
	return db >= RedisDBReservedStart && db <= RedisDBReservedEnd
}

// GetRedisDBName returns a human-readable name for the Redis DB, used in
// logs so an operator can tell at a glance which subsystem a key belongs to.
func GetRedisDBName(db int) string {
	switch db {
	case RedisDBDirectory:
		return "Agent Directory"
	case RedisDBQueue:
		return "Request Queue"
	case RedisDBContextStore:
		return "Context Store"
	case RedisDBCircuitBreaker:
		return "Circuit Breaker"
	default:
		if IsReservedDB(db) {
			return fmt.Sprintf("Reserved DB %d", db)
		}
		return fmt.Sprintf("DB %d", db)
	}
}
