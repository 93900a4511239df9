// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Rdb is the global Redis client. Connect it once at application startup.
var Rdb *redis.Client

// ErrRedisUnavailable reports that the Redis client was never connected.
// All cache operations are best-effort; callers log and move on.
var ErrRedisUnavailable = errors.New("redis unavailable")

// DefaultResultQueueName is the Redis list holding match results that failed
// to persist to Postgres and await replay.
var DefaultResultQueueName = "worldpeace_pending_results"

// onlineCountKey tracks the number of live websocket connections.
const onlineCountKey = "worldpeace_online_count"

// PendingResultRecord holds everything needed to replay a failed match-result
// write against the database.
type PendingResultRecord struct {
	MatchID   uuid.UUID `json:"match_id"`
	WinnerID  uuid.UUID `json:"winner_id"`
	LoserID   uuid.UUID `json:"loser_id"`
	Abandoned bool      `json:"abandoned"`
	Timestamp int64     `json:"timestamp"`
}

// ConnectRedis initializes the global Redis client with environment variables:
//   - REDIS_ADDR (default "localhost:6379")
//   - REDIS_DB (optional, default 0)
func ConnectRedis() error {
	addr := getEnv("REDIS_ADDR", "localhost:6379")
	dbIdx := getEnvInt("REDIS_DB", 0)

	Rdb = redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   dbIdx,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := Rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return nil
}

// EnqueuePendingResult serializes the record to JSON and pushes it onto the
// retry queue. A background sweeper drains the queue once Postgres recovers.
func EnqueuePendingResult(ctx context.Context, record PendingResultRecord) error {
	if Rdb == nil {
		return ErrRedisUnavailable
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal PendingResultRecord: %w", err)
	}

	queueName := getEnv("RESULT_QUEUE_NAME", DefaultResultQueueName)
	if err := Rdb.RPush(ctx, queueName, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", queueName, err)
	}
	return nil
}

// DequeuePendingResult pops the oldest queued result, if any. Returns nil
// with no error when the queue is empty.
func DequeuePendingResult(ctx context.Context) (*PendingResultRecord, error) {
	if Rdb == nil {
		return nil, ErrRedisUnavailable
	}
	queueName := getEnv("RESULT_QUEUE_NAME", DefaultResultQueueName)
	data, err := Rdb.LPop(ctx, queueName).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to LPop from Redis list '%s': %w", queueName, err)
	}
	var rec PendingResultRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal PendingResultRecord: %w", err)
	}
	return &rec, nil
}

// IncrOnlineCount bumps the live connection counter and returns the new value.
func IncrOnlineCount(ctx context.Context) (int64, error) {
	if Rdb == nil {
		return 0, ErrRedisUnavailable
	}
	return Rdb.Incr(ctx, onlineCountKey).Result()
}

// DecrOnlineCount decrements the live connection counter, clamping at zero
// if a stale decrement races a restart.
func DecrOnlineCount(ctx context.Context) (int64, error) {
	if Rdb == nil {
		return 0, ErrRedisUnavailable
	}
	n, err := Rdb.Decr(ctx, onlineCountKey).Result()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		Rdb.Set(ctx, onlineCountKey, 0, 0)
		n = 0
	}
	return n, nil
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
