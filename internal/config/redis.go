package config

import (
	"context"
	"log"
	"os"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/northbound/knowledge-core/internal/apperr"
)

// NewRedisClient builds the Redis client backing queue.DistributedLock's
// multi-process lock (optional; only needed when running more than one
// engine process against the same job queue). Reads
// KNOWLEDGE_CORE_REDIS_ADDR (default 127.0.0.1:6379),
// KNOWLEDGE_CORE_REDIS_DB (default 0), and
// KNOWLEDGE_CORE_REDIS_PASSWORD (optional), following the same
// KNOWLEDGE_CORE_-prefixed convention as internal/config/engine.go.
func NewRedisClient(ctx context.Context) (*redis.Client, error) {
	addr := os.Getenv("KNOWLEDGE_CORE_REDIS_ADDR")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}

	dbStr := os.Getenv("KNOWLEDGE_CORE_REDIS_DB")
	if dbStr == "" {
		dbStr = "0"
	}
	db, err := strconv.Atoi(dbStr)
	if err != nil {
		log.Printf("NewRedisClient: invalid KNOWLEDGE_CORE_REDIS_DB value %q, using default 0", dbStr)
		db = 0
	}

	password := os.Getenv("KNOWLEDGE_CORE_REDIS_PASSWORD")

	log.Printf("NewRedisClient: addr=%s db=%d passwordSet=%v", addr, db, password != "")

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		DB:       db,
		Password: password,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("NewRedisClient: failed to ping Redis: %v", err)
		return nil, apperr.Storage("connect to redis for distributed lock", err)
	}

	log.Printf("NewRedisClient: successfully connected to Redis")
	return client, nil
}

