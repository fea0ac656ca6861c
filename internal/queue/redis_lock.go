// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package queue

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DistributedLock is an optional Redis-backed mutual-exclusion lock
// for the claim step of ProcessJobs when multiple Queue instances
// share one Relational Store, grounded on the teacher's
// internal/queue/redis_queue.go Redis client usage. Single-process
// deployments never construct one; ClaimBatch's own compare-and-swap
// UPDATE is sufficient by itself.
type DistributedLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	token  string
}

func NewDistributedLock(client *redis.Client, key string, ttl time.Duration) *DistributedLock {
	return &DistributedLock{client: client, key: key, ttl: ttl}
}

// TryAcquire attempts a non-blocking SET NX EX; returns false if
// another process already holds the lock.
func (l *DistributedLock) TryAcquire(ctx context.Context) (bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		log.Printf("queue: redis lock acquire failed for key=%s: %v", l.key, err)
		return false, err
	}
	if ok {
		l.token = token
	}
	return ok, nil
}

// Release deletes the lock key iff it still holds the token this
// instance set, so a stale caller cannot release a lock another
// process has since acquired after TTL expiry.
func (l *DistributedLock) Release(ctx context.Context) error {
	if l.token == "" {
		return nil
	}
	val, err := l.client.Get(ctx, l.key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if val != l.token {
		return nil
	}
	return l.client.Del(ctx, l.key).Err()
}
