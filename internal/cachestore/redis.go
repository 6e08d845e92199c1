// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package cachestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pdiddy/catalog-enricher/pkg/types"
)

func dialRedis(ctx context.Context, cfg types.RedisConfig) (*redis.Client, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// RedisStore keeps each object as one string key. SET replaces the value
// atomically.
type RedisStore struct {
	rdb    redis.Cmdable
	prefix string
}

// NewRedisStore returns a store that prefixes every key with prefix.
func NewRedisStore(rdb redis.Cmdable, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix}
}

// Read returns the value of the named key, or ErrNotFound.
func (s *RedisStore) Read(ctx context.Context, name string) ([]byte, error) {
	data, err := s.rdb.Get(ctx, s.prefix+name).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get %s: %w", name, err)
	}
	return data, nil
}

// Write sets the named key to data with no expiry.
func (s *RedisStore) Write(ctx context.Context, name string, data []byte) error {
	if err := s.rdb.Set(ctx, s.prefix+name, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", name, err)
	}
	return nil
}

// unlockScript deletes the lock key only while it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lock lease only while the key still holds our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker holds run locks as keys with a lease. A held lock renews its
// lease every third of the lease until it is released, so only a crashed run
// lets the lock expire.
type RedisLocker struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisLocker returns a locker whose locks expire ttl after their holder
// stops renewing them.
func NewRedisLocker(rdb redis.Cmdable, prefix string, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &RedisLocker{rdb: rdb, prefix: prefix, ttl: ttl}
}

// Lock sets prefix+"lock:"+name if absent.
func (l *RedisLocker) Lock(ctx context.Context, name string) (func(context.Context) error, error) {
	key := l.prefix + "lock:" + name
	token := uuid.NewString()

	acquired, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	if !acquired {
		return nil, fmt.Errorf("%w (%s)", ErrLocked, key)
	}

	stop := make(chan struct{})
	renewed := make(chan struct{})
	go l.renew(context.WithoutCancel(ctx), key, token, stop, renewed)

	var once sync.Once
	return func(ctx context.Context) error {
		once.Do(func() {
			close(stop)
			<-renewed
		})
		if err := unlockScript.Run(ctx, l.rdb, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("releasing %s: %w", key, err)
		}
		return nil
	}, nil
}

// renew extends the lease of key until stop is closed or the key no longer
// holds token. Failed renewals are retried on the next tick.
func (l *RedisLocker) renew(ctx context.Context, key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	t := time.NewTicker(l.ttl / 3)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
		}
		n, err := renewScript.Run(ctx, l.rdb, []string{key}, token, l.ttl.Milliseconds()).Int64()
		if err == nil && n == 0 {
			return
		}
	}
}
