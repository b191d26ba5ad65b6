// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// unlockScript releases a lock only if it still carries our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStoreConfig configures RedisStore.
type RedisStoreConfig struct {
	// KeyPrefix namespaces every key, e.g. "carelink:".
	KeyPrefix string
	// LockTTL bounds how long a crashed holder keeps a lock.
	LockTTL time.Duration
	// LockWait bounds how long Lock waits before ErrLockTimeout.
	LockWait time.Duration
}

// RedisStore keeps sessions in Redis so several gateway instances share
// them. Locks are Redis keys, so per-user and per-session critical
// sections hold across instances.
//
// Keys:
//
//	<prefix>session:<id>         session JSON, PX = store TTL
//	<prefix>user_sessions:<uid>  sorted set of session IDs scored by creation time
//	<prefix>lock:<key>           lock token
type RedisStore struct {
	client   redis.UniversalClient
	prefix   string
	lockTTL  time.Duration
	lockWait time.Duration
}

// NewRedisStore creates a store over client.
func NewRedisStore(client redis.UniversalClient, cfg RedisStoreConfig) *RedisStore {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Second
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 3 * time.Second
	}
	return &RedisStore{
		client:   client,
		prefix:   cfg.KeyPrefix,
		lockTTL:  cfg.LockTTL,
		lockWait: cfg.LockWait,
	}
}

// NewRedisClient connects to addr and pings it.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

func (s *RedisStore) Name() string { return "redis" }

func (s *RedisStore) sessionKey(id string) string {
	return s.prefix + "session:" + id
}

func (s *RedisStore) indexKey(userID string) string {
	return s.prefix + "user_sessions:" + userID
}

func (s *RedisStore) lockKey(key string) string {
	return s.prefix + "lock:" + key
}

// Lock implements Locker with SET NX PX and bounded polling.
func (s *RedisStore) Lock(ctx context.Context, key string) (func(), error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate lock token: %w", err)
	}
	token := hex.EncodeToString(b)
	lk := s.lockKey(key)

	deadline := time.Now().Add(s.lockWait)
	backoff := 5 * time.Millisecond
	for {
		ok, err := s.client.SetNX(ctx, lk, token, s.lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 100*time.Millisecond {
			backoff *= 2
		}
	}

	return func() {
		// release even when the request context is already canceled
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = unlockScript.Run(ctx, s.client, []string{lk}, token).Err()
	}, nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.client.Get(ctx, s.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.sessionKey(sess.ID), data, ttl)
		pipe.ZAdd(ctx, s.indexKey(sess.UserID), redis.Z{
			Score:  float64(sess.CreatedAt.UnixNano()),
			Member: sess.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Update implements Store with SET XX.
func (s *RedisStore) Update(ctx context.Context, sess *Session, ttl time.Duration) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ok, err := s.client.SetXX(ctx, s.sessionKey(sess.ID), data, ttl).Result()
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, userID, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.sessionKey(id))
		pipe.ZRem(ctx, s.indexKey(userID), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// ListIndex implements Store.
func (s *RedisStore) ListIndex(ctx context.Context, userID string) ([]IndexEntry, error) {
	zs, err := s.client.ZRangeWithScores(ctx, s.indexKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list user sessions: %w", err)
	}
	entries := make([]IndexEntry, 0, len(zs))
	for _, z := range zs {
		id, ok := z.Member.(string)
		if !ok {
			continue
		}
		entries = append(entries, IndexEntry{
			SessionID: id,
			CreatedAt: time.Unix(0, int64(z.Score)).UTC(),
		})
	}
	sortIndex(entries)
	return entries, nil
}

// RemoveFromIndex implements Store.
func (s *RedisStore) RemoveFromIndex(ctx context.Context, userID, id string) error {
	if err := s.client.ZRem(ctx, s.indexKey(userID), id).Err(); err != nil {
		return fmt.Errorf("remove index entry: %w", err)
	}
	return nil
}

// Sweep implements Store. Redis expires session keys by itself; this pass
// catches sessions the manager considers dead before their TTL.
func (s *RedisStore) Sweep(ctx context.Context, remove func(*Session) bool) (int, error) {
	pattern := s.sessionKey("*")
	n := 0
	iter := s.client.Scan(ctx, 0, pattern, 200).Iterator()
	for iter.Next(ctx) {
		id := strings.TrimPrefix(iter.Val(), s.sessionKey(""))
		sess, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return n, err
		}
		if !remove(sess) {
			continue
		}
		if err := s.Delete(ctx, sess.UserID, sess.ID); err != nil {
			return n, err
		}
		n++
	}
	if err := iter.Err(); err != nil {
		return n, fmt.Errorf("scan sessions: %w", err)
	}
	return n, nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
