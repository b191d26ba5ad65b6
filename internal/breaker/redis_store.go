// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package breaker

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned by RedisStateStore.Lock when another instance
// holds the breaker lock. gobreaker retries the lock on its own.
var ErrLockHeld = errors.New("breaker lock held by another instance")

// unlockScript deletes the lock only when it still carries our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

const defaultStoreOpTimeout = 2 * time.Second

// RedisStateStore implements gobreaker.SharedDataStore over Redis so that
// every gateway instance sees the same breaker state.
type RedisStateStore struct {
	client    redis.UniversalClient
	prefix    string
	lockTTL   time.Duration
	opTimeout time.Duration

	mu     sync.Mutex
	tokens map[string]string
}

// NewRedisStateStore creates a store writing keys under prefix. lockTTL
// bounds how long a crashed instance can hold the breaker lock.
func NewRedisStateStore(client redis.UniversalClient, prefix string, lockTTL time.Duration) *RedisStateStore {
	if lockTTL <= 0 {
		lockTTL = 5 * time.Second
	}
	return &RedisStateStore{
		client:    client,
		prefix:    prefix,
		lockTTL:   lockTTL,
		opTimeout: defaultStoreOpTimeout,
		tokens:    make(map[string]string),
	}
}

func (s *RedisStateStore) key(name string) string {
	return s.prefix + name
}

func (s *RedisStateStore) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.opTimeout)
}

// Lock implements gobreaker.SharedDataStore.
func (s *RedisStateStore) Lock(name string) error {
	token, err := randomToken()
	if err != nil {
		return err
	}
	ctx, cancel := s.ctx()
	defer cancel()

	ok, err := s.client.SetNX(ctx, s.key(name), token, s.lockTTL).Result()
	if err != nil {
		return fmt.Errorf("acquire breaker lock: %w", err)
	}
	if !ok {
		return ErrLockHeld
	}
	s.mu.Lock()
	s.tokens[name] = token
	s.mu.Unlock()
	return nil
}

// Unlock implements gobreaker.SharedDataStore.
func (s *RedisStateStore) Unlock(name string) error {
	s.mu.Lock()
	token, ok := s.tokens[name]
	delete(s.tokens, name)
	s.mu.Unlock()
	if !ok {
		return nil
	}

	ctx, cancel := s.ctx()
	defer cancel()
	if _, err := unlockScript.Run(ctx, s.client, []string{s.key(name)}, token).Int(); err != nil {
		return fmt.Errorf("release breaker lock: %w", err)
	}
	return nil
}

// GetData implements gobreaker.SharedDataStore. A missing key returns
// empty data, which gobreaker treats as a fresh closed breaker.
func (s *RedisStateStore) GetData(name string) ([]byte, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	data, err := s.client.Get(ctx, s.key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read breaker state: %w", err)
	}
	return data, nil
}

// SetData implements gobreaker.SharedDataStore.
func (s *RedisStateStore) SetData(name string, data []byte) error {
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.client.Set(ctx, s.key(name), data, 0).Err(); err != nil {
		return fmt.Errorf("write breaker state: %w", err)
	}
	return nil
}

func randomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
