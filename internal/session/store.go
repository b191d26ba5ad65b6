// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when a session does not exist in the store.
var ErrNotFound = errors.New("session not found")

// ErrLockTimeout is returned when a session lock could not be acquired.
var ErrLockTimeout = errors.New("session lock wait exceeded")

// Locker serializes work on a key ("user:<id>" or "session:<id>").
type Locker interface {
	// Lock blocks until key is held or ctx is done.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Store persists sessions and the per-user session index. Only the
// Manager writes to it.
type Store interface {
	Locker

	// Name identifies the backend in logs and metrics.
	Name() string
	// Get returns ErrNotFound when the session is absent.
	Get(ctx context.Context, id string) (*Session, error)
	// Save creates s and adds it to its user's index. ttl bounds how long
	// the backend keeps it.
	Save(ctx context.Context, s *Session, ttl time.Duration) error
	// Update overwrites s only if it still exists, else ErrNotFound. A
	// session deleted concurrently is never resurrected.
	Update(ctx context.Context, s *Session, ttl time.Duration) error
	// Delete removes the session and its index entry. Missing is not an error.
	Delete(ctx context.Context, userID, id string) error
	// ListIndex returns the user's index, oldest first. Entries may point
	// to sessions that no longer exist.
	ListIndex(ctx context.Context, userID string) ([]IndexEntry, error)
	RemoveFromIndex(ctx context.Context, userID, id string) error
	// Sweep deletes every session for which remove returns true and
	// returns the count.
	Sweep(ctx context.Context, remove func(*Session) bool) (int, error)
	Close() error
}

// KeyedMutex is an in-process Locker. Lock entries are reference counted
// and dropped when unused.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex creates an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock implements Locker.
func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			k.release(key, l)
		})
	}, nil
}

func (k *KeyedMutex) release(key string, l *keyedLock) {
	k.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
}

func (k *KeyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
