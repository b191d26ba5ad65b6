// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryEntry struct {
	session  *Session
	deadline time.Time
}

// MemoryStore keeps sessions in process memory. For development, tests and
// single-instance deployments that accept losing sessions on restart.
type MemoryStore struct {
	*KeyedMutex

	mu       sync.RWMutex
	sessions map[string]memoryEntry
	index    map[string]map[string]time.Time
	now      func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		KeyedMutex: NewKeyedMutex(),
		sessions:   make(map[string]memoryEntry),
		index:      make(map[string]map[string]time.Time),
		now:        time.Now,
	}
}

func (m *MemoryStore) Name() string { return "memory" }

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok || m.now().After(e.deadline) {
		return nil, ErrNotFound
	}
	return e.session.Clone(), nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, s *Session, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = memoryEntry{session: s.Clone(), deadline: m.now().Add(ttl)}
	idx, ok := m.index[s.UserID]
	if !ok {
		idx = make(map[string]time.Time)
		m.index[s.UserID] = idx
	}
	idx[s.ID] = s.CreatedAt
	return nil
}

// Update implements Store.
func (m *MemoryStore) Update(_ context.Context, s *Session, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[s.ID]
	if !ok || m.now().After(e.deadline) {
		return ErrNotFound
	}
	m.sessions[s.ID] = memoryEntry{session: s.Clone(), deadline: m.now().Add(ttl)}
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteLocked(userID, id)
	return nil
}

func (m *MemoryStore) deleteLocked(userID, id string) {
	delete(m.sessions, id)
	if idx, ok := m.index[userID]; ok {
		delete(idx, id)
		if len(idx) == 0 {
			delete(m.index, userID)
		}
	}
}

// ListIndex implements Store.
func (m *MemoryStore) ListIndex(_ context.Context, userID string) ([]IndexEntry, error) {
	m.mu.RLock()
	idx := m.index[userID]
	entries := make([]IndexEntry, 0, len(idx))
	for id, created := range idx {
		entries = append(entries, IndexEntry{SessionID: id, CreatedAt: created})
	}
	m.mu.RUnlock()
	sortIndex(entries)
	return entries, nil
}

// RemoveFromIndex implements Store.
func (m *MemoryStore) RemoveFromIndex(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx, ok := m.index[userID]; ok {
		delete(idx, id)
		if len(idx) == 0 {
			delete(m.index, userID)
		}
	}
	return nil
}

// Sweep implements Store. Entries past their store deadline are always
// removed.
func (m *MemoryStore) Sweep(_ context.Context, remove func(*Session) bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for id, e := range m.sessions {
		if now.After(e.deadline) || remove(e.session) {
			m.deleteLocked(e.session.UserID, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored sessions, including ones past their
// deadline that have not been swept.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *MemoryStore) Close() error { return nil }

func sortIndex(entries []IndexEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].SessionID < entries[j].SessionID
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}
