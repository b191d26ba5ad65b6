// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package session

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// Key prefixes for BadgerDB storage
const (
	sessionKeyPrefix     = "session:"
	sessionUserKeyPrefix = "session_user:"
)

// BadgerStore persists sessions in BadgerDB. Entries carry a TTL so the
// database drops them on its own. Locking is in-process, so a Badger
// directory must not be shared between gateway instances.
type BadgerStore struct {
	*KeyedMutex
	db     *badger.DB
	ownsDB bool
}

// NewBadgerStore wraps an open database. The caller keeps ownership.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{KeyedMutex: NewKeyedMutex(), db: db}
}

// OpenBadgerStore opens (or creates) a database at path. An empty path
// with inMemory opens a throwaway in-memory database.
func OpenBadgerStore(path string, inMemory bool) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithInMemory(inMemory)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}
	return &BadgerStore{KeyedMutex: NewKeyedMutex(), db: db, ownsDB: true}, nil
}

func (s *BadgerStore) Name() string { return "badger" }

func sessionKey(id string) []byte {
	return []byte(sessionKeyPrefix + id)
}

// userIndexPrefix hex-encodes the user ID so that no user's prefix is a
// prefix of another user's keys ("org" vs "org:alice").
func userIndexPrefix(userID string) []byte {
	return []byte(sessionUserKeyPrefix + hex.EncodeToString([]byte(userID)) + ":")
}

func userIndexKey(userID, id string) []byte {
	return append(userIndexPrefix(userID), id...)
}

// Get implements Store.
func (s *BadgerStore) Get(_ context.Context, id string) (*Session, error) {
	var sess Session
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get session: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &sess)
		})
	})
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// Save implements Store.
func (s *BadgerStore) Save(_ context.Context, sess *Session, ttl time.Duration) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	created := make([]byte, 8)
	binary.BigEndian.PutUint64(created, uint64(sess.CreatedAt.UnixNano()))

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.SetEntry(badger.NewEntry(sessionKey(sess.ID), data).WithTTL(ttl)); err != nil {
			return fmt.Errorf("set session: %w", err)
		}
		// The index entry has no TTL; dangling entries are pruned by the manager.
		if err := txn.Set(userIndexKey(sess.UserID, sess.ID), created); err != nil {
			return fmt.Errorf("set user index: %w", err)
		}
		return nil
	})
}

// Update implements Store. The existence check and the write share one
// transaction, so a concurrent Delete makes one of them conflict.
func (s *BadgerStore) Update(_ context.Context, sess *Session, ttl time.Duration) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(sessionKey(sess.ID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("get session: %w", err)
		}
		return txn.SetEntry(badger.NewEntry(sessionKey(sess.ID), data).WithTTL(ttl))
	})
	if errors.Is(err, badger.ErrConflict) {
		// lost to a concurrent delete or update; treat the session as gone
		return ErrNotFound
	}
	return err
}

// Delete implements Store.
func (s *BadgerStore) Delete(_ context.Context, userID, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(sessionKey(id)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete session: %w", err)
		}
		if err := txn.Delete(userIndexKey(userID, id)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete user index: %w", err)
		}
		return nil
	})
}

// ListIndex implements Store.
func (s *BadgerStore) ListIndex(_ context.Context, userID string) ([]IndexEntry, error) {
	var entries []IndexEntry
	prefix := userIndexPrefix(userID)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			id := strings.TrimPrefix(string(item.Key()), string(prefix))
			err := item.Value(func(val []byte) error {
				if len(val) != 8 {
					return nil
				}
				entries = append(entries, IndexEntry{
					SessionID: id,
					CreatedAt: time.Unix(0, int64(binary.BigEndian.Uint64(val))).UTC(),
				})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list user sessions: %w", err)
	}
	sortIndex(entries)
	return entries, nil
}

// RemoveFromIndex implements Store.
func (s *BadgerStore) RemoveFromIndex(_ context.Context, userID, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(userIndexKey(userID, id))
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete user index: %w", err)
		}
		return nil
	})
}

// Sweep implements Store.
func (s *BadgerStore) Sweep(ctx context.Context, remove func(*Session) bool) (int, error) {
	var doomed []*Session
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(sessionKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			var sess Session
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &sess)
			}); err != nil {
				continue
			}
			if remove(&sess) {
				doomed = append(doomed, &sess)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan sessions: %w", err)
	}

	n := 0
	for _, sess := range doomed {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		if err := s.Delete(ctx, sess.UserID, sess.ID); err != nil {
			continue
		}
		n++
	}
	return n, nil
}

// Close closes the database when the store opened it.
func (s *BadgerStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}
