// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// Key layout:
//
//	audit:<unix-nanos, zero padded>:<id> -> event JSON
//	audit_id:<id>                        -> primary key
const (
	auditKeyPrefix   = "audit:"
	auditIDKeyPrefix = "audit_id:"
)

// BadgerStore persists audit events in BadgerDB. Keys sort by timestamp,
// so range scans and retention deletes walk the keyspace in order.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore creates a store over an open database.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func eventKey(e *Event) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", auditKeyPrefix, e.Timestamp.UnixNano(), e.ID))
}

// Save writes event and its ID index entry in one transaction.
func (s *BadgerStore) Save(_ context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	key := eventKey(event)

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, data); err != nil {
			return fmt.Errorf("set audit event: %w", err)
		}
		if err := txn.Set([]byte(auditIDKeyPrefix+event.ID), key); err != nil {
			return fmt.Errorf("set audit index: %w", err)
		}
		return nil
	})
}

// Get returns the event with the given ID.
func (s *BadgerStore) Get(_ context.Context, id string) (*Event, error) {
	var event Event
	err := s.db.View(func(txn *badger.Txn) error {
		idx, err := txn.Get([]byte(auditIDKeyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrEventNotFound
		}
		if err != nil {
			return err
		}
		key, err := idx.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrEventNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &event)
		})
	})
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// Query scans newest to oldest.
func (s *BadgerStore) Query(_ context.Context, filter QueryFilter) ([]Event, error) {
	var out []Event
	prefix := []byte(auditKeyPrefix)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			var e Event
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				continue
			}
			if filter.EndTime != nil && e.Timestamp.After(*filter.EndTime) {
				continue
			}
			if filter.StartTime != nil && e.Timestamp.Before(*filter.StartTime) {
				break
			}
			if !filter.Matches(&e) {
				continue
			}
			out = append(out, e)
			if filter.Limit > 0 && len(out) >= filter.Limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	return out, nil
}

// Delete removes events older than olderThan.
func (s *BadgerStore) Delete(_ context.Context, olderThan time.Time) (int64, error) {
	var keys [][]byte
	prefix := []byte(auditKeyPrefix)
	cutoff := []byte(fmt.Sprintf("%s%020d", auditKeyPrefix, olderThan.UnixNano()))

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			k := it.Item().KeyCopy(nil)
			if string(k) >= string(cutoff) {
				break
			}
			keys = append(keys, k)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan audit events: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return 0, fmt.Errorf("delete audit event: %w", err)
		}
		// key suffix after the final ':' is the event ID
		for i := len(k) - 1; i >= 0; i-- {
			if k[i] == ':' {
				if err := wb.Delete([]byte(auditIDKeyPrefix + string(k[i+1:]))); err != nil {
					return 0, fmt.Errorf("delete audit index: %w", err)
				}
				break
			}
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("flush audit deletes: %w", err)
	}
	return int64(len(keys)), nil
}
