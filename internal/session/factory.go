// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package session

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/redis/go-redis/v9"
)

// Store kinds accepted by NewStore.
const (
	KindMemory = "memory"
	KindBadger = "badger"
	KindRedis  = "redis"
)

// StoreOptions carries the shared connections a store may need. Only the
// one matching Kind is used.
type StoreOptions struct {
	Kind   string
	Badger *badger.DB
	Redis  redis.UniversalClient
	// RedisConfig applies to the redis kind.
	RedisConfig RedisStoreConfig
}

// NewStore builds the store selected by opts.Kind.
func NewStore(opts StoreOptions) (Store, error) {
	switch opts.Kind {
	case KindMemory, "":
		return NewMemoryStore(), nil
	case KindBadger:
		if opts.Badger == nil {
			return nil, errors.New("badger session store requires an open database")
		}
		return NewBadgerStore(opts.Badger), nil
	case KindRedis:
		if opts.Redis == nil {
			return nil, errors.New("redis session store requires a client")
		}
		return NewRedisStore(opts.Redis, opts.RedisConfig), nil
	default:
		return nil, fmt.Errorf("unknown session store %q", opts.Kind)
	}
}
