// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tomtom215/carelink/internal/logging"
	"github.com/tomtom215/carelink/internal/metrics"
)

// MinSecretLength is the minimum local signing secret length in bytes.
const MinSecretLength = 32

// ErrSecretTooShort is returned for secrets under MinSecretLength bytes.
var ErrSecretTooShort = fmt.Errorf("local token secret must be at least %d bytes", MinSecretLength)

// SecretProvider supplies the HMAC keys for local tokens.
type SecretProvider interface {
	// Keys returns every key currently accepted for verification, the
	// signing key first.
	Keys() [][]byte
	// SigningKey returns the key new tokens are signed with.
	SigningKey() []byte
	// Health returns the last error that left the provider without a
	// fresh key, or nil.
	Health() error
}

// StaticSecretProvider serves one fixed key.
type StaticSecretProvider struct {
	key []byte
}

// NewStaticSecretProvider fails when secret is shorter than MinSecretLength.
func NewStaticSecretProvider(secret string) (*StaticSecretProvider, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	return &StaticSecretProvider{key: []byte(secret)}, nil
}

func (p *StaticSecretProvider) Keys() [][]byte     { return [][]byte{p.key} }
func (p *StaticSecretProvider) SigningKey() []byte { return p.key }
func (p *StaticSecretProvider) Health() error      { return nil }

// FileSecretProvider reads the key from a file and reloads it when the file
// changes. After a rotation the previous key stays valid for the overlap
// window so tokens signed just before the rotation keep working.
type FileSecretProvider struct {
	path    string
	overlap time.Duration
	now     func() time.Time

	mu            sync.RWMutex
	current       []byte
	previous      []byte
	previousUntil time.Time
	lastErr       error
}

// NewFileSecretProvider loads path. It fails when the file is unreadable
// or the secret is too short.
func NewFileSecretProvider(path string, overlap time.Duration) (*FileSecretProvider, error) {
	p := &FileSecretProvider{path: path, overlap: overlap, now: time.Now}
	key, err := readSecretFile(path)
	if err != nil {
		return nil, err
	}
	p.current = key
	return p, nil
}

func readSecretFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("read local token secret: %w", err)
	}
	key := bytes.TrimSpace(data)
	if len(key) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	return key, nil
}

// Keys implements SecretProvider.
func (p *FileSecretProvider) Keys() [][]byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys := [][]byte{p.current}
	if p.previous != nil && p.now().Before(p.previousUntil) {
		keys = append(keys, p.previous)
	}
	return keys
}

// SigningKey implements SecretProvider.
func (p *FileSecretProvider) SigningKey() []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Health implements SecretProvider.
func (p *FileSecretProvider) Health() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}

// Reload re-reads the secret file. A failed reload keeps the current key.
func (p *FileSecretProvider) Reload() error {
	key, err := readSecretFile(p.path)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.lastErr = err
		metrics.SecretReloads.WithLabelValues("failure").Inc()
		logging.Error().Err(err).Str("path", p.path).Msg("Local token secret reload failed, keeping previous key")
		return err
	}
	p.lastErr = nil
	if bytes.Equal(key, p.current) {
		return nil
	}
	p.previous = p.current
	p.previousUntil = p.now().Add(p.overlap)
	p.current = key
	metrics.SecretReloads.WithLabelValues("success").Inc()
	logging.Info().
		Str("path", p.path).
		Dur("overlap", p.overlap).
		Msg("Local token secret rotated")
	return nil
}

// Watch reloads the secret whenever its file changes, until ctx is done.
// The parent directory is watched so atomic replace-by-rename is seen.
func (p *FileSecretProvider) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create secret watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	dir := filepath.Dir(p.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(p.path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("secret watcher closed")
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			_ = p.Reload()
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("secret watcher closed")
			}
			logging.Warn().Err(err).Str("path", p.path).Msg("Secret watcher error")
		}
	}
}
