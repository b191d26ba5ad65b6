// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package services

import (
	"context"
	"fmt"
)

// Watcher blocks until ctx is done or it fails, e.g.
// auth.FileSecretProvider.Watch.
type Watcher func(ctx context.Context) error

// WatchService supervises a Watcher. A failing watcher is restarted by
// the supervisor.
type WatchService struct {
	name  string
	watch Watcher
}

// NewWatchService creates a WatchService.
func NewWatchService(name string, watch Watcher) *WatchService {
	return &WatchService{name: name, watch: watch}
}

// Serve implements suture.Service.
func (w *WatchService) Serve(ctx context.Context) error {
	err := w.watch(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil {
		return fmt.Errorf("%s returned before shutdown", w.name)
	}
	return fmt.Errorf("%s: %w", w.name, err)
}

func (w *WatchService) String() string {
	return w.name
}
