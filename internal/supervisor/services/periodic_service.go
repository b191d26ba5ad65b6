// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package services

import (
	"context"
	"time"

	"github.com/tomtom215/carelink/internal/logging"
)

// Job is one run of a periodic task. It returns how many items it
// processed.
type Job func(ctx context.Context) (int, error)

// PeriodicService runs a Job on a fixed interval. Job errors are logged
// and the next tick retries; they never crash the service.
type PeriodicService struct {
	name     string
	interval time.Duration
	job      Job
}

// NewPeriodicService creates a periodic service. A non-positive interval
// becomes one minute.
func NewPeriodicService(name string, interval time.Duration, job Job) *PeriodicService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &PeriodicService{name: name, interval: interval, job: job}
}

// Serve implements suture.Service.
func (p *PeriodicService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.runOnce(ctx)
		}
	}
}

func (p *PeriodicService) runOnce(ctx context.Context) {
	start := time.Now()
	n, err := p.job(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logging.Warn().Err(err).Str("service", p.name).Msg("Periodic job failed")
		return
	}
	if n > 0 {
		logging.Debug().
			Str("service", p.name).
			Int("processed", n).
			Dur("took", time.Since(start)).
			Msg("Periodic job finished")
	}
}

func (p *PeriodicService) String() string {
	return p.name
}
