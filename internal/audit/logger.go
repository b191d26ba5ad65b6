// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package audit

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/carelink/internal/logging"
	"github.com/tomtom215/carelink/internal/metrics"
)

// Config holds configuration for the audit logger.
type Config struct {
	Enabled bool
	// MinSeverity filters out less severe events.
	MinSeverity   Severity
	RetentionDays int
	BufferSize    int
	LogToStdout   bool
}

// DefaultConfig returns the default audit configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:       true,
		MinSeverity:   SeverityInfo,
		RetentionDays: 90,
		BufferSize:    1000,
	}
}

// Logger is the asynchronous audit Sink.
type Logger struct {
	config    *Config
	store     Store
	eventChan chan *Event
	stopChan  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	now       func() time.Time
}

// NewLogger starts the background writer for store. Call Close to flush.
func NewLogger(store Store, config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}

	l := &Logger{
		config:    config,
		store:     store,
		eventChan: make(chan *Event, config.BufferSize),
		stopChan:  make(chan struct{}),
		now:       time.Now,
	}
	l.wg.Add(1)
	go l.asyncWriter()
	return l
}

func (l *Logger) asyncWriter() {
	defer l.wg.Done()

	for {
		select {
		case <-l.stopChan:
			for {
				select {
				case event := <-l.eventChan:
					l.writeEvent(event)
				default:
					return
				}
			}
		case event := <-l.eventChan:
			l.writeEvent(event)
		}
	}
}

func (l *Logger) writeEvent(event *Event) {
	if l.config.LogToStdout {
		if data, err := json.Marshal(event); err == nil {
			logging.Info().RawJSON("audit", data).Msg("Audit event")
		}
	}
	if l.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.store.Save(ctx, event); err != nil {
		logging.Error().Err(err).Str("event_type", string(event.Type)).Msg("Failed to save audit event")
	}
}

// Log queues event for writing. It never blocks; a full buffer drops the
// event.
func (l *Logger) Log(event *Event) {
	if !l.config.Enabled || event == nil {
		return
	}
	if l.config.MinSeverity != "" && !event.Severity.AtLeast(l.config.MinSeverity) {
		return
	}
	if event.ID == "" {
		event.ID = generateEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now().UTC()
	}

	select {
	case l.eventChan <- event:
	default:
		metrics.AuditEventsDropped.Inc()
		logging.Warn().
			Str("event_id", event.ID).
			Str("event_type", string(event.Type)).
			Msg("Audit event buffer full, dropping event")
	}
}

// Close stops the writer after draining queued events.
func (l *Logger) Close() error {
	l.closeOnce.Do(func() { close(l.stopChan) })
	l.wg.Wait()
	return nil
}

// Query reads events back from the store.
func (l *Logger) Query(ctx context.Context, filter QueryFilter) ([]Event, error) {
	if l.store == nil {
		return nil, nil
	}
	return l.store.Query(ctx, filter)
}

// PurgeExpired deletes events older than the retention period.
func (l *Logger) PurgeExpired(ctx context.Context) (int64, error) {
	if l.store == nil || l.config.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := l.now().AddDate(0, 0, -l.config.RetentionDays)
	n, err := l.store.Delete(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logging.Info().Int64("count", n).Msg("Purged expired audit events")
	}
	return n, nil
}

func generateEventID() string {
	return uuid.NewString()
}

// MustJSON encodes v for Event.Metadata, falling back to an empty object.
func MustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}

// SystemActor is the actor recorded for background and breaker events.
func SystemActor() Actor {
	return Actor{ID: "system", Type: "system"}
}
