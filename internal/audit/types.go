// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

package audit

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
)

// EventType categorizes audit events.
type EventType string

const (
	// Authentication
	EventTypeAuthSuccess       EventType = "auth.success"
	EventTypeAuthFailure       EventType = "auth.failure"
	EventTypeAuthFallback      EventType = "auth.fallback"
	EventTypeDemoToken         EventType = "auth.demo_token"
	EventTypeEmergencyAccess   EventType = "auth.emergency_access"
	EventTypeEmergencyDenied   EventType = "auth.emergency_denied"
	EventTypeAuthzDenied       EventType = "authz.denied"
	EventTypeBreakerTransition EventType = "breaker.state_changed"

	// Session lifecycle
	EventTypeSessionCreated   EventType = "session.created"
	EventTypeSessionRenewed   EventType = "session.renewed"
	EventTypeSessionEvicted   EventType = "session.evicted"
	EventTypeSessionExpired   EventType = "session.expired"
	EventTypeSessionInactive  EventType = "session.inactive"
	EventTypeSessionFlagged   EventType = "session.flagged"
	EventTypeSessionDestroyed EventType = "session.destroyed"
	EventTypeSessionRevoked   EventType = "session.revoked"
)

// Severity indicates the severity level of an audit event.
type Severity string

const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

var severityOrder = map[Severity]int{
	SeverityDebug:    0,
	SeverityInfo:     1,
	SeverityWarning:  2,
	SeverityError:    3,
	SeverityCritical: 4,
}

// AtLeast reports whether s is as severe as min.
func (s Severity) AtLeast(minimum Severity) bool {
	return severityOrder[s] >= severityOrder[minimum]
}

// Outcome indicates whether an action succeeded or failed.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Event is a single audit record.
type Event struct {
	ID          string          `json:"id"`
	Timestamp   time.Time       `json:"timestamp"`
	Type        EventType       `json:"type"`
	Severity    Severity        `json:"severity"`
	Outcome     Outcome         `json:"outcome"`
	Actor       Actor           `json:"actor"`
	Target      *Target         `json:"target,omitempty"`
	Source      Source          `json:"source"`
	Action      string          `json:"action"`
	Description string          `json:"description"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	RequestID   string          `json:"request_id,omitempty"`
}

// Actor is who performed the action.
type Actor struct {
	ID         string `json:"id"`
	Type       string `json:"type"` // user or system
	Role       string `json:"role,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	AuthMethod string `json:"auth_method,omitempty"`
}

// Target is the object of the action.
type Target struct {
	ID   string `json:"id"`
	Type string `json:"type"` // session, user, backend
}

// Source is where the request originated.
type Source struct {
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// Sink accepts audit events. Implementations must not block the caller.
type Sink interface {
	Log(event *Event)
}

// Discard is a Sink that drops every event.
var Discard Sink = discardSink{}

type discardSink struct{}

func (discardSink) Log(*Event) {}

// ErrEventNotFound is returned by Store.Get for unknown IDs.
var ErrEventNotFound = errors.New("audit event not found")

// Store persists audit events.
type Store interface {
	Save(ctx context.Context, event *Event) error
	Get(ctx context.Context, id string) (*Event, error)
	// Query returns matching events, most recent first.
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)
	// Delete removes events older than the cutoff and returns the count.
	Delete(ctx context.Context, olderThan time.Time) (int64, error)
}

// QueryFilter selects audit events. Zero-valued fields match everything.
type QueryFilter struct {
	Types     []EventType `json:"types,omitempty"`
	ActorID   string      `json:"actor_id,omitempty"`
	TargetID  string      `json:"target_id,omitempty"`
	MinLevel  Severity    `json:"min_level,omitempty"`
	StartTime *time.Time  `json:"start_time,omitempty"`
	EndTime   *time.Time  `json:"end_time,omitempty"`
	Limit     int         `json:"limit,omitempty"`
}

// Matches reports whether e satisfies every criterion in f.
func (f *QueryFilter) Matches(e *Event) bool {
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if e.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.ActorID != "" && e.Actor.ID != f.ActorID {
		return false
	}
	if f.TargetID != "" && (e.Target == nil || e.Target.ID != f.TargetID) {
		return false
	}
	if f.MinLevel != "" && !e.Severity.AtLeast(f.MinLevel) {
		return false
	}
	if f.StartTime != nil && e.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && e.Timestamp.After(*f.EndTime) {
		return false
	}
	return true
}
