// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

// Package audit records security-relevant authentication and session
// events for compliance review.
//
// Producers call Sink.Log, which never blocks: events are queued on a
// bounded channel and written by a single background goroutine. When the
// queue is full the event is dropped, a warning is logged and the
// carelink_audit_events_dropped_total counter is incremented. Emergency
// access events are logged at critical severity.
//
// Two stores are provided: MemoryStore (bounded, for development and
// tests) and BadgerStore, which shares the process BadgerDB instance with
// the session store.
package audit
