// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

/*
Package session manages server-side login sessions for authenticated
principals.

The Manager is the only component that writes sessions. It creates a
session on first contact, validates it on every later request and ends
it on expiry, inactivity, logout, eviction or administrative revocation.

Validation order:

 1. Missing session, or a session owned by another user: SESSION_NOT_FOUND
 2. Past ExpiresAt: SESSION_EXPIRED, the session is deleted
 3. Idle longer than the inactivity timeout: SESSION_INACTIVE, deleted
 4. Client IP or user agent changed: the session is flagged, not rejected
 5. Inside the renew window: ExpiresAt moves to now + timeout, unless the
    renewal limit is reached, in which case requiresRenewal is set
 6. LastActivityAt and AccessCount are updated with a conditional write,
    so a session evicted meanwhile is not written back

Each user keeps at most MaxConcurrent live sessions. Creation and cap
enforcement share a per-user lock, so concurrent logins never leave more
than the cap and evict oldest-first by creation time.

Stores:

  - MemoryStore: process memory, for development and tests
  - BadgerStore: BadgerDB with entry TTLs, for single-node deployments
  - RedisStore: Redis with SET NX PX locks, for several gateway instances

Store records outlive expiry by ExpiredRetention so an expired session is
reported as expired rather than unknown.
*/
package session
