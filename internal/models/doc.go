// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

// Package models defines the JSON envelope and payload types of the HTTP
// API. It has no dependencies on the rest of the module so both the
// gateway middleware and the handlers can render responses.
package models
