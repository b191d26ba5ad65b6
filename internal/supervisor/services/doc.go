// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

// Package services adapts CareLink's long-running components to
// suture.Service: the HTTP listener, periodic maintenance jobs and
// blocking watchers.
package services
