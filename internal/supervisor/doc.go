// CareLink - Telehealth Authentication Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/carelink

/*
Package supervisor runs CareLink's long-lived services under suture v4.

The tree has two layers so background maintenance can crash and restart
without taking the listener down:

	"carelink"
	├── "data-layer"
	│   ├── session-sweeper   (periodic session.Manager.Sweep)
	│   ├── audit-retention   (periodic audit.Logger.PurgeExpired, when audit is on)
	│   └── secret-watcher    (local secret file reload, when a secret file is set)
	└── "api-layer"
	    └── http-server

Supervisor events are logged through sutureslog into the process slog
logger, which is backed by zerolog (see logging.NewSlogLogger).

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{})
	tree.AddDataService(services.NewPeriodicService("session-sweeper", time.Minute, sweep))
	tree.AddAPIService(services.NewHTTPServerService(srv, 15*time.Second))
	err = tree.Serve(ctx)
*/
package supervisor
