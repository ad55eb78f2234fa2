// Package app supervises the GUI application processes launched on the
// shared display.
//
// Components:
//   - Catalog: allow-list (glob patterns) plus per-application launch specs
//     loaded from YAML or TOML
//   - Launcher: spawns processes with os/exec, optionally on a PTY
//   - Supervisor: instance table, capacity limit, graceful stop, exit monitor
//
// Instance Lifecycle:
//
//	Starting -> Running -> Stopping -> Stopped
//	                 \-------------> Crashed
//
// A record enters Stopped or Crashed exactly once, from the monitor
// goroutine, and is removed from the table in the same step.
//
// Example Usage:
//
//	catalog, err := app.LoadCatalog(cfg.Apps.Allowed, cfg.Apps.CatalogFile)
//	sup := app.NewSupervisor(app.Config{MaxConcurrent: 10, Display: ":99"},
//		catalog, app.NewExecLauncher(home, false, 0, logger), dispatcher, nil, logger)
//	view, err := sup.Start(ctx, "gedit", userID)
//	err = sup.Stop(ctx, view.ID, userID)
package app
