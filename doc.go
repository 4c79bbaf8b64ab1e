// Package reconciler converges a host running the collectd metrics
// collector onto an administrator's options.
//
// Each reconciliation pass turns a flat option map into a resolved
// configuration, validates it, works out the set of collector plugins,
// renders the per-plugin files and the primary configuration, and then starts
// or restarts the collector only when its configuration actually changed.
// When metrics are exported to a loopback endpoint, the pass also manages a
// local Prometheus exporter sidecar: binary install, port reservation, unit
// registration and start/restart.
//
// Key Features:
//   - Fail-fast validation with a single operator-facing reason
//   - Fail-closed plugin resolution (a missing plugin binary aborts the pass)
//   - Managed-file pruning that never touches unmanaged files
//   - Fingerprint-gated restarts, so identical renders never restart services
//   - Persisted service state and port reservation across passes
//   - Argus-powered options file watching and audit trail
//
// Basic Usage:
//
//	engine, err := reconciler.NewEngine(reconciler.EngineConfig{
//		Options: reconciler.DefaultEngineOptions(),
//		Logger:  myLogger,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
//
//	result, err := engine.Reconcile(ctx, reconciler.RawConfig{
//		"interval":          10,
//		"plugins":           "default",
//		"graphite_endpoint": "10.0.0.5:2003",
//	})
//
// To react to changes of an options file, wrap the engine in a ConfigWatcher:
//
//	watcher, err := reconciler.NewConfigWatcher(engine, "/etc/collectd-reconciler/options.yaml",
//		reconciler.DefaultConfigWatcherOptions(), myLogger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := watcher.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer watcher.Stop()
//
// Copyright (c) 2025 AGILira - A. Giordano
// SPDX-License-Identifier: MPL-2.0
package reconciler
