// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, hot reload, metrics and debug introspection layer.
//
// Provides:
//   - Typed Config loaded from YAML or TOML, a .env file and the environment
//   - ConfigStore with atomic snapshots and reload listeners
//   - Watcher re-applying the config file on change
//   - MetricsRegistry serving prometheus collectors
//   - DebugProbes for named state probes
package control
