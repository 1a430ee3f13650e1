// Package tasks runs long device-history operations with real-time progress reporting.
//
// # Core Operations
//
// [HistoryEngine.Export] writes the reading history and pump events of many devices:
//   - Resolves the device list (all devices when none are named)
//   - Fetches each device's readings and pump logs, paced by a rate limiter
//   - Formats each history on a worker pool (json, csv, markdown or txt)
//   - Writes export_manifest.json summarizing successes and failures
//
// # Progress Reporting
//
// # All operations use non-blocking channels for progress updates
//
// The [ProgressUpdate] struct contains phase, step counters, messages, and optional data for advanced UI rendering.
// Updates use select with default to prevent blocking.
package tasks
