// Package repositories implements SQLite persistence for client-side state.
//
// Key Implementations:
//   - [SessionRepository] : durable session store holding the credential and profile as two key/value entries
//   - [MemorySessionStore] : in-memory store with the same contract, for ephemeral runs and tests
//   - [ReadingRepository] : local cache of sensor readings observed by the dashboard and watch command
//
// Session entries are written and removed in a single transaction so a reader never sees a credential without its profile.
// Loading tolerates partial or malformed entries by reporting no session rather than an error.
package repositories
