// Package storage persists the runtime lifecycle journal.
//
// Drivers:
//   - "file": append-only JSON Lines file
//   - "sqlite": SQLite database (modernc.org/sqlite, no cgo)
package storage
