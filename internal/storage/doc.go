// Package storage persists the tenant registry and the command audit trail.
//
// Drivers:
//   - file: one JSON document replaced atomically, plus an append-only
//     JSON Lines audit log next to it
//   - sqlite: a single database file (modernc.org/sqlite, no cgo)
package storage
