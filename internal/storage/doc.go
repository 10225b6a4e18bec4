// Package storage is the persistence boundary behind the submission log.
//
// Stores hold opaque records keyed by id and ordered by creation time.
// Drivers:
//   - memory: process local, lost on restart
//   - file:   JSON Lines journal compacted into a snapshot
//   - sqlite: single database file (modernc.org/sqlite, no cgo)
//   - redis:  one key per record plus a sorted-set index
package storage
