// Package database provides SQLite persistence for photo and camera
// records.
//
// The photo table carries a unique index on the content hash (ihash);
// that index, not the orchestrator's pre-check, is the authoritative
// guard against concurrent uploads of the same file. The database uses
// WAL mode and includes automatic schema initialization.
package database
