// Package stores persists biosctl operation history in SQLite.
//
// The SQLite store runs in WAL mode with embedded golang-migrate migrations
// and keeps four tables: operation snapshots, progress events, the setting
// writes of each reconciliation and the per-item firmware outcomes.
// StoreObserver connects a progress.Monitor to a Store so that every event
// and status change is written as it happens.
package stores
