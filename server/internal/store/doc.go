// Package store persists live alerts. Every backend keeps the alert as JSON
// keyed by its id: an in-memory map, SQLite (modernc.org/sqlite), PostgreSQL
// through gorm, or a Redis hash.
//
// Open(ctx, driver, dsn) selects the backend by name.
package store
