// Package database provides SQLite connectivity for the auth core.
//
// It wraps database/sql with lifecycle management (Open/Close), WAL and
// busy-timeout pragmas, embedded schema migrations, and health checks.
// SQLite is configured single-writer; repositories rely on that plus
// conditional UPDATEs for their atomicity guarantees.
package database
