// Package database provides PostgreSQL connection pool management for the
// optional event journal.
package database
