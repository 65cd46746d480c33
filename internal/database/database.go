package database

import (
	"database/sql"
	"strings"
)

// ConnectionConfig describes how to reach a target database.
type ConnectionConfig struct {
	DriverType  string // "postgres" or "sqlite"
	DatabaseURL string
}

// Driver opens connections to a target database and knows its SQL dialect.
type Driver interface {
	// Name returns the database driver name ("postgres", "sqlite").
	Name() string

	// OpenConnection opens and pings a database connection.
	OpenConnection(cfg ConnectionConfig) (*sql.DB, error)

	// Dialect returns the placeholder rules for this database.
	Dialect() Dialect
}

// Dialect captures the per-database SQL differences the loader cares about.
// Both supported dialects accept double-quoted identifiers, so quoting is
// shared; parameter placeholders are not ($n vs ?).
type Dialect interface {
	// Placeholder returns the parameter placeholder for a 1-based position.
	Placeholder(n int) string
}

// QuoteIdent quotes a SQL identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Placeholders renders a comma-separated placeholder list starting at
// 1-based position start.
func Placeholders(d Dialect, start, count int) string {
	parts := make([]string, count)
	for i := 0; i < count; i++ {
		parts[i] = d.Placeholder(start + i)
	}
	return strings.Join(parts, ", ")
}
