package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/txmigrate/txmigrate/internal/database"
)

// Driver implements database.Driver for SQLite (via modernc.org/sqlite, no cgo).
// SQLite is supported both as a real target and as the backend for the test
// suite, since its savepoint semantics match what the executor needs.
type Driver struct {
}

// NewDriver creates a new SQLite driver
func NewDriver() *Driver {
	return &Driver{}
}

// Name returns the database driver name
func (d *Driver) Name() string {
	return "sqlite"
}

// OpenConnection opens a connection to the database and runs a ping to test it
func (d *Driver) OpenConnection(cfg database.ConnectionConfig) (*sql.DB, error) {
	db, err := sql.Open("sqlite", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}

	// The loader drives a single connection through one outer transaction;
	// more than one connection would break savepoint scoping.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// Dialect returns the SQLite dialect.
func (d *Driver) Dialect() database.Dialect {
	return Dialect{}
}

// Dialect implements database.Dialect for SQLite (? placeholders).
type Dialect struct{}

// Placeholder returns the positional ? parameter placeholder.
func (Dialect) Placeholder(n int) string {
	return "?"
}

var _ database.Driver = (*Driver)(nil)
