package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/txmigrate/txmigrate/internal/database"
)

// Driver implements database.Driver for PostgreSQL
type Driver struct {
}

// NewDriver creates a new PostgreSQL driver
func NewDriver() *Driver {
	return &Driver{}
}

// Name returns the database driver name
func (d *Driver) Name() string {
	return "postgres"
}

// OpenConnection opens a connection to the database and runs a ping to test it
func (d *Driver) OpenConnection(cfg database.ConnectionConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// Dialect returns the PostgreSQL dialect.
func (d *Driver) Dialect() database.Dialect {
	return Dialect{}
}

// Dialect implements database.Dialect for PostgreSQL ($n placeholders).
type Dialect struct{}

// Placeholder returns the $n parameter placeholder.
func (Dialect) Placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

var _ database.Driver = (*Driver)(nil)
