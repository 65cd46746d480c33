package migrate

import (
	"fmt"

	"github.com/txmigrate/txmigrate/internal/database"
	"github.com/txmigrate/txmigrate/internal/database/postgres"
	"github.com/txmigrate/txmigrate/internal/database/sqlite"
)

// NewDriver creates a new database driver based on the driver name.
func NewDriver(databaseType string) (database.Driver, error) {
	switch databaseType {
	case "postgres":
		return postgres.NewDriver(), nil
	case "sqlite":
		return sqlite.NewDriver(), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", databaseType)
	}
}
