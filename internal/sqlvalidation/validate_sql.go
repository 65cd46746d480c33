// Package sqlvalidation parse-checks the SQL the loader renders, using the
// real PostgreSQL parser. Wired into dry-run mode so a full validation pass
// catches malformed statements before anyone points the loader at production.
package sqlvalidation

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/txmigrate/txmigrate/internal/database/postgres"
	"github.com/txmigrate/txmigrate/internal/migrate"
)

// ValidationIssue represents a single rejected statement.
type ValidationIssue struct {
	Statement string `json:"statement"`
	Message   string `json:"message"`
}

// CheckStatement parses one statement with the PostgreSQL parser. Positional
// $n parameters are accepted.
func CheckStatement(query string) error {
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("empty statement")
	}
	if _, err := pg_query.Parse(query); err != nil {
		return fmt.Errorf("invalid SQL: %w", err)
	}
	return nil
}

// CheckOperation renders the operation in the PostgreSQL dialect and
// parse-checks the result.
func CheckOperation(op migrate.Operation) error {
	query, _, err := migrate.RenderOperation(postgres.Dialect{}, op)
	if err != nil {
		return err
	}
	return CheckStatement(query)
}

// CheckOperations validates a batch, collecting one issue per rejected
// statement instead of stopping at the first.
func CheckOperations(ops []migrate.Operation) []ValidationIssue {
	var issues []ValidationIssue
	for _, op := range ops {
		query, _, err := migrate.RenderOperation(postgres.Dialect{}, op)
		if err != nil {
			issues = append(issues, ValidationIssue{Statement: op.String(), Message: err.Error()})
			continue
		}
		if err := CheckStatement(query); err != nil {
			issues = append(issues, ValidationIssue{Statement: query, Message: err.Error()})
		}
	}
	return issues
}
