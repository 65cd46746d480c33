package migrate

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/txmigrate/txmigrate/internal/database"
)

// Session is the target persistence handle handed to actions: a single outer
// *sql.Tx plus savepoint management on top of it. All writes of a run flow
// through one session so that point queries observe every prior uncommitted
// write.
type Session struct {
	tx      *sql.Tx
	dialect database.Dialect
	spSeq   int
}

// NewSession wraps an open transaction with the given dialect.
func NewSession(tx *sql.Tx, dialect database.Dialect) *Session {
	return &Session{tx: tx, dialect: dialect}
}

// Savepoint is a named savepoint scoping one transaction group. Rolling it
// back undoes only that group's writes.
type Savepoint struct {
	sess *Session
	name string
	done bool
}

// Savepoint opens a new savepoint-scoped sub-transaction.
func (s *Session) Savepoint(ctx context.Context) (*Savepoint, error) {
	s.spSeq++
	name := fmt.Sprintf("sp_%d", s.spSeq)
	if _, err := s.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return nil, fmt.Errorf("failed to open savepoint %s: %w", name, err)
	}
	return &Savepoint{sess: s, name: name}, nil
}

// Release commits the sub-transaction into the enclosing transaction.
func (sp *Savepoint) Release(ctx context.Context) error {
	if sp.done {
		return nil
	}
	sp.done = true
	if _, err := sp.sess.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+sp.name); err != nil {
		return fmt.Errorf("failed to release savepoint %s: %w", sp.name, err)
	}
	return nil
}

// Rollback undoes the sub-transaction, leaving the enclosing transaction
// usable for subsequent groups.
func (sp *Savepoint) Rollback(ctx context.Context) error {
	if sp.done {
		return nil
	}
	sp.done = true
	if _, err := sp.sess.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+sp.name); err != nil {
		return fmt.Errorf("failed to roll back savepoint %s: %w", sp.name, err)
	}
	// Postgres keeps the savepoint defined after ROLLBACK TO; drop it.
	if _, err := sp.sess.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+sp.name); err != nil {
		return fmt.Errorf("failed to release savepoint %s after rollback: %w", sp.name, err)
	}
	return nil
}

// Apply renders and executes one operation. database/sql statements execute
// immediately, so subsequent operations and point queries within the same
// group observe the write.
func (s *Session) Apply(ctx context.Context, op Operation) error {
	query, args, err := RenderOperation(s.dialect, op)
	if err != nil {
		return err
	}
	if _, err := s.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s %s failed: %w", op.Kind, op.Table, err)
	}
	return nil
}

// SelectValue runs a single-column point query with equality predicates, e.g.
// resolving the active object version for a bucket+key. It returns found=false
// when no row matches and an error when more than one row matches.
func (s *Session) SelectValue(ctx context.Context, table, column string, where map[string]any) (any, bool, error) {
	cols := make([]string, 0, len(where))
	for col := range where {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(database.QuoteIdent(column))
	sb.WriteString(" FROM ")
	sb.WriteString(database.QuoteIdent(table))
	sb.WriteString(" WHERE ")
	args := make([]any, 0, len(cols))
	for i, col := range cols {
		if i > 0 {
			sb.WriteString(" AND ")
		}
		sb.WriteString(database.QuoteIdent(col))
		sb.WriteString(" = ")
		sb.WriteString(s.dialect.Placeholder(i + 1))
		args = append(args, normalizeValue(where[col]))
	}

	rows, err := s.tx.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, false, fmt.Errorf("point query on %s failed: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, false, fmt.Errorf("point query on %s failed: %w", table, err)
		}
		return nil, false, nil
	}
	var value any
	if err := rows.Scan(&value); err != nil {
		return nil, false, fmt.Errorf("point query on %s failed: %w", table, err)
	}
	if rows.Next() {
		return nil, false, fmt.Errorf("point query on %s matched more than one row", table)
	}
	return value, true, nil
}

// RenderOperation renders an operation into a SQL statement plus positional
// arguments for the given dialect. Columns are emitted in sorted order so the
// same operation always renders to the same statement.
func RenderOperation(d database.Dialect, op Operation) (string, []any, error) {
	switch op.Kind {
	case OpInsert:
		return renderInsert(d, op)
	case OpUpdate:
		return renderUpdate(d, op)
	case OpDelete:
		return renderDelete(d, op)
	default:
		return "", nil, fmt.Errorf("unknown operation kind: %s", op.Kind)
	}
}

func renderInsert(d database.Dialect, op Operation) (string, []any, error) {
	cols := op.Columns()
	if len(cols) == 0 {
		return "", nil, fmt.Errorf("insert into %s with no columns", op.Table)
	}
	quoted := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		quoted[i] = database.QuoteIdent(col)
		args[i] = normalizeValue(op.Row[col])
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		database.QuoteIdent(op.Table),
		strings.Join(quoted, ", "),
		database.Placeholders(d, 1, len(cols)))
	return query, args, nil
}

func renderUpdate(d database.Dialect, op Operation) (string, []any, error) {
	keys, err := op.KeyColumns()
	if err != nil {
		return "", nil, err
	}
	keySet := make(map[string]bool, len(keys))
	for _, col := range keys {
		keySet[col] = true
	}

	var setCols []string
	for _, col := range op.Columns() {
		if !keySet[col] {
			setCols = append(setCols, col)
		}
	}
	if len(setCols) == 0 {
		return "", nil, fmt.Errorf("update on %s sets no columns", op.Table)
	}

	var sb strings.Builder
	sb.WriteString("UPDATE ")
	sb.WriteString(database.QuoteIdent(op.Table))
	sb.WriteString(" SET ")
	args := make([]any, 0, len(op.Row))
	n := 0
	for i, col := range setCols {
		if i > 0 {
			sb.WriteString(", ")
		}
		n++
		sb.WriteString(database.QuoteIdent(col))
		sb.WriteString(" = ")
		sb.WriteString(d.Placeholder(n))
		args = append(args, normalizeValue(op.Row[col]))
	}
	sb.WriteString(" WHERE ")
	for i, col := range keys {
		if i > 0 {
			sb.WriteString(" AND ")
		}
		n++
		sb.WriteString(database.QuoteIdent(col))
		sb.WriteString(" = ")
		sb.WriteString(d.Placeholder(n))
		args = append(args, normalizeValue(op.Row[col]))
	}
	return sb.String(), args, nil
}

func renderDelete(d database.Dialect, op Operation) (string, []any, error) {
	keys, err := op.KeyColumns()
	if err != nil {
		return "", nil, err
	}
	var sb strings.Builder
	sb.WriteString("DELETE FROM ")
	sb.WriteString(database.QuoteIdent(op.Table))
	sb.WriteString(" WHERE ")
	args := make([]any, 0, len(keys))
	for i, col := range keys {
		if i > 0 {
			sb.WriteString(" AND ")
		}
		sb.WriteString(database.QuoteIdent(col))
		sb.WriteString(" = ")
		sb.WriteString(d.Placeholder(i + 1))
		args = append(args, normalizeValue(op.Row[col]))
	}
	return sb.String(), args, nil
}

// normalizeValue converts composite values (record json, arrays) to their
// serialized form. database/sql drivers only accept scalars.
func normalizeValue(v any) any {
	switch v.(type) {
	case nil, string, bool, int, int32, int64, float32, float64, []byte:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
