package migrate

import (
	"errors"
	"fmt"
	"sort"
)

// OpKind is the kind of a row-level operation.
type OpKind string

const (
	OpInsert OpKind = "insert"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// ErrMissingKey reports an update/delete built without every primary-key
// column of its table present in the row. This is a programming error in an
// action, not a data problem; it is fatal for the transaction group.
var ErrMissingKey = errors.New("row is missing primary key column")

// Operation is one row-level mutation against a named target table. It is a
// pure value; constructing one has no side effects. For update and delete the
// predicate is a conjunction of equality clauses over the table's primary-key
// columns, taken from Row.
type Operation struct {
	Kind  OpKind
	Table string
	Row   map[string]any
}

// Insert builds an insert operation. The row is used verbatim.
func Insert(table string, row map[string]any) Operation {
	return Operation{Kind: OpInsert, Table: table, Row: row}
}

// Update builds an update operation. Row must contain the table's primary-key
// columns plus the columns to set.
func Update(table string, row map[string]any) Operation {
	return Operation{Kind: OpUpdate, Table: table, Row: row}
}

// Delete builds a delete operation. Row must contain the table's primary-key
// columns.
func Delete(table string, row map[string]any) Operation {
	return Operation{Kind: OpDelete, Table: table, Row: row}
}

// KeyColumns returns the primary-key columns for the operation's table, after
// checking they are all present in the row. Insert operations have no key
// requirement.
func (op Operation) KeyColumns() ([]string, error) {
	if op.Kind == OpInsert {
		return nil, nil
	}
	keys, err := PrimaryKey(op.Table)
	if err != nil {
		return nil, err
	}
	for _, col := range keys {
		if _, ok := op.Row[col]; !ok {
			return nil, fmt.Errorf("%s %s: %w: %s", op.Kind, op.Table, ErrMissingKey, col)
		}
	}
	return keys, nil
}

// Columns returns the row's column names in a deterministic order.
func (op Operation) Columns() []string {
	cols := make([]string, 0, len(op.Row))
	for col := range op.Row {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

func (op Operation) String() string {
	return fmt.Sprintf("%s %s (%d cols)", op.Kind, op.Table, len(op.Row))
}
