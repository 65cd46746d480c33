// Package extract defines the transaction feed consumed by the load engine.
// The heavy lifting of capturing changes from the source database (logical
// decoding, ordering, grouping by transaction) happens upstream; this package
// only models the resulting stream.
package extract

// ChangeKind is the kind of a single captured row change.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// TxOp is one row-level change captured from the source database.
type TxOp struct {
	Table  string         `json:"table"`
	Kind   ChangeKind     `json:"kind"`
	Before map[string]any `json:"before,omitempty"`
	After  map[string]any `json:"after,omitempty"`
}

// Tx is a transaction group: the set of row changes committed atomically in
// the source system, tagged with its commit log position.
type Tx struct {
	ID  int64  `json:"id"`
	LSN int64  `json:"lsn"`
	Ops []TxOp `json:"ops"`
}

// Changes returns the ops touching the given table.
func (t *Tx) Changes(table string) []TxOp {
	var out []TxOp
	for _, op := range t.Ops {
		if op.Table == table {
			out = append(out, op)
		}
	}
	return out
}

// FirstChange returns the first op of the given kind touching table, if any.
func (t *Tx) FirstChange(table string, kind ChangeKind) (TxOp, bool) {
	for _, op := range t.Ops {
		if op.Table == table && op.Kind == kind {
			return op, true
		}
	}
	return TxOp{}, false
}

// HasChange reports whether the group contains an op of the given kind on table.
func (t *Tx) HasChange(table string, kind ChangeKind) bool {
	_, ok := t.FirstChange(table, kind)
	return ok
}

// Feed is an ordered stream of transaction groups. Next returns io.EOF when
// the stream is exhausted. Groups must be delivered in commit order; the
// executor's reference resolution depends on it.
type Feed interface {
	Next() (*Tx, error)
}
