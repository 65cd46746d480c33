// Package state holds the in-memory ledger of entities migrated so far.
//
// Transaction groups are replayed strictly in commit order, but later groups
// reference entities created by earlier ones (a draft edit needs the internal
// id assigned when the draft was created). The ledger answers those lookups
// without a database round-trip. It lives for exactly one migration run and
// is threaded explicitly into every action; it is never persisted.
package state

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateKey is returned by Add when the key already exists. Two
	// independent actions must never both claim to create the same entity.
	ErrDuplicateKey = errors.New("key already exists")

	// ErrNotFound is returned by Update when the key is absent.
	ErrNotFound = errors.New("key not found")
)

// PID is the ledger entry for a persistent identifier.
type PID struct {
	ID      int64
	Type    string
	Status  string
	ObjType string
	Created string
}

// Parent is the ledger entry for a logical record family.
type Parent struct {
	ID          string
	NextDraftID string
	LatestIndex int
	LatestID    string
}

// Record is the ledger entry for a published record version.
type Record struct {
	ID            string
	ParentID      string
	Index         int
	ForkVersionID int
}

// Bucket is the ledger entry for a file bucket.
type Bucket struct {
	DraftID string
}

// Ledger is one sub-ledger: a mapping from a natural/business key to a small
// state record. Mutations are journaled so a failing transaction group can be
// undone without touching entries written by earlier groups.
type Ledger[T any] struct {
	name    string
	entries map[string]T
	journal *journal
}

type undo func()

type journal struct {
	undos []undo
}

// Add inserts a new entry. It fails if the key is already present.
func (l *Ledger[T]) Add(key string, value T) error {
	if _, ok := l.entries[key]; ok {
		return fmt.Errorf("%s ledger: %q: %w", l.name, key, ErrDuplicateKey)
	}
	l.entries[key] = value
	l.record(func() { delete(l.entries, key) })
	return nil
}

// Update mutates an existing entry in place. It fails if the key is absent.
func (l *Ledger[T]) Update(key string, fn func(*T)) error {
	prev, ok := l.entries[key]
	if !ok {
		return fmt.Errorf("%s ledger: %q: %w", l.name, key, ErrNotFound)
	}
	l.record(func() { l.entries[key] = prev })
	entry := prev
	fn(&entry)
	l.entries[key] = entry
	return nil
}

// Get returns the entry for key. Absence is not an error; callers branch on
// the second return value to choose between "already exists" and "create new".
func (l *Ledger[T]) Get(key string) (T, bool) {
	v, ok := l.entries[key]
	return v, ok
}

// Len returns the number of entries.
func (l *Ledger[T]) Len() int {
	return len(l.entries)
}

func (l *Ledger[T]) record(u undo) {
	if l.journal != nil {
		l.journal.undos = append(l.journal.undos, u)
	}
}

// State is the full migration state store: one ledger per entity family.
// It is mutated synchronously by the executor's single control loop; no
// locking. Concurrent use requires external serialization.
type State struct {
	PIDs    *Ledger[PID]
	Parents *Ledger[Parent]
	Records *Ledger[Record]
	Buckets *Ledger[Bucket]

	journal journal
}

// New creates an empty state store for a migration run.
func New() *State {
	st := &State{}
	st.PIDs = &Ledger[PID]{name: "pids", entries: map[string]PID{}, journal: &st.journal}
	st.Parents = &Ledger[Parent]{name: "parents", entries: map[string]Parent{}, journal: &st.journal}
	st.Records = &Ledger[Record]{name: "records", entries: map[string]Record{}, journal: &st.journal}
	st.Buckets = &Ledger[Bucket]{name: "buckets", entries: map[string]Bucket{}, journal: &st.journal}
	return st
}

// Mark returns a checkpoint of the mutation journal. Pass it to Rollback to
// undo every mutation made since, or to Commit to discard the undo records.
func (s *State) Mark() int {
	return len(s.journal.undos)
}

// Rollback undoes all mutations recorded after mark, most recent first.
// Used by the executor when a transaction group fails, so a rolled-back
// group leaves no trace in the ledger.
func (s *State) Rollback(mark int) {
	for i := len(s.journal.undos) - 1; i >= mark; i-- {
		s.journal.undos[i]()
	}
	s.journal.undos = s.journal.undos[:mark]
}

// Commit discards undo records back to mark. Called after a group's
// sub-transaction commits, keeping the journal from growing over a run.
func (s *State) Commit(mark int) {
	s.journal.undos = s.journal.undos[:mark]
}
