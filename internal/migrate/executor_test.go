package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/rs/zerolog"

	"github.com/txmigrate/txmigrate/internal/database"
	"github.com/txmigrate/txmigrate/internal/database/sqlite"
	"github.com/txmigrate/txmigrate/internal/extract"
	"github.com/txmigrate/txmigrate/internal/migrate/state"
)

// openTestDB opens an in-memory SQLite target with the minimal schema the
// executor tests write to.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	driver := sqlite.NewDriver()
	db, err := driver.OpenConnection(database.ConnectionConfig{DriverType: "sqlite", DatabaseURL: ":memory:"})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.Exec(`CREATE TABLE webhooks_events (id TEXT PRIMARY KEY, payload TEXT)`); err != nil {
		t.Fatalf("Failed to create test schema: %v", err)
	}
	return db
}

func countEvents(t *testing.T, db *sql.DB) int {
	t.Helper()

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM webhooks_events`).Scan(&n); err != nil {
		t.Fatalf("Failed to count rows: %v", err)
	}
	return n
}

func hasEvent(t *testing.T, db *sql.DB, id string) bool {
	t.Helper()

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM webhooks_events WHERE id = ?`, id).Scan(&n); err != nil {
		t.Fatalf("Failed to query row: %v", err)
	}
	return n > 0
}

type stubAction struct {
	name    string
	tx      *extract.Tx
	prepare func(ctx context.Context, sess *Session, st *state.State) ([]Operation, error)
}

func (a *stubAction) Name() string          { return a.name }
func (a *stubAction) TransformName() string { return "stub" }
func (a *stubAction) Tx() *extract.Tx       { return a.tx }

func (a *stubAction) Prepare(ctx context.Context, sess *Session, st *state.State) ([]Operation, error) {
	return a.prepare(ctx, sess, st)
}

type stubClassifier struct {
	actions map[int64]LoadAction
}

func (c *stubClassifier) Classify(tx *extract.Tx) (LoadAction, error) {
	action, ok := c.actions[tx.ID]
	if !ok {
		return nil, fmt.Errorf("tx %d: %w", tx.ID, ErrNoMatch)
	}
	return action, nil
}

// insertAction builds a group that inserts the given event rows.
func insertAction(id int64, eventIDs ...string) (*extract.Tx, LoadAction) {
	tx := &extract.Tx{ID: id, LSN: id}
	return tx, &stubAction{
		name: "stub-insert",
		tx:   tx,
		prepare: func(context.Context, *Session, *state.State) ([]Operation, error) {
			var ops []Operation
			for _, eventID := range eventIDs {
				ops = append(ops, Insert(TableWebhookEvent, map[string]any{"id": eventID, "payload": "{}"}))
			}
			return ops, nil
		},
	}
}

func newTestExecutor(db *sql.DB, classifier Classifier, opts Options) *Executor {
	return NewExecutor(db, sqlite.Dialect{}, classifier, opts, zerolog.Nop(), zerolog.Nop())
}

func TestExecutorRunCommits(t *testing.T) {
	db := openTestDB(t)

	tx1, a1 := insertAction(1, "e1")
	tx2, a2 := insertAction(2, "e2")
	classifier := &stubClassifier{actions: map[int64]LoadAction{1: a1, 2: a2}}

	exec := newTestExecutor(db, classifier, Options{})
	if err := exec.Run(context.Background(), extract.NewSliceFeed(tx1, tx2)); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if n := countEvents(t, db); n != 2 {
		t.Errorf("Expected 2 rows, got %d", n)
	}
	stats := exec.Stats()
	if stats.Tx != 2 {
		t.Errorf("Expected 2 committed groups, got %d", stats.Tx)
	}
	if stats.Ops != 2 {
		t.Errorf("Expected 2 committed operations, got %d", stats.Ops)
	}
}

func TestExecutorFailedGroupIsIsolated(t *testing.T) {
	db := openTestDB(t)

	tx1, a1 := insertAction(1, "e1")
	// The second insert collides with group 1's row; the first insert of the
	// group must be rolled back with it.
	tx2, a2 := insertAction(2, "e2a", "e1")
	tx3, a3 := insertAction(3, "e3")
	classifier := &stubClassifier{actions: map[int64]LoadAction{1: a1, 2: a2, 3: a3}}

	exec := newTestExecutor(db, classifier, Options{})
	if err := exec.Run(context.Background(), extract.NewSliceFeed(tx1, tx2, tx3)); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if !hasEvent(t, db, "e1") {
		t.Error("Expected group 1's row to survive")
	}
	if hasEvent(t, db, "e2a") {
		t.Error("Expected the failed group's partial write to be rolled back")
	}
	if !hasEvent(t, db, "e3") {
		t.Error("Expected the group after the failure to be applied")
	}

	stats := exec.Stats()
	if stats.Tx != 2 {
		t.Errorf("Expected only committed groups counted, got %d", stats.Tx)
	}
	if stats.Ops != 2 {
		t.Errorf("Expected only committed operations counted, got %d", stats.Ops)
	}
}

func TestExecutorEscalateOnError(t *testing.T) {
	db := openTestDB(t)

	tx1, a1 := insertAction(1, "e1")
	tx2, a2 := insertAction(2, "e1") // duplicate pk
	tx3, a3 := insertAction(3, "e3")
	classifier := &stubClassifier{actions: map[int64]LoadAction{1: a1, 2: a2, 3: a3}}

	exec := newTestExecutor(db, classifier, Options{EscalateOnError: true})
	if err := exec.Run(context.Background(), extract.NewSliceFeed(tx1, tx2, tx3)); err == nil {
		t.Fatal("Expected Run to escalate the failure, got nil")
	}

	// Groups committed before the failure stay committed; the failing group
	// and everything after it do not land.
	if !hasEvent(t, db, "e1") {
		t.Error("Expected the group before the failure to stay committed")
	}
	if hasEvent(t, db, "e3") {
		t.Error("Expected no groups after the failure to be applied")
	}
	if n := countEvents(t, db); n != 1 {
		t.Errorf("Expected 1 surviving row, got %d", n)
	}
	if stats := exec.Stats(); stats.Tx != 1 {
		t.Errorf("Expected 1 committed group, got %d", stats.Tx)
	}
}

func TestExecutorDryRunEscalationPersistsNothing(t *testing.T) {
	db := openTestDB(t)

	tx1, a1 := insertAction(1, "e1")
	tx2, a2 := insertAction(2, "e1") // duplicate pk
	classifier := &stubClassifier{actions: map[int64]LoadAction{1: a1, 2: a2}}

	exec := newTestExecutor(db, classifier, Options{DryRun: true, EscalateOnError: true})
	if err := exec.Run(context.Background(), extract.NewSliceFeed(tx1, tx2)); err == nil {
		t.Fatal("Expected Run to escalate the failure, got nil")
	}

	if n := countEvents(t, db); n != 0 {
		t.Errorf("Expected dry run to persist nothing, got %d rows", n)
	}
}

// failingFeed serves its groups, then fails instead of reaching io.EOF.
type failingFeed struct {
	feed extract.Feed
	err  error
}

func (f *failingFeed) Next() (*extract.Tx, error) {
	tx, err := f.feed.Next()
	if errors.Is(err, io.EOF) {
		return nil, f.err
	}
	return tx, err
}

func TestExecutorFeedFailureKeepsCommittedGroups(t *testing.T) {
	db := openTestDB(t)

	tx1, a1 := insertAction(1, "e1")
	classifier := &stubClassifier{actions: map[int64]LoadAction{1: a1}}

	feed := &failingFeed{feed: extract.NewSliceFeed(tx1), err: errors.New("stream truncated")}
	exec := newTestExecutor(db, classifier, Options{})
	if err := exec.Run(context.Background(), feed); err == nil {
		t.Fatal("Expected Run to surface the feed error, got nil")
	}

	if !hasEvent(t, db, "e1") {
		t.Error("Expected groups applied before the feed broke to stay committed")
	}
}

func TestExecutorDryRunRollsBack(t *testing.T) {
	db := openTestDB(t)

	tx1, a1 := insertAction(1, "e1")
	classifier := &stubClassifier{actions: map[int64]LoadAction{1: a1}}

	exec := newTestExecutor(db, classifier, Options{DryRun: true})
	if err := exec.Run(context.Background(), extract.NewSliceFeed(tx1)); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if n := countEvents(t, db); n != 0 {
		t.Errorf("Expected dry run to persist nothing, got %d rows", n)
	}
	// Groups still executed against the live transaction, so they count.
	if stats := exec.Stats(); stats.Tx != 1 {
		t.Errorf("Expected 1 validated group, got %d", stats.Tx)
	}
}

func TestExecutorSkipsUnmatchedGroups(t *testing.T) {
	db := openTestDB(t)

	tx1 := &extract.Tx{ID: 1, LSN: 1}
	classifier := &stubClassifier{actions: map[int64]LoadAction{}}

	exec := newTestExecutor(db, classifier, Options{})
	if err := exec.Run(context.Background(), extract.NewSliceFeed(tx1)); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if stats := exec.Stats(); stats.Tx != 0 {
		t.Errorf("Expected no groups counted, got %d", stats.Tx)
	}
}

func TestExecutorRollsBackStateOnFailure(t *testing.T) {
	db := openTestDB(t)

	tx1 := &extract.Tx{ID: 1, LSN: 1}
	a1 := &stubAction{
		name: "stub-ok",
		tx:   tx1,
		prepare: func(_ context.Context, _ *Session, st *state.State) ([]Operation, error) {
			if err := st.PIDs.Add("kept", state.PID{ID: 1}); err != nil {
				return nil, err
			}
			return []Operation{Insert(TableWebhookEvent, map[string]any{"id": "e1", "payload": "{}"})}, nil
		},
	}
	tx2 := &extract.Tx{ID: 2, LSN: 2}
	a2 := &stubAction{
		name: "stub-fail",
		tx:   tx2,
		prepare: func(_ context.Context, _ *Session, st *state.State) ([]Operation, error) {
			if err := st.PIDs.Add("undone", state.PID{ID: 2}); err != nil {
				return nil, err
			}
			return nil, errors.New("boom")
		},
	}
	classifier := &stubClassifier{actions: map[int64]LoadAction{1: a1, 2: a2}}

	exec := newTestExecutor(db, classifier, Options{})
	if err := exec.Run(context.Background(), extract.NewSliceFeed(tx1, tx2)); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if _, ok := exec.State().PIDs.Get("kept"); !ok {
		t.Error("Expected the committed group's state entry to survive")
	}
	if _, ok := exec.State().PIDs.Get("undone"); ok {
		t.Error("Expected the failed group's state entry to be rolled back")
	}
}

func TestExecutorCheckSQLRejection(t *testing.T) {
	db := openTestDB(t)

	tx1, a1 := insertAction(1, "e1")
	classifier := &stubClassifier{actions: map[int64]LoadAction{1: a1}}

	reject := func(string) error { return errors.New("rejected") }
	exec := newTestExecutor(db, classifier, Options{CheckSQL: reject})
	if err := exec.Run(context.Background(), extract.NewSliceFeed(tx1)); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if n := countEvents(t, db); n != 0 {
		t.Errorf("Expected rejected statement not to be applied, got %d rows", n)
	}
	if stats := exec.Stats(); stats.Tx != 0 {
		t.Errorf("Expected no groups counted, got %d", stats.Tx)
	}
}
