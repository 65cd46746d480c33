package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/txmigrate/txmigrate/internal/database"
	"github.com/txmigrate/txmigrate/internal/extract"
	"github.com/txmigrate/txmigrate/internal/migrate/state"
)

// ErrNoMatch is returned by a Classifier when no registered action recognizes
// a transaction group.
var ErrNoMatch = errors.New("no action matches transaction")

// LoadAction turns classified, transformed data into an ordered list of row
// operations, resolving identifiers against the state store along the way.
// Prepare is called exactly once, inside the group's savepoint.
type LoadAction interface {
	// Name identifies the action in diagnostics.
	Name() string

	// TransformName identifies the transform that built this action, for
	// diagnostics. Empty for directly constructed actions.
	TransformName() string

	// Tx returns the originating transaction group, or nil.
	Tx() *extract.Tx

	// Prepare generates primary keys, resolves references against the state
	// store, and returns every row operation implied by the action, in order.
	// State store updates happen as a side effect.
	Prepare(ctx context.Context, sess *Session, st *state.State) ([]Operation, error)
}

// Classifier matches a transaction group to the load action that handles it.
// Returns ErrNoMatch (wrapped) when no registered action recognizes the group.
type Classifier interface {
	Classify(tx *extract.Tx) (LoadAction, error)
}

// SQLChecker validates a rendered statement before execution. Wired to the
// pg_query-based validator in dry-run verbose mode.
type SQLChecker func(query string) error

// Options control a single executor run.
type Options struct {
	// DryRun wraps the whole run in one outer transaction that is always
	// rolled back, validating every generated statement against a real
	// target without persisting anything.
	DryRun bool

	// EscalateOnError aborts the run on the first failed transaction group
	// instead of continuing with the next one. Groups committed before the
	// failure are kept; only the failing group is rolled back.
	EscalateOnError bool

	// CheckSQL, when set, is called with each statement before execution.
	CheckSQL SQLChecker
}

// Executor replays classified transaction groups against the target store,
// one savepoint-scoped sub-transaction per group. A failing group rolls back
// alone; prior and subsequent groups are unaffected.
type Executor struct {
	db         *sql.DB
	dialect    database.Dialect
	state      *state.State
	classifier Classifier
	opts       Options
	log        zerolog.Logger
	failedLog  zerolog.Logger
	stats      Stats
}

// NewExecutor creates an executor for one migration run. The state store is
// created here and lives exactly as long as the run.
func NewExecutor(db *sql.DB, dialect database.Dialect, classifier Classifier, opts Options, log, failedLog zerolog.Logger) *Executor {
	return &Executor{
		db:         db,
		dialect:    dialect,
		state:      state.New(),
		classifier: classifier,
		opts:       opts,
		log:        log,
		failedLog:  failedLog,
	}
}

// State exposes the run's state store. Bootstrap loaders use it to seed
// already-migrated entities before replay starts.
func (e *Executor) State() *state.State {
	return e.state
}

// Stats returns a snapshot of the run's throughput counters.
func (e *Executor) Stats() Stats {
	return e.stats
}

// Run consumes the feed in order until io.EOF. Each group is classified,
// prepared, and applied inside its own savepoint. By default a failing group
// is logged and skipped; with EscalateOnError the run stops after the failed
// group's cleanup, keeping everything committed up to that point. Dry-run
// always rolls the outer transaction back instead.
func (e *Executor) Run(ctx context.Context, feed extract.Feed) (runErr error) {
	outer, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin outer transaction: %w", err)
	}
	sess := NewSession(outer, e.dialect)

	committed := false
	defer func() {
		if committed {
			return
		}
		if err := outer.Rollback(); err != nil && runErr == nil {
			runErr = fmt.Errorf("failed to roll back outer transaction: %w", err)
		}
	}()

	// finish ends the run: commit the outer transaction so the groups applied
	// so far are durable, then surface the cause (an escalated group failure,
	// a broken feed, or nil on a clean run). Dry-run skips the commit and
	// lets the deferred rollback discard everything.
	finish := func(cause error) error {
		if e.opts.DryRun {
			return cause
		}
		if err := outer.Commit(); err != nil {
			if cause != nil {
				return fmt.Errorf("%w (outer commit also failed: %s)", cause, err)
			}
			return fmt.Errorf("failed to commit outer transaction: %w", err)
		}
		committed = true
		return cause
	}

	if e.opts.DryRun {
		e.log.Warn().Msg("dry run: the outer transaction will be rolled back")
	}

	e.stats = Stats{Start: time.Now()}
	for {
		tx, err := feed.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return finish(fmt.Errorf("feed failed: %w", err))
		}

		action, err := e.classifier.Classify(tx)
		if errors.Is(err, ErrNoMatch) {
			e.log.Debug().Int64("tx", tx.ID).Int64("lsn", tx.LSN).Msg("no matching action, skipping")
			continue
		}
		if err != nil {
			e.failGroup(tx, "", "", err)
			if e.opts.EscalateOnError {
				return finish(err)
			}
			continue
		}

		if err := e.applyAction(ctx, sess, action); err != nil {
			if e.opts.EscalateOnError {
				return finish(err)
			}
		}
	}

	e.log.Info().Stringer("stats", &e.stats).Msg("load finished")
	return finish(nil)
}

// applyAction runs one transaction group inside a savepoint. On any failure
// the savepoint and the state store mutations are both rolled back, so a
// failed group leaves no partial state for later groups to observe.
func (e *Executor) applyAction(ctx context.Context, sess *Session, action LoadAction) error {
	tx := action.Tx()
	begin := e.log.Info().Str("action", action.Name())
	if tx != nil {
		begin = begin.Int64("tx", tx.ID).Int64("lsn", tx.LSN)
	}
	begin.Msg("BEGIN")

	mark := e.state.Mark()
	sp, err := sess.Savepoint(ctx)
	if err != nil {
		return err
	}

	applied, err := e.applyOperations(ctx, sess, action)
	if err != nil {
		e.state.Rollback(mark)
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			// The enclosing transaction is unusable at this point.
			return fmt.Errorf("%w (savepoint rollback also failed: %s)", err, rbErr)
		}
		e.failGroup(tx, action.Name(), action.TransformName(), err)
		e.log.Info().Str("action", action.Name()).Msg("ROLLBACK")
		return err
	}

	if err := sp.Release(ctx); err != nil {
		e.state.Rollback(mark)
		e.failGroup(tx, action.Name(), action.TransformName(), err)
		return err
	}
	e.state.Commit(mark)
	e.stats.Tx++
	e.stats.Ops += int64(applied)

	end := e.log.Info().Str("action", action.Name())
	if tx != nil {
		end = end.Int64("tx", tx.ID).Int64("lsn", tx.LSN)
	}
	end.Msg("COMMIT")
	e.log.Info().Stringer("stats", &e.stats).Msg("progress")
	return nil
}

func (e *Executor) applyOperations(ctx context.Context, sess *Session, action LoadAction) (int, error) {
	ops, err := action.Prepare(ctx, sess, e.state)
	if err != nil {
		return 0, fmt.Errorf("prepare %s failed: %w", action.Name(), err)
	}
	for i, op := range ops {
		if e.opts.CheckSQL != nil {
			query, _, err := RenderOperation(e.dialect, op)
			if err != nil {
				return 0, fmt.Errorf("operation %d (%s) failed: %w", i, op, err)
			}
			if err := e.opts.CheckSQL(query); err != nil {
				return 0, fmt.Errorf("operation %d (%s) rejected: %w", i, op, err)
			}
		}
		e.log.Debug().Stringer("op", op).Msg("apply")
		if err := sess.Apply(ctx, op); err != nil {
			return 0, fmt.Errorf("operation %d (%s) failed: %w", i, op, err)
		}
	}
	return len(ops), nil
}

// failGroup records a failed transaction group in both diagnostics sinks with
// enough context for offline triage and replay.
func (e *Executor) failGroup(tx *extract.Tx, action, transform string, cause error) {
	evt := e.log.Error().Err(cause)
	failed := e.failedLog.Error().Err(cause)
	if action != "" {
		evt = evt.Str("action", action)
		failed = failed.Str("action", action)
	}
	if transform != "" {
		evt = evt.Str("transform", transform)
		failed = failed.Str("transform", transform)
	}
	if tx != nil {
		evt = evt.Int64("tx", tx.ID).Int64("lsn", tx.LSN)
		failed = failed.Int64("tx", tx.ID).Int64("lsn", tx.LSN).Interface("ops", tx.Ops)
	}
	evt.Msg("transaction group failed")
	failed.Msg("failed processing transaction")
}
