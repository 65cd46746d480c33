package actions

import (
	"context"

	"github.com/txmigrate/txmigrate/internal/extract"
	"github.com/txmigrate/txmigrate/internal/migrate"
	"github.com/txmigrate/txmigrate/internal/migrate/state"
)

// rowAction covers the simple single-row actions (webhook events, release
// lifecycle): one insert or update against one table, no lineage resolution.
// They run through the same framework so the executor treats them uniformly.
type rowAction struct {
	base
	table string
	kind  migrate.OpKind
	row   map[string]any
}

func newRowAction(name, attr, table string, kind migrate.OpKind, row map[string]any, pks []PKRule, tx *extract.Tx, transformName string) (*rowAction, error) {
	a := &rowAction{
		base: base{
			name:          name,
			tx:            tx,
			transformName: transformName,
			attrs:         map[string]map[string]any{attr: row},
			pks:           pks,
		},
		table: table,
		kind:  kind,
		row:   row,
	}
	if err := requireAttrs(name, a.attrs, attr); err != nil {
		return nil, err
	}
	return a, nil
}

// Prepare implements migrate.LoadAction.
func (a *rowAction) Prepare(ctx context.Context, sess *migrate.Session, st *state.State) ([]migrate.Operation, error) {
	a.generatePKs()
	return []migrate.Operation{{Kind: a.kind, Table: a.table, Row: a.row}}, nil
}

// NewHookEventCreate loads a newly received webhook event. Legacy event ids
// are preserved; absent ones are allocated.
func NewHookEventCreate(event map[string]any, tx *extract.Tx, transformName string) (migrate.LoadAction, error) {
	pks := []PKRule{{Attr: "event", Path: "id", Gen: GenerateUUID}}
	return newRowAction("hook-event-create", "event", migrate.TableWebhookEvent, migrate.OpInsert, event, pks, tx, transformName)
}

// NewHookEventUpdate loads a webhook event status change.
func NewHookEventUpdate(event map[string]any, tx *extract.Tx, transformName string) (migrate.LoadAction, error) {
	return newRowAction("hook-event-update", "event", migrate.TableWebhookEvent, migrate.OpUpdate, event, nil, tx, transformName)
}

// NewHookRepoUpdate loads a repository row change, typically a hook being
// enabled or disabled on the repository.
func NewHookRepoUpdate(repository map[string]any, tx *extract.Tx, transformName string) (migrate.LoadAction, error) {
	return newRowAction("hook-repo-update", "repository", migrate.TableRepository, migrate.OpUpdate, repository, nil, tx, transformName)
}

// NewReleaseReceive loads a newly received repository release.
func NewReleaseReceive(release map[string]any, tx *extract.Tx, transformName string) (migrate.LoadAction, error) {
	pks := []PKRule{{Attr: "release", Path: "id", Gen: GenerateUUID}}
	return newRowAction("release-receive", "release", migrate.TableRelease, migrate.OpInsert, release, pks, tx, transformName)
}

// NewReleaseUpdate loads a release state transition.
func NewReleaseUpdate(release map[string]any, tx *extract.Tx, transformName string) (migrate.LoadAction, error) {
	return newRowAction("release-update", "release", migrate.TableRelease, migrate.OpUpdate, release, nil, tx, transformName)
}

// NewReleaseProcess loads the outcome of processing a release: the row is
// linked to the record built from it and marked with its final status.
func NewReleaseProcess(release map[string]any, tx *extract.Tx, transformName string) (migrate.LoadAction, error) {
	return newRowAction("release-process", "release", migrate.TableRelease, migrate.OpUpdate, release, nil, tx, transformName)
}
