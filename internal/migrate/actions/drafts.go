package actions

import (
	"context"
	"fmt"
	"time"

	"github.com/txmigrate/txmigrate/internal/extract"
	"github.com/txmigrate/txmigrate/internal/migrate"
	"github.com/txmigrate/txmigrate/internal/migrate/state"
)

// DraftCreateData is the payload of a draft-creation group: the draft's own
// record fragments and its owning parent's.
type DraftCreateData struct {
	ParentPID   map[string]any
	Parent      map[string]any
	DraftPID    map[string]any
	Draft       map[string]any
	DraftBucket map[string]any
}

// DraftCreate loads a newly created draft. Three cases, resolved against the
// RECORDS and PARENTS ledgers:
//
//	(a) new record: no parent known yet; a fresh parent is allocated and its
//	    full row set emitted.
//	(b) new version of a published record: the parent is reused; it must not
//	    already have an outstanding draft.
//	(c) edit of a published record: a published record exists for the draft's
//	    natural key; no new identifiers are allocated.
type DraftCreate struct {
	base
	data DraftCreateData
}

// NewDraftCreate validates the payload shape and builds the action.
func NewDraftCreate(data DraftCreateData, tx *extract.Tx, transformName string) (*DraftCreate, error) {
	a := &DraftCreate{
		base: base{
			name:          "create-draft",
			tx:            tx,
			transformName: transformName,
			attrs: map[string]map[string]any{
				"parent_pid":   data.ParentPID,
				"parent":       data.Parent,
				"draft_pid":    data.DraftPID,
				"draft":        data.Draft,
				"draft_bucket": data.DraftBucket,
			},
			// Not both parent.json.pid and draft.json.pid come filled in
			// from the transform; missing ones are allocated here.
			pks: []PKRule{
				{Attr: "draft_pid", Path: "id", Gen: GeneratePK},
				{Attr: "draft", Path: "id", Gen: GenerateUUID},
				{Attr: "parent_pid", Path: "id", Gen: GeneratePK},
				{Attr: "parent", Path: "id", Gen: GenerateUUID},
			},
		},
		data: data,
	}
	if err := requireAttrs(a.name, a.attrs, "parent_pid", "parent", "draft_pid", "draft", "draft_bucket"); err != nil {
		return nil, err
	}
	return a, nil
}

// Prepare implements migrate.LoadAction.
func (a *DraftCreate) Prepare(ctx context.Context, sess *migrate.Session, st *state.State) ([]migrate.Operation, error) {
	a.generatePKs()

	var ops []migrate.Operation
	pidOps, err := a.pidRows(st)
	if err != nil {
		return nil, err
	}
	ops = append(ops, pidOps...)
	ops = append(ops, migrate.Insert(migrate.TableBucket, a.data.DraftBucket))

	draftOps, err := a.draftRows(st)
	if err != nil {
		return nil, err
	}
	return append(ops, draftOps...), nil
}

func (a *DraftCreate) pidRows(st *state.State) ([]migrate.Operation, error) {
	pid := a.data.DraftPID
	if strField(pid, "pid_type") == "depid" {
		// Legacy deposit pids are not carried over.
		return nil, nil
	}
	err := st.PIDs.Add(strField(pid, "pid_value"), state.PID{
		ID:      intField(pid, "id"),
		Type:    strField(pid, "pid_type"),
		Status:  strField(pid, "status"),
		ObjType: strField(pid, "object_type"),
		Created: strField(pid, "created"),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", a.name, ErrInvariant, err)
	}
	return []migrate.Operation{migrate.Insert(migrate.TablePersistentIdentifier, pid)}, nil
}

func (a *DraftCreate) draftRows(st *state.State) ([]migrate.Operation, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	draft := a.data.Draft
	parent := a.data.Parent
	draftKey := strField(mapField(draft, "json"), "id")
	parentKey := strField(mapField(parent, "json"), "id")

	forked, hasForked := st.Records.Get(draftKey)
	existingParent, hasParent := st.Parents.Get(parentKey)

	var ops []migrate.Operation

	// Both start out equal; parent.id was just allocated by the pk step and
	// the transform cannot know the final value.
	draft["parent_id"] = parent["id"]
	if !hasParent {
		// Case (a): brand-new record, fresh parent.
		err := st.Parents.Add(parentKey, state.Parent{
			ID:          strField(parent, "id"),
			NextDraftID: strField(draft, "id"),
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %s", a.name, ErrInvariant, err)
		}
		ops = append(ops, parentRowOps(parent, a.data.ParentPID)...)
	} else {
		parent["id"] = existingParent.ID
		draft["parent_id"] = existingParent.ID
		if !hasForked {
			// Case (b): new version. At most one unpublished draft per
			// parent at a time.
			if existingParent.NextDraftID != "" {
				return nil, fmt.Errorf("%s: %w: parent %s already has draft %s in progress",
					a.name, ErrInvariant, parentKey, existingParent.NextDraftID)
			}
			draftID := strField(draft, "id")
			if err := st.Parents.Update(parentKey, func(p *state.Parent) { p.NextDraftID = draftID }); err != nil {
				return nil, fmt.Errorf("%s: %w: %s", a.name, ErrInvariant, err)
			}
		} else {
			// Case (c): the draft re-derives a published record; the parent
			// bound to state and the record's parent must agree.
			if existingParent.ID != forked.ParentID {
				return nil, fmt.Errorf("%s: %w: state parent %s does not match published record parent %s",
					a.name, ErrInvariant, existingParent.ID, forked.ParentID)
			}
		}
	}

	// The draft's recid was registered earlier in this same group; confirm it
	// by linking the object uuid. A skipped legacy pid has nothing to confirm.
	if draftPID, ok := st.PIDs.Get(draftKey); !hasForked && ok {
		ops = append(ops, migrate.Update(migrate.TablePersistentIdentifier, map[string]any{
			"id":          draftPID.ID,
			"pid_type":    draftPID.Type,
			"pid_value":   draftKey,
			"status":      draftPID.Status,
			"object_type": "rec",
			"object_uuid": draft["id"],
			"created":     draftPID.Created,
			"updated":     now,
		}))
	}

	draftID := forked.ID
	if draftID == "" {
		draftID = strField(draft, "id")
	}

	if err := st.Buckets.Add(strField(draft, "bucket_id"), state.Bucket{DraftID: draftID}); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", a.name, ErrInvariant, err)
	}

	index := draft["index"]
	forkVersionID := draft["fork_version_id"]
	if hasForked {
		index = forked.Index
		forkVersionID = forked.ForkVersionID
	}
	ops = append(ops, migrate.Insert(migrate.TableDraftMetadata, map[string]any{
		"id":              draftID,
		"json":            draft["json"],
		"created":         draft["created"],
		"updated":         draft["updated"],
		"version_id":      draft["version_id"],
		"index":           index,
		"bucket_id":       draft["bucket_id"],
		"parent_id":       parent["id"],
		"expires_at":      draft["expires_at"],
		"fork_version_id": forkVersionID,
	}))

	// Re-read: the branches above may have updated the parent entry.
	current, ok := st.Parents.Get(parentKey)
	if !ok {
		return nil, fmt.Errorf("%s: %w: parent %s", a.name, ErrReference, parentKey)
	}
	versionRow := map[string]any{
		"parent_id":     current.ID,
		"latest_index":  nilIfZero(current.LatestIndex),
		"latest_id":     nullable(current.LatestID),
		"next_draft_id": nullable(current.NextDraftID),
	}
	if hasForked {
		ops = append(ops, migrate.Update(migrate.TableVersionState, versionRow))
	} else {
		ops = append(ops, migrate.Insert(migrate.TableVersionState, versionRow))
	}
	return ops, nil
}

func nilIfZero(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

// DraftEditData is the payload of a draft-edit group: partial parent and
// draft fragments to apply on top of rows written when the draft was created.
type DraftEditData struct {
	Parent map[string]any
	Draft  map[string]any
}

// DraftEdit loads an edit of an in-progress draft. No identifier allocation
// happens here; the parent and draft ids are resolved from the state store
// (or from the published record the draft forked off) and only update rows
// are emitted.
type DraftEdit struct {
	base
	data DraftEditData
}

// NewDraftEdit validates the payload shape and builds the action.
func NewDraftEdit(data DraftEditData, tx *extract.Tx, transformName string) (*DraftEdit, error) {
	a := &DraftEdit{
		base: base{
			name:          "edit-draft",
			tx:            tx,
			transformName: transformName,
			attrs: map[string]map[string]any{
				"parent": data.Parent,
				"draft":  data.Draft,
			},
		},
		data: data,
	}
	if err := requireAttrs(a.name, a.attrs, "parent", "draft"); err != nil {
		return nil, err
	}
	return a, nil
}

// Prepare implements migrate.LoadAction.
func (a *DraftEdit) Prepare(ctx context.Context, sess *migrate.Session, st *state.State) ([]migrate.Operation, error) {
	if err := a.resolveReferences(st); err != nil {
		return nil, err
	}

	parent := a.data.Parent
	draft := a.data.Draft

	if strField(parent, "id") == "" {
		return nil, fmt.Errorf("%s: %w: parent id unresolved", a.name, ErrInvariant)
	}

	// The parent json in the payload is only the lookup key; writing it out
	// would clobber the full json stored when the parent was created. The
	// update carries the remaining columns, and is skipped when there are none.
	var ops []migrate.Operation
	parentRow := map[string]any{"id": parent["id"]}
	for col, v := range parent {
		if col != "id" && col != "json" {
			parentRow[col] = v
		}
	}
	if len(parentRow) > 1 {
		ops = append(ops, migrate.Update(migrate.TableParentMetadata, parentRow))
	}

	// Index and fork version were fixed when the draft was created; they are
	// only touched here if the partial data carries them. The parent id
	// cannot change during migration.
	draftKey := strField(mapField(draft, "json"), "id")
	draftID := strField(draft, "id")
	if forked, ok := st.Records.Get(draftKey); ok {
		draftID = forked.ID
	}
	if draftID == "" {
		return nil, fmt.Errorf("%s: %w: draft id unresolved for %s", a.name, ErrInvariant, draftKey)
	}
	draft["id"] = draftID
	return append(ops, migrate.Update(migrate.TableDraftMetadata, draft)), nil
}

// resolveReferences binds the parent and draft uuids from the versioning
// ledger; the transform cannot know them.
func (a *DraftEdit) resolveReferences(st *state.State) error {
	parentKey := strField(mapField(a.data.Parent, "json"), "id")
	stateParent, ok := st.Parents.Get(parentKey)
	if !ok {
		return fmt.Errorf("%s: %w: parent %s", a.name, ErrReference, parentKey)
	}
	a.data.Draft["id"] = stateParent.NextDraftID
	a.data.Parent["id"] = stateParent.ID
	return nil
}
