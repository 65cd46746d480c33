package actions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txmigrate/txmigrate/internal/migrate"
	"github.com/txmigrate/txmigrate/internal/migrate/state"
)

// newDraftCreateData builds a minimal create-draft payload the way the
// draft-create transform would.
func newDraftCreateData(draftKey, parentKey string) DraftCreateData {
	return DraftCreateData{
		ParentPID: map[string]any{"pid_type": "recid", "status": "R"},
		Parent: map[string]any{
			"json": map[string]any{
				"id":   parentKey,
				"pids": map[string]any{},
			},
			"created":    "2023-01-01T00:00:00",
			"updated":    "2023-01-01T00:00:00",
			"version_id": 1,
		},
		DraftPID: map[string]any{
			"pid_type":  "recid",
			"pid_value": draftKey,
			"status":    "K",
			"created":   "2023-01-01T00:00:00",
		},
		Draft: map[string]any{
			"json":       map[string]any{"id": draftKey},
			"created":    "2023-01-01T00:00:00",
			"updated":    "2023-01-01T00:00:00",
			"version_id": 1,
			"index":      1,
			"bucket_id":  "bucket-1",
			"expires_at": nil,
		},
		DraftBucket: map[string]any{"id": "bucket-1", "default_storage_class": "L"},
	}
}

func TestDraftCreateNewRecord(t *testing.T) {
	st := state.New()
	data := newDraftCreateData("1234", "1233")

	action, err := NewDraftCreate(data, nil, "draft-create")
	require.NoError(t, err)

	ops, err := action.Prepare(context.Background(), nil, st)
	require.NoError(t, err)
	require.Len(t, ops, 7)

	// Draft pid, bucket, then the fresh parent's row set.
	assert.Equal(t, migrate.OpInsert, ops[0].Kind)
	assert.Equal(t, migrate.TablePersistentIdentifier, ops[0].Table)
	assert.Equal(t, migrate.TableBucket, ops[1].Table)
	assert.Equal(t, migrate.TablePersistentIdentifier, ops[2].Table)
	assert.Equal(t, "1233", ops[2].Row["pid_value"])
	assert.Equal(t, migrate.TableParentMetadata, ops[3].Table)

	// Draft pid confirmation links the freshly allocated draft uuid.
	assert.Equal(t, migrate.OpUpdate, ops[4].Kind)
	assert.Equal(t, migrate.TablePersistentIdentifier, ops[4].Table)
	assert.Equal(t, data.Draft["id"], ops[4].Row["object_uuid"])

	// Draft metadata carries the parent uuid allocated in the same group.
	assert.Equal(t, migrate.TableDraftMetadata, ops[5].Table)
	assert.Equal(t, data.Parent["id"], ops[5].Row["parent_id"])
	assert.Equal(t, data.Draft["parent_id"], ops[5].Row["parent_id"])

	assert.Equal(t, migrate.OpInsert, ops[6].Kind)
	assert.Equal(t, migrate.TableVersionState, ops[6].Table)
	assert.Equal(t, data.Draft["id"], ops[6].Row["next_draft_id"])

	// The ledgers now answer lookups for later groups.
	_, ok := st.PIDs.Get("1234")
	assert.True(t, ok, "draft pid should be registered")
	parent, ok := st.Parents.Get("1233")
	require.True(t, ok, "parent should be registered")
	assert.Equal(t, data.Draft["id"], parent.NextDraftID)
	bucket, ok := st.Buckets.Get("bucket-1")
	require.True(t, ok, "bucket should be registered")
	assert.Equal(t, data.Draft["id"], bucket.DraftID)
}

func TestDraftCreateNewVersion(t *testing.T) {
	st := state.New()
	require.NoError(t, st.Parents.Add("1233", state.Parent{ID: "parent-uuid", LatestIndex: 1, LatestID: "pub-uuid"}))

	data := newDraftCreateData("1240", "1233")
	action, err := NewDraftCreate(data, nil, "draft-create")
	require.NoError(t, err)

	ops, err := action.Prepare(context.Background(), nil, st)
	require.NoError(t, err)
	require.Len(t, ops, 5)

	// No parent rows: the existing parent is reused.
	assert.Equal(t, "parent-uuid", data.Parent["id"])
	assert.Equal(t, migrate.TableDraftMetadata, ops[3].Table)
	assert.Equal(t, "parent-uuid", ops[3].Row["parent_id"])

	parent, _ := st.Parents.Get("1233")
	assert.Equal(t, data.Draft["id"], parent.NextDraftID)
}

func TestDraftCreateSecondOutstandingDraft(t *testing.T) {
	st := state.New()
	require.NoError(t, st.Parents.Add("1233", state.Parent{ID: "parent-uuid", NextDraftID: "in-progress"}))

	data := newDraftCreateData("1240", "1233")
	action, err := NewDraftCreate(data, nil, "draft-create")
	require.NoError(t, err)

	_, err = action.Prepare(context.Background(), nil, st)
	require.ErrorIs(t, err, ErrInvariant)
}

func TestDraftCreateOfPublishedRecord(t *testing.T) {
	st := state.New()
	require.NoError(t, st.Parents.Add("1233", state.Parent{ID: "parent-uuid", LatestIndex: 3, LatestID: "pub-uuid"}))
	require.NoError(t, st.Records.Add("1234", state.Record{ID: "pub-uuid", ParentID: "parent-uuid", Index: 3, ForkVersionID: 2}))

	data := newDraftCreateData("1234", "1233")
	action, err := NewDraftCreate(data, nil, "draft-create")
	require.NoError(t, err)

	ops, err := action.Prepare(context.Background(), nil, st)
	require.NoError(t, err)
	require.Len(t, ops, 4)

	// The draft reuses the published record's uuid, index, and fork version;
	// no pid confirmation happens.
	assert.Equal(t, migrate.TableDraftMetadata, ops[2].Table)
	assert.Equal(t, "pub-uuid", ops[2].Row["id"])
	assert.Equal(t, 3, ops[2].Row["index"])
	assert.Equal(t, 2, ops[2].Row["fork_version_id"])

	assert.Equal(t, migrate.OpUpdate, ops[3].Kind)
	assert.Equal(t, migrate.TableVersionState, ops[3].Table)

	bucket, ok := st.Buckets.Get("bucket-1")
	require.True(t, ok)
	assert.Equal(t, "pub-uuid", bucket.DraftID)
}

func TestDraftCreateParentMismatch(t *testing.T) {
	st := state.New()
	require.NoError(t, st.Parents.Add("1233", state.Parent{ID: "parent-uuid"}))
	require.NoError(t, st.Records.Add("1234", state.Record{ID: "pub-uuid", ParentID: "other-parent"}))

	data := newDraftCreateData("1234", "1233")
	action, err := NewDraftCreate(data, nil, "draft-create")
	require.NoError(t, err)

	_, err = action.Prepare(context.Background(), nil, st)
	require.ErrorIs(t, err, ErrInvariant)
}

func TestDraftCreateSkipsLegacyDepositPID(t *testing.T) {
	st := state.New()
	data := newDraftCreateData("1234", "1233")
	data.DraftPID["pid_type"] = "depid"

	action, err := NewDraftCreate(data, nil, "draft-create")
	require.NoError(t, err)

	ops, err := action.Prepare(context.Background(), nil, st)
	require.NoError(t, err)
	require.Len(t, ops, 5)

	// No draft pid row and no confirmation update; the group starts with the
	// bucket insert.
	assert.Equal(t, migrate.TableBucket, ops[0].Table)
	for _, op := range ops {
		if op.Table == migrate.TablePersistentIdentifier && op.Kind == migrate.OpUpdate {
			t.Errorf("Expected no pid confirmation for a skipped pid, got %s", op)
		}
	}
	_, ok := st.PIDs.Get("1234")
	assert.False(t, ok, "deposit pid must not be registered")
}

func TestDraftCreateMissingPayload(t *testing.T) {
	data := newDraftCreateData("1234", "1233")
	data.DraftBucket = nil

	_, err := NewDraftCreate(data, nil, "draft-create")
	require.ErrorIs(t, err, ErrDataShape)
}

func TestDraftCreatePKGenerationIsIdempotent(t *testing.T) {
	st := state.New()
	data := newDraftCreateData("1234", "1233")
	data.Draft["id"] = "preset-uuid"
	data.DraftPID["id"] = 555

	action, err := NewDraftCreate(data, nil, "draft-create")
	require.NoError(t, err)

	_, err = action.Prepare(context.Background(), nil, st)
	require.NoError(t, err)

	assert.Equal(t, "preset-uuid", data.Draft["id"])
	assert.Equal(t, 555, data.DraftPID["id"])
}

func TestDraftEdit(t *testing.T) {
	st := state.New()
	require.NoError(t, st.Parents.Add("1233", state.Parent{ID: "parent-uuid", NextDraftID: "draft-uuid"}))

	data := DraftEditData{
		Parent: map[string]any{
			"json":    map[string]any{"id": "1233"},
			"updated": "2023-02-01T00:00:00",
		},
		Draft: map[string]any{
			"json":    map[string]any{"id": "1234", "title": "edited"},
			"updated": "2023-02-01T00:00:00",
		},
	}
	action, err := NewDraftEdit(data, nil, "draft-edit")
	require.NoError(t, err)

	ops, err := action.Prepare(context.Background(), nil, st)
	require.NoError(t, err)
	require.Len(t, ops, 2)

	assert.Equal(t, migrate.OpUpdate, ops[0].Kind)
	assert.Equal(t, migrate.TableParentMetadata, ops[0].Table)
	assert.Equal(t, "parent-uuid", ops[0].Row["id"])
	assert.Equal(t, "2023-02-01T00:00:00", ops[0].Row["updated"])
	assert.NotContains(t, ops[0].Row, "json", "the lookup key must not reach the parent row")

	assert.Equal(t, migrate.OpUpdate, ops[1].Kind)
	assert.Equal(t, migrate.TableDraftMetadata, ops[1].Table)
	assert.Equal(t, "draft-uuid", ops[1].Row["id"])
}

func TestDraftEditOfPublishedRecord(t *testing.T) {
	st := state.New()
	// The parent has no draft in progress; the edit lands on the published
	// record's row.
	require.NoError(t, st.Parents.Add("1233", state.Parent{ID: "parent-uuid"}))
	require.NoError(t, st.Records.Add("1234", state.Record{ID: "pub-uuid", ParentID: "parent-uuid"}))

	data := DraftEditData{
		Parent: map[string]any{"json": map[string]any{"id": "1233"}},
		Draft:  map[string]any{"json": map[string]any{"id": "1234"}},
	}
	action, err := NewDraftEdit(data, nil, "draft-edit")
	require.NoError(t, err)

	ops, err := action.Prepare(context.Background(), nil, st)
	require.NoError(t, err)
	// The payload carries nothing beyond the parent lookup key, so only the
	// draft row is touched.
	require.Len(t, ops, 1)
	assert.Equal(t, migrate.TableDraftMetadata, ops[0].Table)
	assert.Equal(t, "pub-uuid", ops[0].Row["id"])
}

func TestDraftEditUnknownParent(t *testing.T) {
	st := state.New()

	data := DraftEditData{
		Parent: map[string]any{"json": map[string]any{"id": "nope"}},
		Draft:  map[string]any{"json": map[string]any{"id": "1234"}},
	}
	action, err := NewDraftEdit(data, nil, "draft-edit")
	require.NoError(t, err)

	_, err = action.Prepare(context.Background(), nil, st)
	require.ErrorIs(t, err, ErrReference)
}

func TestDraftCreateThenEdit(t *testing.T) {
	st := state.New()

	create, err := NewDraftCreate(newDraftCreateData("1234", "1233"), nil, "draft-create")
	require.NoError(t, err)
	_, err = create.Prepare(context.Background(), nil, st)
	require.NoError(t, err)

	draftID := create.data.Draft["id"]

	edit, err := NewDraftEdit(DraftEditData{
		Parent: map[string]any{"json": map[string]any{"id": "1233"}},
		Draft:  map[string]any{"json": map[string]any{"id": "1234"}},
	}, nil, "draft-edit")
	require.NoError(t, err)

	ops, err := edit.Prepare(context.Background(), nil, st)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, draftID, ops[0].Row["id"], "the edit must land on the row the create wrote")
}

func TestDraftEditKeepsParentJSON(t *testing.T) {
	sess := newActionTestSession(t)
	st := state.New()
	ctx := context.Background()

	create, err := NewDraftCreate(newDraftCreateData("1234", "1233"), nil, "draft-create")
	require.NoError(t, err)
	ops, err := create.Prepare(ctx, sess, st)
	require.NoError(t, err)
	for _, op := range ops {
		require.NoError(t, sess.Apply(ctx, op))
	}

	edit, err := NewDraftEdit(DraftEditData{
		Parent: map[string]any{
			"json":    map[string]any{"id": "1233"},
			"updated": "2023-02-01T00:00:00",
		},
		Draft: map[string]any{
			"json":    map[string]any{"id": "1234", "title": "edited"},
			"updated": "2023-02-01T00:00:00",
		},
	}, nil, "draft-edit")
	require.NoError(t, err)
	ops, err = edit.Prepare(ctx, sess, st)
	require.NoError(t, err)
	for _, op := range ops {
		require.NoError(t, sess.Apply(ctx, op))
	}

	// The full parent json written at creation survives the edit; only the
	// timestamp moves.
	where := map[string]any{"id": create.data.Parent["id"]}
	parentJSON, found, err := sess.SelectValue(ctx, migrate.TableParentMetadata, "json", where)
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, parentJSON, `"pids"`)

	updated, _, err := sess.SelectValue(ctx, migrate.TableParentMetadata, "updated", where)
	require.NoError(t, err)
	assert.Equal(t, "2023-02-01T00:00:00", updated)
}
