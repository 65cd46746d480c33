package actions

import (
	"fmt"

	"github.com/txmigrate/txmigrate/internal/extract"
	"github.com/txmigrate/txmigrate/internal/migrate"
)

// Source (legacy) table names as they appear in the captured change stream.
const (
	srcRecordMetadata = "records_metadata"
	srcPID            = "pidstore_pid"
	srcBucket         = "files_bucket"
	srcObjectVersion  = "files_object_version"
	srcFileInstance   = "files_files"
	srcWebhookEvent   = "webhooks_events"
	srcRepository     = "github_repositories"
	srcRelease        = "github_releases"
)

// cloneRow copies a captured row, dropping transaction-bookkeeping fields
// that are not part of the domain payload.
func cloneRow(row map[string]any, drop ...string) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = v
	}
	delete(out, "tx_id")
	for _, k := range drop {
		delete(out, k)
	}
	return out
}

// isMediaBucketOp reports whether the group's bucket change is tagged as a
// media bucket by the extraction.
func isMediaBucketOp(tx *extract.Tx) bool {
	for _, op := range tx.Changes(srcBucket) {
		if media, _ := op.After["media"].(bool); media {
			return true
		}
	}
	return false
}

// findPIDInsert returns the captured pid insert with the given pid value.
func findPIDInsert(tx *extract.Tx, pidValue string) (map[string]any, bool) {
	for _, op := range tx.Changes(srcPID) {
		if op.Kind == extract.ChangeInsert && strField(op.After, "pid_value") == pidValue {
			return op.After, true
		}
	}
	return nil, false
}

// DraftCreateTransform recognizes the creation of a new draft: a record
// metadata insert together with its bucket insert.
type DraftCreateTransform struct{}

func (t *DraftCreateTransform) Name() string { return "draft-create" }

func (t *DraftCreateTransform) Matches(tx *extract.Tx) bool {
	return tx.HasChange(srcRecordMetadata, extract.ChangeInsert) &&
		tx.HasChange(srcBucket, extract.ChangeInsert)
}

func (t *DraftCreateTransform) Transform(tx *extract.Tx) (migrate.LoadAction, error) {
	record, _ := tx.FirstChange(srcRecordMetadata, extract.ChangeInsert)
	bucketOp, _ := tx.FirstChange(srcBucket, extract.ChangeInsert)

	recordJSON := mapField(record.After, "json")
	draftKey := strField(recordJSON, "id")
	parentKey := strField(recordJSON, "conceptrecid")
	if draftKey == "" || parentKey == "" {
		return nil, fmt.Errorf("%w: record json is missing id/conceptrecid", ErrDataShape)
	}

	// The legacy internal id is not carried over; the pk step allocates a
	// fresh one.
	draft := cloneRow(record.After, "id")
	draft["json"] = recordJSON

	parent := map[string]any{
		"json": map[string]any{
			"id":     parentKey,
			"pid":    map[string]any{"pid_type": "recid", "status": "R", "obj_type": "rec"},
			"pids":   mapField(recordJSON, "parent_pids"),
			"access": mapField(recordJSON, "parent_access"),
		},
		"created":    record.After["created"],
		"updated":    record.After["updated"],
		"version_id": 1,
	}

	draftPID, ok := findPIDInsert(tx, draftKey)
	if !ok {
		return nil, fmt.Errorf("%w: no pid insert for draft %s", ErrDataShape, draftKey)
	}
	parentPID, ok := findPIDInsert(tx, parentKey)
	if !ok {
		return nil, fmt.Errorf("%w: no pid insert for parent %s", ErrDataShape, parentKey)
	}

	return NewDraftCreate(DraftCreateData{
		ParentPID:   cloneRow(parentPID),
		Parent:      parent,
		DraftPID:    cloneRow(draftPID),
		Draft:       draft,
		DraftBucket: cloneRow(bucketOp.After),
	}, tx, t.Name())
}

// DraftEditTransform recognizes an edit of an in-progress draft: a record
// metadata update with no bucket or file activity in the same group.
type DraftEditTransform struct{}

func (t *DraftEditTransform) Name() string { return "draft-edit" }

func (t *DraftEditTransform) Matches(tx *extract.Tx) bool {
	return tx.HasChange(srcRecordMetadata, extract.ChangeUpdate) &&
		!tx.HasChange(srcBucket, extract.ChangeInsert) &&
		len(tx.Changes(srcObjectVersion)) == 0
}

func (t *DraftEditTransform) Transform(tx *extract.Tx) (migrate.LoadAction, error) {
	record, _ := tx.FirstChange(srcRecordMetadata, extract.ChangeUpdate)
	recordJSON := mapField(record.After, "json")
	parentKey := strField(recordJSON, "conceptrecid")
	if parentKey == "" {
		return nil, fmt.Errorf("%w: record json is missing conceptrecid", ErrDataShape)
	}

	// Ids are resolved against the state store at load time.
	draft := cloneRow(record.After, "id", "bucket_id")
	draft["json"] = recordJSON

	parent := map[string]any{
		"json":    map[string]any{"id": parentKey},
		"updated": record.After["updated"],
	}
	return NewDraftEdit(DraftEditData{Parent: parent, Draft: draft}, tx, t.Name())
}

// fileUploadPayload assembles the shared upload payload from a group.
func fileUploadPayload(tx *extract.Tx) (FileUploadData, error) {
	ovOp, _ := tx.FirstChange(srcObjectVersion, extract.ChangeInsert)
	instanceOp, _ := tx.FirstChange(srcFileInstance, extract.ChangeInsert)

	var bucket map[string]any
	if op, ok := tx.FirstChange(srcBucket, extract.ChangeUpdate); ok {
		bucket = cloneRow(op.After, "media")
	} else if op, ok := tx.FirstChange(srcBucket, extract.ChangeInsert); ok {
		bucket = cloneRow(op.After, "media")
	} else {
		return FileUploadData{}, fmt.Errorf("%w: upload group carries no bucket change", ErrDataShape)
	}

	newOV := cloneRow(ovOp.After)
	data := FileUploadData{
		Bucket:        bucket,
		ObjectVersion: newOV,
		FileInstance:  cloneRow(instanceOp.After),
		FileRecord: map[string]any{
			"key":     newOV["key"],
			"created": newOV["created"],
			"updated": newOV["updated"],
		},
	}

	// A captured head toggle names the version this upload replaces.
	for _, op := range tx.Changes(srcObjectVersion) {
		if op.Kind == extract.ChangeUpdate {
			if head, ok := op.After["is_head"].(bool); ok && !head {
				data.ReplacedObjectVersion = map[string]any{"version_id": op.After["version_id"]}
				break
			}
		}
	}
	return data, nil
}

// FileUploadTransform recognizes a file upload: a new object version plus its
// file instance.
type FileUploadTransform struct{}

func (t *FileUploadTransform) Name() string { return "file-upload" }

func (t *FileUploadTransform) Matches(tx *extract.Tx) bool {
	return tx.HasChange(srcObjectVersion, extract.ChangeInsert) &&
		tx.HasChange(srcFileInstance, extract.ChangeInsert)
}

func (t *FileUploadTransform) Transform(tx *extract.Tx) (migrate.LoadAction, error) {
	data, err := fileUploadPayload(tx)
	if err != nil {
		return nil, err
	}
	return NewFileUpload(data, tx, t.Name())
}

// MediaFileUploadTransform recognizes an upload into a media bucket. Strictly
// narrower than FileUploadTransform, so it is registered first.
type MediaFileUploadTransform struct{}

func (t *MediaFileUploadTransform) Name() string { return "media-file-upload" }

func (t *MediaFileUploadTransform) Matches(tx *extract.Tx) bool {
	return (&FileUploadTransform{}).Matches(tx) && isMediaBucketOp(tx)
}

func (t *MediaFileUploadTransform) Transform(tx *extract.Tx) (migrate.LoadAction, error) {
	data, err := fileUploadPayload(tx)
	if err != nil {
		return nil, err
	}
	// A media bucket insert means this is the draft's first media upload;
	// the draft is located through its recid at load time.
	if tx.HasChange(srcBucket, extract.ChangeInsert) {
		if record, ok := tx.FirstChange(srcRecordMetadata, extract.ChangeUpdate); ok {
			data.PIDValue = strField(mapField(record.After, "json"), "id")
		}
		if data.PIDValue == "" {
			return nil, fmt.Errorf("%w: new media bucket without a record pid", ErrDataShape)
		}
	}
	return NewMediaFileUpload(data, tx, t.Name())
}

// fileDeletePayload assembles the shared delete payload from a group.
func fileDeletePayload(tx *extract.Tx) (FileDeleteData, error) {
	bucketOp, ok := tx.FirstChange(srcBucket, extract.ChangeUpdate)
	if !ok {
		return FileDeleteData{}, fmt.Errorf("%w: delete group carries no bucket update", ErrDataShape)
	}

	data := FileDeleteData{Bucket: cloneRow(bucketOp.After, "media")}
	for _, op := range tx.Changes(srcObjectVersion) {
		switch op.Kind {
		case extract.ChangeUpdate:
			data.DeletedObjectVersion = cloneRow(op.After)
		case extract.ChangeInsert:
			// The extraction may have captured the delete marker itself.
			data.DeleteMarkerObjectVersion = cloneRow(op.After)
		}
	}
	if data.DeletedObjectVersion == nil {
		return FileDeleteData{}, fmt.Errorf("%w: delete group carries no object version update", ErrDataShape)
	}
	return data, nil
}

// FileDeleteTransform recognizes a file deletion: the head object version is
// toggled off with no new file instance in the group.
type FileDeleteTransform struct{}

func (t *FileDeleteTransform) Name() string { return "file-delete" }

func (t *FileDeleteTransform) Matches(tx *extract.Tx) bool {
	return tx.HasChange(srcObjectVersion, extract.ChangeUpdate) &&
		!tx.HasChange(srcFileInstance, extract.ChangeInsert) &&
		tx.HasChange(srcBucket, extract.ChangeUpdate)
}

func (t *FileDeleteTransform) Transform(tx *extract.Tx) (migrate.LoadAction, error) {
	data, err := fileDeletePayload(tx)
	if err != nil {
		return nil, err
	}
	return NewFileDelete(data, tx, t.Name())
}

// MediaFileDeleteTransform recognizes a deletion from a media bucket.
type MediaFileDeleteTransform struct{}

func (t *MediaFileDeleteTransform) Name() string { return "media-file-delete" }

func (t *MediaFileDeleteTransform) Matches(tx *extract.Tx) bool {
	return (&FileDeleteTransform{}).Matches(tx) && isMediaBucketOp(tx)
}

func (t *MediaFileDeleteTransform) Transform(tx *extract.Tx) (migrate.LoadAction, error) {
	data, err := fileDeletePayload(tx)
	if err != nil {
		return nil, err
	}
	return NewMediaFileDelete(data, tx, t.Name())
}

// HookEventCreateTransform recognizes a newly received webhook event.
type HookEventCreateTransform struct{}

func (t *HookEventCreateTransform) Name() string { return "hook-event-create" }

func (t *HookEventCreateTransform) Matches(tx *extract.Tx) bool {
	return tx.HasChange(srcWebhookEvent, extract.ChangeInsert)
}

func (t *HookEventCreateTransform) Transform(tx *extract.Tx) (migrate.LoadAction, error) {
	op, _ := tx.FirstChange(srcWebhookEvent, extract.ChangeInsert)
	return NewHookEventCreate(cloneRow(op.After), tx, t.Name())
}

// HookEventUpdateTransform recognizes a webhook event status change.
type HookEventUpdateTransform struct{}

func (t *HookEventUpdateTransform) Name() string { return "hook-event-update" }

func (t *HookEventUpdateTransform) Matches(tx *extract.Tx) bool {
	return tx.HasChange(srcWebhookEvent, extract.ChangeUpdate)
}

func (t *HookEventUpdateTransform) Transform(tx *extract.Tx) (migrate.LoadAction, error) {
	op, _ := tx.FirstChange(srcWebhookEvent, extract.ChangeUpdate)
	return NewHookEventUpdate(cloneRow(op.After), tx, t.Name())
}

// HookRepoUpdateTransform recognizes a repository row change with no event or
// release activity in the group, typically a hook being toggled.
type HookRepoUpdateTransform struct{}

func (t *HookRepoUpdateTransform) Name() string { return "hook-repo-update" }

func (t *HookRepoUpdateTransform) Matches(tx *extract.Tx) bool {
	return tx.HasChange(srcRepository, extract.ChangeUpdate) &&
		len(tx.Changes(srcWebhookEvent)) == 0 &&
		len(tx.Changes(srcRelease)) == 0
}

func (t *HookRepoUpdateTransform) Transform(tx *extract.Tx) (migrate.LoadAction, error) {
	op, _ := tx.FirstChange(srcRepository, extract.ChangeUpdate)
	return NewHookRepoUpdate(cloneRow(op.After), tx, t.Name())
}

// ReleaseReceiveTransform recognizes a newly received repository release.
type ReleaseReceiveTransform struct{}

func (t *ReleaseReceiveTransform) Name() string { return "release-receive" }

func (t *ReleaseReceiveTransform) Matches(tx *extract.Tx) bool {
	return tx.HasChange(srcRelease, extract.ChangeInsert)
}

func (t *ReleaseReceiveTransform) Transform(tx *extract.Tx) (migrate.LoadAction, error) {
	op, _ := tx.FirstChange(srcRelease, extract.ChangeInsert)
	return NewReleaseReceive(cloneRow(op.After), tx, t.Name())
}

// ReleaseProcessTransform recognizes a processed release: the update links the
// release to the record built from it. Strictly narrower than
// ReleaseUpdateTransform, so it is registered first.
type ReleaseProcessTransform struct{}

func (t *ReleaseProcessTransform) Name() string { return "release-process" }

func (t *ReleaseProcessTransform) Matches(tx *extract.Tx) bool {
	op, ok := processedReleaseChange(tx)
	return ok && op.After["record_id"] != nil
}

func (t *ReleaseProcessTransform) Transform(tx *extract.Tx) (migrate.LoadAction, error) {
	op, _ := processedReleaseChange(tx)
	return NewReleaseProcess(cloneRow(op.After), tx, t.Name())
}

func processedReleaseChange(tx *extract.Tx) (extract.TxOp, bool) {
	for _, op := range tx.Changes(srcRelease) {
		if op.Kind == extract.ChangeUpdate && op.After["record_id"] != nil {
			return op, true
		}
	}
	return extract.TxOp{}, false
}

// ReleaseUpdateTransform recognizes a release state transition.
type ReleaseUpdateTransform struct{}

func (t *ReleaseUpdateTransform) Name() string { return "release-update" }

func (t *ReleaseUpdateTransform) Matches(tx *extract.Tx) bool {
	return tx.HasChange(srcRelease, extract.ChangeUpdate)
}

func (t *ReleaseUpdateTransform) Transform(tx *extract.Tx) (migrate.LoadAction, error) {
	op, _ := tx.FirstChange(srcRelease, extract.ChangeUpdate)
	return NewReleaseUpdate(cloneRow(op.After), tx, t.Name())
}
