package actions

import (
	"context"
	"fmt"

	"github.com/txmigrate/txmigrate/internal/extract"
	"github.com/txmigrate/txmigrate/internal/migrate"
	"github.com/txmigrate/txmigrate/internal/migrate/state"
)

// fileTables groups the table set a file action writes to, so the draft-file
// and media-file variants share one implementation.
type fileTables struct {
	fileRecord string
}

var (
	draftFileTables = fileTables{fileRecord: migrate.TableDraftFile}
	mediaFileTables = fileTables{fileRecord: migrate.TableDraftMediaFile}
)

// FileUploadData is the payload of a file-upload group.
type FileUploadData struct {
	Bucket        map[string]any
	ObjectVersion map[string]any
	FileInstance  map[string]any
	FileRecord    map[string]any
	// ReplacedObjectVersion is the previous head for this key, when the
	// extraction already knows it. Left nil, the action resolves the head
	// with a point query.
	ReplacedObjectVersion map[string]any
	// PIDValue marks a first upload into a fresh media bucket; the owning
	// draft is located through its pid. Media variant only.
	PIDValue string
}

// FileUpload loads one uploaded file: bucket bookkeeping, the new object
// version (toggling the previous head off), the file instance, and the
// owning file record, updated in place when the upload replaces an earlier
// version.
type FileUpload struct {
	base
	data   FileUploadData
	tables fileTables
	media  bool
}

// NewFileUpload validates the payload shape and builds the action.
func NewFileUpload(data FileUploadData, tx *extract.Tx, transformName string) (*FileUpload, error) {
	return newFileUpload("file-upload", draftFileTables, false, data, tx, transformName)
}

// NewMediaFileUpload is the media-file variant of NewFileUpload, writing the
// parallel media table set.
func NewMediaFileUpload(data FileUploadData, tx *extract.Tx, transformName string) (*FileUpload, error) {
	return newFileUpload("media-file-upload", mediaFileTables, true, data, tx, transformName)
}

func newFileUpload(name string, tables fileTables, media bool, data FileUploadData, tx *extract.Tx, transformName string) (*FileUpload, error) {
	a := &FileUpload{
		base: base{
			name:          name,
			tx:            tx,
			transformName: transformName,
			attrs: map[string]map[string]any{
				"bucket":         data.Bucket,
				"object_version": data.ObjectVersion,
				"file_instance":  data.FileInstance,
				"file_record":    data.FileRecord,
			},
			pks: []PKRule{
				{Attr: "file_record", Path: "id", Gen: GenerateUUID},
			},
		},
		data:   data,
		tables: tables,
		media:  media,
	}
	if err := requireAttrs(a.name, a.attrs, "bucket", "object_version", "file_instance", "file_record"); err != nil {
		return nil, err
	}
	return a, nil
}

// Prepare implements migrate.LoadAction.
func (a *FileUpload) Prepare(ctx context.Context, sess *migrate.Session, st *state.State) ([]migrate.Operation, error) {
	a.generatePKs()

	bucket := a.data.Bucket
	newOV := a.data.ObjectVersion
	replaced := a.data.ReplacedObjectVersion

	var ops []migrate.Operation
	// ownerDraftID is the draft owning the bucket, once known. For a fresh
	// media bucket it is resolved here, before its attachment row is applied.
	var ownerDraftID any
	if a.media && a.data.PIDValue != "" {
		// First upload into a fresh media bucket: create it and attach it to
		// the draft located through the record pid.
		ops = append(ops, migrate.Insert(migrate.TableBucket, bucket))
		draftID, found, err := sess.SelectValue(ctx, migrate.TablePersistentIdentifier, "object_uuid", map[string]any{
			"pid_type":  "recid",
			"pid_value": a.data.PIDValue,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", a.name, err)
		}
		if !found {
			return nil, fmt.Errorf("%s: %w: pid %s", a.name, ErrReference, a.data.PIDValue)
		}
		ownerDraftID = draftID
		ops = append(ops, migrate.Update(migrate.TableDraftMetadata, map[string]any{
			"id":              draftID,
			"media_bucket_id": bucket["id"],
		}))
	} else {
		ops = append(ops, migrate.Update(migrate.TableBucket, bucket))
	}

	// Object-version head pointers are not cached in the state store; resolve
	// the current head with a point query when the extraction did not supply
	// the replaced version.
	if replaced == nil {
		versionID, found, err := sess.SelectValue(ctx, migrate.TableObjectVersion, "version_id", map[string]any{
			"bucket_id": bucket["id"],
			"key":       newOV["key"],
			"is_head":   true,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", a.name, err)
		}
		if found {
			replaced = map[string]any{"version_id": versionID}
		}
	}
	if replaced != nil {
		ops = append(ops, migrate.Update(migrate.TableObjectVersion, map[string]any{
			"version_id": replaced["version_id"],
			"is_head":    false,
		}))
	}

	ops = append(ops,
		migrate.Insert(migrate.TableFileInstance, a.data.FileInstance),
		migrate.Insert(migrate.TableObjectVersion, newOV),
	)

	fileRecord := a.data.FileRecord
	fileRecord["object_version_id"] = newOV["version_id"]
	if replaced != nil {
		recordID, found, err := sess.SelectValue(ctx, a.tables.fileRecord, "id", map[string]any{
			"object_version_id": replaced["version_id"],
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", a.name, err)
		}
		if !found {
			return nil, fmt.Errorf("%s: %w: file record for object version %v", a.name, ErrReference, replaced["version_id"])
		}
		fileRecord["id"] = recordID
		return append(ops, migrate.Update(a.tables.fileRecord, fileRecord)), nil
	}

	if ownerDraftID == nil {
		draftID, err := a.resolveDraft(ctx, sess, st, bucket)
		if err != nil {
			return nil, err
		}
		ownerDraftID = draftID
	}
	fileRecord["record_id"] = ownerDraftID
	return append(ops, migrate.Insert(a.tables.fileRecord, fileRecord)), nil
}

// resolveDraft finds the draft owning the bucket: the BUCKETS ledger first
// (registered at draft creation), falling back to a point query for buckets
// created before this run.
func (a *FileUpload) resolveDraft(ctx context.Context, sess *migrate.Session, st *state.State, bucket map[string]any) (any, error) {
	bucketID := strField(bucket, "id")
	if entry, ok := st.Buckets.Get(bucketID); ok {
		return entry.DraftID, nil
	}
	column := "bucket_id"
	if a.media {
		column = "media_bucket_id"
	}
	draftID, found, err := sess.SelectValue(ctx, migrate.TableDraftMetadata, "id", map[string]any{column: bucketID})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.name, err)
	}
	if !found {
		return nil, fmt.Errorf("%s: %w: no draft owns bucket %s", a.name, ErrReference, bucketID)
	}
	return draftID, nil
}

// FileDeleteData is the payload of a file-delete group.
type FileDeleteData struct {
	Bucket               map[string]any
	DeletedObjectVersion map[string]any
	// DeleteMarkerObjectVersion is the marker row, when the extraction
	// captured one; built here otherwise.
	DeleteMarkerObjectVersion map[string]any
}

// FileDelete soft-deletes a file: the previous head is toggled off, a delete
// marker becomes the new head, and the owning file record is removed.
type FileDelete struct {
	base
	data   FileDeleteData
	tables fileTables
}

// NewFileDelete validates the payload shape and builds the action.
func NewFileDelete(data FileDeleteData, tx *extract.Tx, transformName string) (*FileDelete, error) {
	return newFileDelete("file-delete", draftFileTables, data, tx, transformName)
}

// NewMediaFileDelete is the media-file variant of NewFileDelete.
func NewMediaFileDelete(data FileDeleteData, tx *extract.Tx, transformName string) (*FileDelete, error) {
	return newFileDelete("media-file-delete", mediaFileTables, data, tx, transformName)
}

func newFileDelete(name string, tables fileTables, data FileDeleteData, tx *extract.Tx, transformName string) (*FileDelete, error) {
	a := &FileDelete{
		base: base{
			name:          name,
			tx:            tx,
			transformName: transformName,
			attrs: map[string]map[string]any{
				"bucket":                 data.Bucket,
				"deleted_object_version": data.DeletedObjectVersion,
			},
		},
		data:   data,
		tables: tables,
	}
	if err := requireAttrs(a.name, a.attrs, "bucket", "deleted_object_version"); err != nil {
		return nil, err
	}
	return a, nil
}

// Prepare implements migrate.LoadAction.
func (a *FileDelete) Prepare(ctx context.Context, sess *migrate.Session, st *state.State) ([]migrate.Operation, error) {
	bucket := a.data.Bucket
	deletedOV := a.data.DeletedObjectVersion
	marker := a.data.DeleteMarkerObjectVersion

	ops := []migrate.Operation{migrate.Update(migrate.TableBucket, bucket)}

	// Always a soft delete: the old object version loses its head flag...
	deletedOV["is_head"] = false
	ops = append(ops, migrate.Update(migrate.TableObjectVersion, deletedOV))

	// ...and a delete marker goes on top.
	if marker == nil {
		marker = map[string]any{
			"version_id": NewUUID(),
			"bucket_id":  bucket["id"],
			"key":        deletedOV["key"],
			"created":    bucket["updated"],
			"updated":    bucket["updated"],
			"is_head":    true,
		}
	}
	ops = append(ops, migrate.Insert(migrate.TableObjectVersion, marker))

	// Finally the file record itself goes away, when one exists.
	recordID, found, err := sess.SelectValue(ctx, a.tables.fileRecord, "id", map[string]any{
		"object_version_id": deletedOV["version_id"],
		"key":               deletedOV["key"],
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.name, err)
	}
	if found {
		ops = append(ops, migrate.Delete(a.tables.fileRecord, map[string]any{"id": recordID}))
	}
	return ops, nil
}
