package migrate

import "fmt"

// Target table names. The concrete DDL lives with the schema tooling; the
// loader only needs names and primary keys to build row operations.
const (
	TablePersistentIdentifier = "pidstore_pid"
	TableBucket               = "files_bucket"
	TableFileInstance         = "files_files"
	TableObjectVersion        = "files_object_version"
	TableParentMetadata       = "rdm_parents_metadata"
	TableDraftMetadata        = "rdm_drafts_metadata"
	TableVersionState         = "rdm_versions_state"
	TableDraftFile            = "rdm_drafts_files"
	TableDraftMediaFile       = "rdm_drafts_media_files"
	TableWebhookEvent         = "webhooks_events"
	TableRepository           = "github_repositories"
	TableRelease              = "github_releases"
)

// primaryKeys maps each target table to its primary-key columns. Update and
// delete predicates are built from these.
var primaryKeys = map[string][]string{
	TablePersistentIdentifier: {"id"},
	TableBucket:               {"id"},
	TableFileInstance:         {"id"},
	TableObjectVersion:        {"version_id"},
	TableParentMetadata:       {"id"},
	TableDraftMetadata:        {"id"},
	TableVersionState:         {"parent_id"},
	TableDraftFile:            {"id"},
	TableDraftMediaFile:       {"id"},
	TableWebhookEvent:         {"id"},
	TableRepository:           {"id"},
	TableRelease:              {"id"},
}

// PrimaryKey returns the primary-key columns of a target table.
func PrimaryKey(table string) ([]string, error) {
	keys, ok := primaryKeys[table]
	if !ok {
		return nil, fmt.Errorf("unknown target table: %s", table)
	}
	return keys, nil
}
