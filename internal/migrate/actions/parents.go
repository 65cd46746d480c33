package actions

import (
	"github.com/txmigrate/txmigrate/internal/migrate"
)

// parentRowOps emits the row set for a brand-new parent record: its recid
// pid, an optional DOI pid, and the parent metadata row. Order matters when
// replaying in commit order, the pid rows must land before anything that
// references the parent.
func parentRowOps(parent, parentPID map[string]any) []migrate.Operation {
	parentKey := strField(mapField(parent, "json"), "id")
	created := parent["created"]

	ops := []migrate.Operation{
		migrate.Insert(migrate.TablePersistentIdentifier, map[string]any{
			"id":          parentPID["id"],
			"pid_type":    parentPID["pid_type"],
			"pid_value":   parentKey,
			"status":      parentPID["status"],
			"object_type": "rec",
			"object_uuid": parent["id"],
			"created":     created,
			"updated":     created,
		}),
	}

	// Concept DOI, when the source record carries one.
	doi := mapField(mapField(mapField(parent, "json"), "pids"), "doi")
	if identifier := strField(doi, "identifier"); identifier != "" {
		ops = append(ops, migrate.Insert(migrate.TablePersistentIdentifier, map[string]any{
			"id":           NextPK(),
			"pid_type":     "doi",
			"pid_value":    identifier,
			"status":       "R",
			"object_type":  "rec",
			"object_uuid":  parent["id"],
			"pid_provider": "datacite",
			"created":      created,
			"updated":      parent["updated"],
		}))
	}

	ops = append(ops, migrate.Insert(migrate.TableParentMetadata, map[string]any{
		"id":         parent["id"],
		"json":       parent["json"],
		"created":    created,
		"updated":    parent["updated"],
		"version_id": parent["version_id"],
	}))
	return ops
}
