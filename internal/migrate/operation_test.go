package migrate

import (
	"errors"
	"reflect"
	"testing"
)

func TestOperationKeyColumnsInsert(t *testing.T) {
	op := Insert(TableBucket, map[string]any{"id": "b-1"})

	keys, err := op.KeyColumns()
	if err != nil {
		t.Fatalf("KeyColumns returned error: %v", err)
	}
	if keys != nil {
		t.Errorf("Expected no key requirement for insert, got %v", keys)
	}
}

func TestOperationKeyColumnsUpdate(t *testing.T) {
	op := Update(TableObjectVersion, map[string]any{"version_id": "v-1", "is_head": false})

	keys, err := op.KeyColumns()
	if err != nil {
		t.Fatalf("KeyColumns returned error: %v", err)
	}
	if !reflect.DeepEqual(keys, []string{"version_id"}) {
		t.Errorf("Expected [version_id], got %v", keys)
	}
}

func TestOperationKeyColumnsMissingKey(t *testing.T) {
	op := Update(TableObjectVersion, map[string]any{"is_head": false})

	_, err := op.KeyColumns()
	if !errors.Is(err, ErrMissingKey) {
		t.Fatalf("Expected ErrMissingKey, got %v", err)
	}
}

func TestOperationKeyColumnsUnknownTable(t *testing.T) {
	op := Delete("no_such_table", map[string]any{"id": 1})

	if _, err := op.KeyColumns(); err == nil {
		t.Fatal("Expected error for unknown table, got nil")
	}
}

func TestOperationColumnsSorted(t *testing.T) {
	op := Insert(TableBucket, map[string]any{"updated": "t", "id": "b-1", "size": 10})

	cols := op.Columns()
	if !reflect.DeepEqual(cols, []string{"id", "size", "updated"}) {
		t.Errorf("Expected sorted columns, got %v", cols)
	}
}

func TestPrimaryKeyVersionState(t *testing.T) {
	keys, err := PrimaryKey(TableVersionState)
	if err != nil {
		t.Fatalf("PrimaryKey returned error: %v", err)
	}
	if !reflect.DeepEqual(keys, []string{"parent_id"}) {
		t.Errorf("Expected [parent_id], got %v", keys)
	}
}
