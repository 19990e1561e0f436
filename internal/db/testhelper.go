package db

import (
	"path/filepath"
	"testing"
)

// OpenTestMetaStore opens a migrated metadata store in t.TempDir() and
// registers cleanup.
func OpenTestMetaStore(t *testing.T) *MetaStore {
	t.Helper()

	store, err := OpenMetaStore(filepath.Join(t.TempDir(), "meta.sqlite"), 4)
	if err != nil {
		t.Fatalf("open test metadata store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}
