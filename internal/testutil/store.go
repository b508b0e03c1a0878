package testutil

import (
	"context"
	"testing"

	"github.com/HerbHall/geoscout/internal/store"
)

// NewStore creates an in-memory SQLiteStore for testing.
// The store is automatically closed when the test completes.
func NewStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("testutil.NewStore: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// NewMigratedStore is NewStore with the given component migrations applied.
func NewMigratedStore(t *testing.T, component string, migrations []store.Migration) *store.SQLiteStore {
	t.Helper()
	db := NewStore(t)
	if err := db.Migrate(context.Background(), component, migrations); err != nil {
		t.Fatalf("testutil.NewMigratedStore(%s): %v", component, err)
	}
	return db
}
