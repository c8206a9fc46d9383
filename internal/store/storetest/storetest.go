// Package storetest provides a migrated in-memory database for tests.
package storetest

import (
	"context"
	"testing"

	"fund-connect/internal/store"
)

// New opens an in-memory SQLite database with every table migrated. The pool
// is pinned to one connection so all queries see the same database.
func New(t *testing.T) *store.Store {
	t.Helper()

	ctx := context.Background()
	s, err := store.Open(ctx, "sqlite://file::memory:?_foreign_keys=on", store.Options{MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return s
}
