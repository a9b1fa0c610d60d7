package testutil

import (
	"testing"

	"kc-go/internal/database"
	"kc-go/internal/storage"
)

// TestBaseURL is the storage base URL used by NewTestDatabase.
const TestBaseURL = "http://kc.test/"

// TestDB bundles a migrated in-memory catalog database with the collaborators
// it was built with.
type TestDB struct {
	*database.SQLiteDatabase
	Storage *storage.MemoryStorage
	Clock   *StubClock
	IDs     *SequentialIDs
}

// NewTestDatabase creates a new in-memory SQLite database with migrations
// applied, backed by memory storage, a fixed clock and sequential ids.
// The database is automatically closed when the test completes.
func NewTestDatabase(t *testing.T) *TestDB {
	t.Helper()
	return NewTestDatabaseWithDedupe(t, database.DedupeAuto)
}

// NewTestDatabaseWithDedupe is NewTestDatabase with a forced dedupe strategy.
func NewTestDatabaseWithDedupe(t *testing.T, dedupe database.DedupeStrategy) *TestDB {
	t.Helper()

	tdb := &TestDB{
		Storage: storage.NewMemoryStorage(TestBaseURL),
		Clock:   FixedClock(),
		IDs:     NewSequentialIDs(),
	}

	db, err := database.NewSQLiteDatabase(":memory:", database.Options{
		Storage: tdb.Storage,
		Clock:   tdb.Clock,
		IDs:     tdb.IDs,
		Dedupe:  dedupe,
	})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})

	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}

	tdb.SQLiteDatabase = db
	return tdb
}

// OpenTestDatabase opens an existing database file without migrating it.
func OpenTestDatabase(t *testing.T, path string) *database.SQLiteDatabase {
	t.Helper()

	db, err := database.NewSQLiteDatabase(path, database.Options{})
	if err != nil {
		t.Fatalf("failed to open database %s: %v", path, err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}
