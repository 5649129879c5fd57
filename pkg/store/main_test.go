package store

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/CTAG07/coil/pkg/markov"
	_ "github.com/mattn/go-sqlite3"
)

var quickFox = []string{"the", "quick", "brown", "fox", "and", "the", "lazy", "dog"}

// setupTestDB creates a new file-backed SQLite database and a Store for
// testing. It uses t.Cleanup to ensure resources are released.
func setupTestDB(t *testing.T) (*sql.DB, *Store) {
	t.Helper()
	dbFile := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", dbFile+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=-4000")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := SetupSchema(db); err != nil {
		t.Fatalf("failed to set up schema: %v", err)
	}

	s, err := New(db)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(s.Close)

	return db, s
}

func mustBuild(t *testing.T, tokens []string, depth int) *markov.Chain {
	t.Helper()
	c, err := markov.Build(tokens, depth)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return c
}
