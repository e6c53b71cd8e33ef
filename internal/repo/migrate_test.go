package repo

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"testing/fstest"
)

func TestApplyMigrationsSkipsNonSQLEntries(t *testing.T) {
	// Only entries that would never reach the database: a non-SQL file and an
	// empty migration. Anything else would need a live pool.
	filesystem := fstest.MapFS{
		"README.md":      {Data: []byte("not a migration")},
		"0001_empty.sql": {Data: []byte("")},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := ApplyMigrations(context.Background(), nil, filesystem, logger); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}
}
