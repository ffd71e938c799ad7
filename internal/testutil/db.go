// Package testutil provides a migrated throwaway database for package tests.
package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	_ "github.com/glebarez/go-sqlite"
	"github.com/jmoiron/sqlx"

	"github.com/geniusbot/executor/internal/config"
	"github.com/geniusbot/executor/internal/repository"
)

// NewDB opens a file-backed SQLite database in t.TempDir, applies the
// embedded migrations and closes it when the test ends.
func NewDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)",
		filepath.Join(t.TempDir(), "engine.db"))

	ctx := context.Background()
	db, err := repository.Open(ctx, config.DBConfig{Driver: "sqlite", DSN: dsn, MaxOpenConns: 1, MaxIdleConns: 1})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err = repository.Migrate(ctx, db); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}
