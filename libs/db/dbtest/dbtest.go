// Package dbtest gives repository tests a migrated Postgres schema of their
// own. Tests using it are skipped unless DATABASE_URL is set.
package dbtest

import (
	"context"
	"io/fs"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/purposefullive/coaching-platform/libs/db"
)

// Open creates a throwaway schema, applies the migrations in fsys to it and
// returns a pool whose search_path points there. extensions are installed
// into public first so a migration's CREATE EXTENSION IF NOT EXISTS finds
// them instead of creating a copy inside the throwaway schema. The schema
// is dropped when the test ends.
func Open(t testing.TB, fsys fs.FS, extensions ...string) *db.Pool {
	t.Helper()
	url := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	admin, err := db.Open(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	for _, ext := range extensions {
		if _, err := admin.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS "`+ext+`" SCHEMA public`); err != nil {
			admin.Close()
			t.Fatalf("create extension %s: %v", ext, err)
		}
	}
	if _, err := admin.Exec(ctx, `CREATE SCHEMA `+schema); err != nil {
		admin.Close()
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		_, _ = admin.Exec(context.Background(), `DROP SCHEMA `+schema+` CASCADE`)
		admin.Close()
	})

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		t.Fatalf("parse DATABASE_URL: %v", err)
	}
	cfg.MaxConns = 4
	cfg.ConnConfig.RuntimeParams["search_path"] = schema + ",public"
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	pool := &db.Pool{Pool: p}
	t.Cleanup(pool.Close)

	if err := db.Migrate(ctx, pool, fsys, ".", nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pool
}
