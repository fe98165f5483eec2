package db

import (
	"testing"
	"testing/fstest"
)

func TestMigrationNamesSortedAndFiltered(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/0002_sessions.sql":     {Data: []byte("select 1")},
		"migrations/0001_availability.sql": {Data: []byte("select 1")},
		"migrations/README.md":             {Data: []byte("notes")},
	}
	names, err := migrationNames(fsys, "migrations")
	if err != nil {
		t.Fatalf("migrationNames: %v", err)
	}
	if len(names) != 2 || names[0] != "0001_availability.sql" || names[1] != "0002_sessions.sql" {
		t.Fatalf("unexpected order: %#v", names)
	}
}
