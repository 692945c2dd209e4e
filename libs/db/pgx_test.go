package db

import (
	"context"
	"testing"
	"testing/fstest"
	"time"
)

func TestOptionsDefaults(t *testing.T) {
	got := Options{}.withDefaults()
	if got.MaxConns != 10 || got.MinConns != 1 || got.MaxConnLifetime != 30*time.Minute || got.MaxConnIdleTime != 5*time.Minute {
		t.Fatalf("unexpected defaults %+v", got)
	}

	got = Options{MaxConns: 4, MinConns: 8}.withDefaults()
	if got.MinConns != 4 {
		t.Fatalf("min conns must be capped at max, got %d", got.MinConns)
	}
}

func TestReadyCheckWithoutPool(t *testing.T) {
	if err := ReadyCheck(nil)(context.Background()); err == nil {
		t.Fatalf("expected error for missing pool")
	}
}

func TestLoadMigrationsSorted(t *testing.T) {
	files := fstest.MapFS{
		"0002_blocks.sql": {Data: []byte("CREATE TABLE b ();")},
		"0001_init.sql":   {Data: []byte("CREATE TABLE a ();")},
		"README.md":       {Data: []byte("notes")},
		"seed.sql":        {Data: []byte("INSERT 1")},
	}
	migrations, err := NewMigrator(nil, files).LoadMigrations()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[0].Name != "0001_init.sql" || migrations[1].Version != 2 {
		t.Fatalf("unexpected order %+v", migrations)
	}
	if migrations[0].SQL != "CREATE TABLE a ();" {
		t.Fatalf("unexpected sql %q", migrations[0].SQL)
	}
}

func TestLoadMigrationsDuplicateVersion(t *testing.T) {
	files := fstest.MapFS{
		"0001_init.sql": {Data: []byte("")},
		"001_again.sql": {Data: []byte("")},
	}
	if _, err := NewMigrator(nil, files).LoadMigrations(); err == nil {
		t.Fatalf("expected duplicate version error")
	}
}
