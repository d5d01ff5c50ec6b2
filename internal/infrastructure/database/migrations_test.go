package database

import (
	"context"
	"testing"
	"testing/fstest"
)

// useMigrations swaps in an in-memory migration set for the duration of a test.
func useMigrations(t *testing.T, files fstest.MapFS) {
	t.Helper()
	origFS, origDir := MigrationsFS, MigrationsDir
	t.Cleanup(func() {
		MigrationsFS = origFS
		MigrationsDir = origDir
	})
	MigrationsFS = files
	MigrationsDir = "."
}

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"20260101_000000_create_widgets.up.sql": {
			Data: []byte("CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT NOT NULL);"),
		},
		"20260101_000000_create_widgets.down.sql": {
			Data: []byte("DROP TABLE widgets;"),
		},
		"20260102_000000_add_index.up.sql": {
			Data: []byte("CREATE INDEX idx_widgets_name ON widgets(name);"),
		},
		"20260102_000000_add_index.down.sql": {
			Data: []byte("DROP INDEX idx_widgets_name;"),
		},
		"README.md": {Data: []byte("ignored")},
	}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&n)
	if err != nil {
		t.Fatalf("sqlite_master query error = %v", err)
	}
	return n == 1
}

func TestMigrate(t *testing.T) {
	useMigrations(t, testMigrations())
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "widgets") {
		t.Fatal("table widgets not created")
	}

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 2 {
		t.Errorf("applied = %d, want 2", len(applied))
	}
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0", len(pending))
	}
	if applied[0].Version != "20260101_000000" {
		t.Errorf("applied[0].Version = %q, want oldest first", applied[0].Version)
	}

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrateDown(t *testing.T) {
	useMigrations(t, testMigrations())
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	// Rolls back the index only.
	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if !tableExists(t, db, "widgets") {
		t.Error("widgets dropped by first rollback")
	}

	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("second MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "widgets") {
		t.Error("widgets still present after full rollback")
	}

	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() with nothing applied error = %v", err)
	}
}

func TestMigrateNoMigrations(t *testing.T) {
	useMigrations(t, fstest.MapFS{})
	db := openTestDB(t)

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() with no migrations error = %v", err)
	}
}

func TestMigrate_FailureRollsBackThatMigration(t *testing.T) {
	files := testMigrations()
	files["20260103_000000_broken.up.sql"] = &fstest.MapFile{
		Data: []byte("CREATE TABLE half (id INTEGER); INSERT INTO nowhere VALUES (1);"),
	}
	useMigrations(t, files)
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err == nil {
		t.Fatal("Migrate() expected error for broken migration")
	}
	if tableExists(t, db, "half") {
		t.Error("broken migration partially applied")
	}

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 1 {
		t.Errorf("applied=%d pending=%d, want 2 and 1", len(applied), len(pending))
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename string
		want     migrationFile
		wantOk   bool
	}{
		{"20260118_120000_create_users.up.sql", migrationFile{"20260118_120000", "create_users", true}, true},
		{"20260118_120000_initial_schema.down.sql", migrationFile{"20260118_120000", "initial_schema", false}, true},
		{"20260118_120000_add_review_index.up.sql", migrationFile{"20260118_120000", "add_review_index", true}, true},
		{"readme.txt", migrationFile{}, false},
		{"20260118_120000_create_users.sql", migrationFile{}, false},
		{"invalid.up.sql", migrationFile{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			got, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOk {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOk)
			}
			if ok && got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}
