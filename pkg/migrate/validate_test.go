package migrate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"
)

func TestValidateDirAcceptsRepositoryMigrations(t *testing.T) {
	if err := ValidateDir("migrations"); err != nil {
		t.Fatalf("ValidateDir: %v", err)
	}
}

func TestEmbeddedMigrationsMatchSourceTree(t *testing.T) {
	if err := ValidateDir(""); err != nil {
		t.Fatalf("embedded migrations: %v", err)
	}
	onDisk, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	fsys, err := migrationsFS("")
	if err != nil {
		t.Fatalf("embedded fs: %v", err)
	}
	for _, path := range onDisk {
		if _, err := fsys.Open(filepath.Base(path)); err != nil {
			t.Fatalf("%s is not embedded: %v", path, err)
		}
	}
}

func TestValidateRejectsBadNamesAndMarkers(t *testing.T) {
	cases := map[string]fstest.MapFS{
		"bad name": {
			"create_files.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		},
		"duplicate version": {
			"20260101000000_a.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
			"20260101000000_b.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		},
		"missing down": {
			"20260101000000_a.sql": {Data: []byte("-- +goose Up\n")},
		},
		"empty": {},
	}
	for name, fsys := range cases {
		if err := validateFS(fsys); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestCreateSQLMigrationWritesTemplate(t *testing.T) {
	dir := t.TempDir()
	path, err := CreateSQLMigration(dir, "Add Files Checksum")
	if err != nil {
		t.Fatalf("CreateSQLMigration: %v", err)
	}
	if !strings.HasSuffix(path, "_add_files_checksum.sql") {
		t.Fatalf("unexpected path %s", path)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(body), "-- rollback add_files_checksum") {
		t.Fatalf("unexpected template:\n%s", body)
	}
	if err := ValidateDir(dir); err != nil {
		t.Fatalf("created migration should validate: %v", err)
	}
}

func TestCreateMigrationRefusesToOverwrite(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	if _, err := createMigration(dir, "settings", now); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := createMigration(dir, "settings", now); err == nil {
		t.Fatal("expected error for existing migration")
	}
	if _, err := createMigration(dir, "!!!", now); err == nil {
		t.Fatal("expected error for unusable name")
	}
}
