package internal

import (
	"path/filepath"
	"testing"

	"github.com/iksnae/synthshot/testutil"
)

func TestOpenDatabase(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T) string
		wantErr bool
	}{
		{
			name: "creates file and parent directories",
			setup: func(t *testing.T) string {
				return filepath.Join(testutil.CreateTempDir(t), "nested", "history.db")
			},
		},
		{
			name: "in memory",
			setup: func(t *testing.T) string {
				return ":memory:"
			},
		},
		{
			name: "corrupt file",
			setup: func(t *testing.T) string {
				path := filepath.Join(testutil.CreateTempDir(t), "corrupt.db")
				testutil.CreateCorruptDBFile(t, path)
				return path
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, err := OpenDatabase(tt.setup(t))
			if (err != nil) != tt.wantErr {
				t.Fatalf("OpenDatabase() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			defer db.Close()

			var n int
			if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('reconstructions', 'reconstruction_steps')").Scan(&n); err != nil {
				t.Fatalf("schema query error = %v", err)
			}
			if n != 2 {
				t.Errorf("found %d history tables, want 2", n)
			}
		})
	}
}

func TestOpenDatabase_Reopen(t *testing.T) {
	path := filepath.Join(testutil.CreateTempDir(t), "history.db")

	db, err := OpenDatabase(path)
	if err != nil {
		t.Fatalf("OpenDatabase() error = %v", err)
	}
	db.Close()

	db, err = OpenDatabase(path)
	if err != nil {
		t.Fatalf("reopening OpenDatabase() error = %v", err)
	}
	db.Close()
}

func TestMigrate_Idempotent(t *testing.T) {
	db := testutil.CreateInMemoryDB(t)

	for i := 0; i < 2; i++ {
		if err := migrate(db); err != nil {
			t.Fatalf("migrate() run %d error = %v", i+1, err)
		}
	}

	var fk int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("PRAGMA foreign_keys: %v", err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = 'idx_reconstructions_monitor'`).Scan(&n); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if n != 1 {
		t.Errorf("found %d monitor indexes, want 1", n)
	}
}
