// Package db opens Quill's local sqlite stores. Each store is a single
// key-value table; callers keep JSON documents under well-known keys.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/quill/internal/config"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the user_version a fully migrated store reports.
const CurrentSchemaVersion = 1

// Store file names under the base directory.
const (
	ArchiveDB = "archive"
	ViewerDB  = "viewer"
)

// migrations[i] moves a store from user_version i to i+1.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS kv (
	  key        TEXT PRIMARY KEY,
	  value      TEXT NOT NULL,
	  updated_at INTEGER NOT NULL
	);`,
}

// ExportsDir returns the default download directory under baseDir.
func ExportsDir(baseDir string) string {
	return filepath.Join(baseDir, "exports")
}

// Init opens (creating if needed) the store baseDir/<name>.db and brings its
// schema up to date. Tests pass t.TempDir() as baseDir.
func Init(baseDir, name string) (*sql.DB, error) {
	if name == "" {
		return nil, fmt.Errorf("database name is required")
	}
	for _, dir := range []string{baseDir, ExportsDir(baseDir)} {
		if err := privateDir(dir); err != nil {
			return nil, err
		}
	}

	path := filepath.Join(baseDir, name+".db")
	store, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", name, err)
	}
	if err := verifyWALMode(store); err != nil {
		store.Close()
		return nil, err
	}
	if err := migrate(store); err != nil {
		store.Close()
		return nil, err
	}

	_ = os.Chmod(path, 0600)
	return store, nil
}

// privateDir creates dir readable by the owner only. The chmod is
// best-effort; some filesystems ignore it.
func privateDir(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	_ = os.Chmod(dir, 0700)
	return nil
}

// ConfigurePool applies the configured pool limits; zero leaves the
// database/sql default.
func ConfigurePool(store *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		store.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		store.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

func migrate(store *sql.DB) error {
	version, err := GetUserVersion(store)
	if err != nil {
		return err
	}
	for ; version < len(migrations); version++ {
		if _, err := store.Exec(migrations[version]); err != nil {
			return fmt.Errorf("migration %d failed: %w", version+1, err)
		}
		if err := SetUserVersion(store, version+1); err != nil {
			return err
		}
	}
	return nil
}

// verifyWALMode checks the journal_mode pragma from the DSN took effect.
func verifyWALMode(store *sql.DB) error {
	var mode string
	if err := store.QueryRow("PRAGMA journal_mode;").Scan(&mode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if mode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", mode)
	}
	return nil
}

// GetUserVersion reads the user_version pragma.
func GetUserVersion(store *sql.DB) (int, error) {
	var version int
	if err := store.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion writes the user_version pragma.
func SetUserVersion(store *sql.DB, version int) error {
	if _, err := store.Exec(fmt.Sprintf("PRAGMA user_version=%d", version)); err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
