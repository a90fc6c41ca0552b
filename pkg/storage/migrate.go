package storage

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// runMigrations brings db up to the latest schema version, creating it from
// scratch on a fresh file. Each version is a pair of up/down .sql files
// under migrations/, numbered the way the original schema evolved: troves
// and changesets first, then CAS tracking, repositories, deltas, the
// provides/scriptlet/component model, triggers, system state snapshots,
// typed dependencies, labels, and config-file tracking.
func runMigrations(dbPath string) error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("loading embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, "sqlite3://"+dbPath)
	if err != nil {
		return fmt.Errorf("initializing migration runner: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// Migrate brings the database at dbPath up to the latest schema version.
// Exported for cmd/conary-migrate, which runs it standalone against a data
// directory without constructing a full Store.
func Migrate(dbPath string) error {
	return runMigrations(dbPath)
}

// MigrationStatus reports the schema version currently applied to dbPath
// and whether a prior migration was left in a dirty (partially applied)
// state. version is 0 with no error when the database has never been
// migrated.
func MigrationStatus(dbPath string) (version uint, dirty bool, err error) {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return 0, false, fmt.Errorf("loading embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, "sqlite3://"+dbPath)
	if err != nil {
		return 0, false, fmt.Errorf("initializing migration runner: %w", err)
	}
	defer m.Close()

	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("reading schema version: %w", err)
	}
	return version, dirty, nil
}
