// Package migrations holds the schema of the sqlite dev chain.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/*.sql
var migrationFiles embed.FS

// Schema problems reported by Status.Err.
var (
	ErrNoSchema = errors.New("dev chain has no schema")
	ErrDirty    = errors.New("dev chain schema is dirty")
	ErrBehind   = errors.New("dev chain schema is behind")
	ErrAhead    = errors.New("dev chain schema is newer than this binary")
)

// Status is the schema version of a dev chain database against the
// version this binary embeds.
type Status struct {
	Version uint
	Latest  uint
	Dirty   bool
	Empty   bool
}

// Err reports why a database with this status cannot be used, or nil.
func (s Status) Err() error {
	switch {
	case s.Empty:
		return ErrNoSchema
	case s.Dirty:
		return fmt.Errorf("%w at version %d", ErrDirty, s.Version)
	case s.Version < s.Latest:
		return fmt.Errorf("%w: version %d, want %d", ErrBehind, s.Version, s.Latest)
	case s.Version > s.Latest:
		return fmt.Errorf("%w: version %d, binary has %d", ErrAhead, s.Version, s.Latest)
	}
	return nil
}

// Latest returns the highest version among the embedded migrations.
func Latest() (uint, error) {
	names, err := fs.Glob(migrationFiles, "files/*.up.sql")
	if err != nil {
		return 0, err
	}
	var latest uint
	for _, name := range names {
		prefix, _, ok := strings.Cut(path.Base(name), "_")
		if !ok {
			return 0, fmt.Errorf("migration %s has no version prefix", name)
		}
		v, err := strconv.ParseUint(prefix, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("migration %s: %w", name, err)
		}
		latest = max(latest, uint(v))
	}
	return latest, nil
}

// Inspect reads the schema status of db without changing it.
func Inspect(db *sql.DB) (Status, error) {
	latest, err := Latest()
	if err != nil {
		return Status{}, fmt.Errorf("reading embedded migrations: %w", err)
	}
	m, err := newMigrate(db)
	if err != nil {
		return Status{}, err
	}
	// m is not closed: closing it would close db, which the caller owns.

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return Status{Latest: latest, Empty: true}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("reading schema version: %w", err)
	}
	return Status{Version: version, Latest: latest, Dirty: dirty}, nil
}

// MigrateUp applies all pending migrations. An up-to-date database is not an error.
func MigrateUp(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying dev chain migrations: %w", err)
	}
	return nil
}

// Prepare migrates db and verifies the result is the embedded schema.
func Prepare(db *sql.DB) error {
	if err := MigrateUp(db); err != nil {
		return err
	}
	st, err := Inspect(db)
	if err != nil {
		return err
	}
	return st.Err()
}

func newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return nil, fmt.Errorf("opening embedded migrations: %w", err)
	}
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("opening dev chain for migration: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("preparing migrations: %w", err)
	}
	return m, nil
}
