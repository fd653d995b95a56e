package store

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lucasreze/dmsync/internal/store/migrations"
)

// MigrateResult reports the schema version after Migrate ran and whether any
// migration was applied.
type MigrateResult struct {
	Version uint
	Dirty   bool
	Changed bool
}

// Migrate brings the schema up to the newest embedded migration. It runs on
// every daemon start; an up-to-date database is a no-op.
func (db *DB) Migrate() (*MigrateResult, error) {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	drv, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", drv)
	if err != nil {
		return nil, fmt.Errorf("migrator: %w", err)
	}

	res := &MigrateResult{Changed: true}
	switch err := m.Up(); {
	case errors.Is(err, migrate.ErrNoChange):
		res.Changed = false
	case err != nil:
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	res.Version, res.Dirty, _ = m.Version()
	return res, nil
}
