package storage

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// RunMigrations brings the schema up to date on its own connection so the
// repository pool is not disturbed.
func RunMigrations(driverName, dsn string) error {
	migrateDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return fmt.Errorf("open migration database: %w", err)
	}
	defer migrateDB.Close()

	var drv database.Driver
	var dir string
	switch driverName {
	case DriverPostgres:
		drv, err = migratepg.WithInstance(migrateDB, &migratepg.Config{})
		dir = "migrations/postgres"
	default:
		drv, err = migratesqlite.WithInstance(migrateDB, &migratesqlite.Config{})
		dir = "migrations/sqlite"
	}
	if err != nil {
		return fmt.Errorf("create %s driver: %w", driverName, err)
	}

	d, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", d, driverName, drv)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}
