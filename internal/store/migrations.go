package store

import (
	"database/sql"
	"path"

	assets "github.com/haatos/simple-dispatch"
	"github.com/haatos/simple-dispatch/internal"
	"github.com/haatos/simple-dispatch/internal/settings"
	"github.com/pressly/goose/v3"
)

// RunMigrations applies the embedded migrations for driver to db.
func RunMigrations(db *sql.DB, driver settings.DatabaseDriver) error {
	goose.SetBaseFS(assets.MigrationsFS)
	dialect, dir := "sqlite3", "sqlite"
	if driver == settings.DriverPostgres {
		dialect, dir = "postgres", "postgres"
	}
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}
	return goose.Up(db, path.Join(internal.MigrationsDir, dir))
}
