package store

import (
	"database/sql"
	"log"
	"runtime"

	"github.com/haatos/simple-dispatch/internal/settings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// InitDatabase opens the configured database. sqlite gets a single writer
// connection and a pool of readers; PostgreSQL handles share the same pool
// settings for both.
func InitDatabase(readonly bool) *sql.DB {
	driver := settings.Settings.Driver()
	db, err := sql.Open(string(driver), settings.Settings.DbString(readonly))
	if err != nil {
		log.Fatalf("fatal error opening %s database: %+v", driver, err)
	}

	if driver == settings.DriverPostgres {
		db.SetMaxOpenConns(max(4, runtime.NumCPU()))
		return db
	}

	if readonly {
		db.SetMaxOpenConns(max(4, runtime.NumCPU()))
	} else {
		if _, err := db.Exec("PRAGMA temp_store=memory"); err != nil {
			log.Fatal(err)
		}
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			log.Fatal(err)
		}
		db.SetMaxOpenConns(1)
	}

	return db
}
