package schema

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/ingestbench/internal/common/database"
	"github.com/G-Research/ingestbench/internal/ingestbench/sink"
)

//go:embed migrations/*.sql
var fs embed.FS

// PostgresMigrations returns the migrations that create every destination table.
func PostgresMigrations() ([]database.Migration, error) {
	return database.ReadMigrations(fs, "migrations")
}

// SQLite has no NUMERIC(p,s) enforcement so the range check emulates NUMERIC(8,6): values of
// 100 or more in magnitude are rejected like Postgres does.
const sqliteTableTemplate = `CREATE TABLE IF NOT EXISTS %s (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    street              TEXT,
    house_number        TEXT,
    postal_code         TEXT,
    latitude_wgs84      NUMERIC CHECK (latitude_wgs84 IS NULL OR abs(latitude_wgs84) < 100),
    longitude_wgs84     NUMERIC CHECK (longitude_wgs84 IS NULL OR abs(longitude_wgs84) < 100)
);`

// CreateSqliteTables creates every destination table in a SQLite database.
func CreateSqliteTables(ctx context.Context, db *sql.DB) error {
	for _, table := range sink.Destinations {
		if _, err := db.ExecContext(ctx, fmt.Sprintf(sqliteTableTemplate, table)); err != nil {
			return errors.Wrapf(err, "creating table %s", table)
		}
	}
	log.Infof("Created %d sqlite tables", len(sink.Destinations))
	return nil
}

// CreateSqlTables creates the destination tables through database/sql for the given driver.
func CreateSqlTables(ctx context.Context, db *sql.DB, driver string) error {
	switch driver {
	case "sqlite":
		return CreateSqliteTables(ctx, db)
	case "postgres":
		migrations, err := PostgresMigrations()
		if err != nil {
			return err
		}
		for _, m := range migrations {
			if _, err := db.ExecContext(ctx, m.SQL()); err != nil {
				return errors.Wrapf(err, "applying %s", m.Name())
			}
		}
		return nil
	default:
		return errors.Errorf("unsupported driver %s", driver)
	}
}
