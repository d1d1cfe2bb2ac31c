package database

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/ingestbench/internal/common/util"
)

// TestConnectionString points at the local test server. Overridden with INGESTBENCH_TEST_POSTGRES.
const TestConnectionString = "host=localhost port=5432 user=postgres password=psw sslmode=disable"

// WithTestDb creates a dedicated database, applies migrations and hands a pool for it to action.
// The database is dropped afterwards. The test is skipped when no Postgres server is reachable.
func WithTestDb(t *testing.T, migrations []Migration, action func(db *pgxpool.Pool) error) error {
	t.Helper()
	ctx := context.Background()

	connectionString := TestConnectionString
	if override := os.Getenv("INGESTBENCH_TEST_POSTGRES"); override != "" {
		connectionString = override
	}

	db, err := pgx.Connect(ctx, connectionString)
	if err != nil {
		t.Skipf("postgres is not reachable: %s", err)
	}
	defer db.Close(ctx)

	dbName := "test_" + util.NewULID()
	_, err = db.Exec(ctx, "CREATE DATABASE "+dbName)
	if err != nil {
		return errors.WithStack(err)
	}

	// Connect again: this time to the database we just created.
	testDbPool, err := pgxpool.Connect(ctx, connectionString+" dbname="+dbName)
	if err != nil {
		return errors.WithStack(err)
	}

	defer func() {
		testDbPool.Close()
		// disconnect all db users before cleanup
		_, err = db.Exec(ctx,
			`SELECT pg_terminate_backend(pg_stat_activity.pid)
			 FROM pg_stat_activity WHERE pg_stat_activity.datname = '`+dbName+`';`)
		if err != nil {
			log.WithError(err).Warn("Failed to disconnect users")
		}

		_, err = db.Exec(ctx, "DROP DATABASE "+dbName)
		if err != nil {
			log.WithError(err).Warn("Failed to drop database")
		}
	}()

	err = UpdateDatabase(ctx, testDbPool, migrations)
	if err != nil {
		return errors.WithStack(err)
	}

	return action(testDbPool)
}
