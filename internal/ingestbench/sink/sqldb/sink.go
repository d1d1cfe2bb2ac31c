package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/G-Research/ingestbench/internal/common/ingesterrors"
	"github.com/G-Research/ingestbench/internal/ingestbench/model"
	"github.com/G-Research/ingestbench/internal/ingestbench/sink"
)

const (
	DriverSqlite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open opens a database/sql handle and checks it can be reached. SQLite databases are limited to
// a single connection so concurrent writers queue instead of failing with "database is locked".
func Open(ctx context.Context, driver string, dsn string, maxOpenConns int) (*sql.DB, func(), error) {
	if driver == DriverSqlite {
		if dir := filepath.Dir(dsn); dir != "." && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, func() {}, errors.Wrapf(err, "could not make directory at %s for sqlite db", dir)
			}
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, func() {}, errors.Wrapf(err, "error opening %s database", driver)
	}
	cleanup := func() {
		if err := db.Close(); err != nil {
			log.Warnf("error closing database: %v", err)
		}
	}

	if driver == DriverSqlite {
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			cleanup()
			return nil, func() {}, errors.WithStack(err)
		}
	} else if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		cleanup()
		return nil, func() {}, &ingesterrors.ErrSinkUnavailable{Sink: driver, Err: err}
	}
	return db, cleanup, nil
}

// Sink writes batches through database/sql. Each Apply runs in its own transaction which is
// rolled back on every path that does not commit.
type Sink struct {
	db       *sql.DB
	driver   string
	dialect  goqu.DialectWrapper
	strategy sink.Strategy
	table    string
	write    func(ctx context.Context, tx *sql.Tx, batch []model.Record) (int64, error)
}

func New(db *sql.DB, driver string, strategy sink.Strategy) (*Sink, error) {
	s := &Sink{db: db, driver: driver, strategy: strategy, table: strategy.Destination()}
	switch driver {
	case DriverSqlite:
		s.dialect = goqu.Dialect("sqlite3")
	case DriverPostgres:
		s.dialect = goqu.Dialect("postgres")
	default:
		return nil, errors.Errorf("unsupported driver %s", driver)
	}

	switch strategy {
	case sink.StrategyRowAtATime:
		s.write = s.insertScalar
	case sink.StrategyNativeMultiRow:
		s.write = s.insertPrepared
	case sink.StrategyMultiValue:
		s.write = s.insertMultiValue
	default:
		return nil, errors.Errorf("strategy %s is not supported by the %s sink", strategy, driver)
	}
	return s, nil
}

func (s *Sink) Name() string {
	return string(s.strategy)
}

func (s *Sink) Table() string {
	return s.table
}

// WithTable redirects the sink to another destination table with the same schema.
// The HTTP receiver uses it to store posted batches in the post_batch destination.
func (s *Sink) WithTable(table string) *Sink {
	s.table = table
	return s
}

func (s *Sink) Apply(ctx context.Context, batch []model.Record) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &ingesterrors.ErrSinkUnavailable{Sink: s.Name(), Err: errors.WithStack(err)}
	}
	defer rollback(tx)

	written, err := s.write(ctx, tx, batch)
	if err != nil {
		return 0, ingesterrors.ClassifySinkError(s.Name(), err)
	}
	if err := tx.Commit(); err != nil {
		return 0, ingesterrors.ClassifySinkError(s.Name(), errors.WithStack(err))
	}
	return int(written), nil
}

// Prepare empties the destination table and resets its id sequence.
func (s *Sink) Prepare(ctx context.Context) error {
	var statements []string
	if s.driver == DriverSqlite {
		statements = []string{
			fmt.Sprintf("DELETE FROM %s", s.table),
			fmt.Sprintf("DELETE FROM sqlite_sequence WHERE name = '%s'", s.table),
		}
	} else {
		statements = []string{fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY", s.table)}
	}
	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return ingesterrors.ClassifySinkError(s.Name(), errors.WithStack(err))
		}
	}
	return nil
}

func (s *Sink) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM %s", s.table)).Scan(&count)
	if err != nil {
		return 0, ingesterrors.ClassifySinkError(s.Name(), errors.WithStack(err))
	}
	return count, nil
}

func (s *Sink) insertStatement() string {
	placeholders := make([]string, len(model.Columns))
	for i := range placeholders {
		if s.driver == DriverPostgres {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
		} else {
			placeholders[i] = "?"
		}
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.table, strings.Join(model.Columns, ", "), strings.Join(placeholders, ", "))
}

// insertScalar executes one INSERT per record.
func (s *Sink) insertScalar(ctx context.Context, tx *sql.Tx, batch []model.Record) (int64, error) {
	sqlStatement := s.insertStatement()
	var written int64
	for _, r := range batch {
		result, err := tx.ExecContext(ctx, sqlStatement, r.Values()...)
		if err != nil {
			return 0, errors.WithStack(err)
		}
		written += rowsAffected(result, 1)
	}
	return written, nil
}

// insertPrepared prepares the INSERT once and executes it for every record of the batch.
func (s *Sink) insertPrepared(ctx context.Context, tx *sql.Tx, batch []model.Record) (int64, error) {
	stmt, err := tx.PrepareContext(ctx, s.insertStatement())
	if err != nil {
		return 0, errors.WithStack(err)
	}
	defer func() {
		if err := stmt.Close(); err != nil {
			log.WithError(err).Warn("Failed to close prepared statement")
		}
	}()

	var written int64
	for _, r := range batch {
		result, err := stmt.ExecContext(ctx, r.Values()...)
		if err != nil {
			return 0, errors.WithStack(err)
		}
		written += rowsAffected(result, 1)
	}
	return written, nil
}

// insertMultiValue renders the batch into a single INSERT statement.
func (s *Sink) insertMultiValue(ctx context.Context, tx *sql.Tx, batch []model.Record) (int64, error) {
	sqlStatement, args, err := sink.MultiValueInsert(s.dialect, s.table, batch)
	if err != nil {
		return 0, err
	}
	result, err := tx.ExecContext(ctx, sqlStatement, args...)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return rowsAffected(result, int64(len(batch))), nil
}

// rowsAffected falls back to expected for drivers that cannot report affected rows.
func rowsAffected(result sql.Result, expected int64) int64 {
	n, err := result.RowsAffected()
	if err != nil {
		return expected
	}
	return n
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		log.WithError(err).Warn("Failed to roll back transaction")
	}
}
