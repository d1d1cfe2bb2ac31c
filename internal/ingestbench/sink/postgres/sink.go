package postgres

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	"github.com/G-Research/ingestbench/internal/common/ingesterrors"
	"github.com/G-Research/ingestbench/internal/ingestbench/model"
	"github.com/G-Research/ingestbench/internal/ingestbench/sink"
)

var dialect = goqu.Dialect("postgres")

// Sink writes batches to a Postgres table through a pgx pool. Each Apply borrows one connection
// for a single read committed transaction and returns it before Apply returns.
type Sink struct {
	db       *pgxpool.Pool
	strategy sink.Strategy
	table    string
	write    func(ctx context.Context, tx pgx.Tx, batch []model.Record) (int64, error)
}

func New(db *pgxpool.Pool, strategy sink.Strategy) (*Sink, error) {
	s := &Sink{db: db, strategy: strategy, table: strategy.Destination()}
	switch strategy {
	case sink.StrategyRowAtATime:
		s.write = s.insertScalar
	case sink.StrategyNativeMultiRow:
		s.write = s.insertPipelined
	case sink.StrategyMultiValue:
		s.write = s.insertMultiValue
	case sink.StrategyCopy:
		s.write = s.insertCopy
	default:
		return nil, errors.Errorf("strategy %s is not supported by the postgres sink", strategy)
	}
	return s, nil
}

func (s *Sink) Name() string {
	return string(s.strategy)
}

func (s *Sink) Table() string {
	return s.table
}

func (s *Sink) Apply(ctx context.Context, batch []model.Record) (int, error) {
	var written int64
	err := s.db.BeginTxFunc(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	}, func(tx pgx.Tx) error {
		var err error
		written, err = s.write(ctx, tx, batch)
		return err
	})
	if err != nil {
		return 0, ingesterrors.ClassifySinkError(s.Name(), err)
	}
	return int(written), nil
}

// Prepare empties the destination table.
func (s *Sink) Prepare(ctx context.Context) error {
	_, err := s.db.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY", pgx.Identifier{s.table}.Sanitize()))
	return ingesterrors.ClassifySinkError(s.Name(), err)
}

func (s *Sink) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s", pgx.Identifier{s.table}.Sanitize())).Scan(&count)
	return count, ingesterrors.ClassifySinkError(s.Name(), err)
}

func (s *Sink) insertStatement() string {
	return fmt.Sprintf(
		"INSERT INTO %s (street, house_number, postal_code, latitude_wgs84, longitude_wgs84) VALUES ($1, $2, $3, $4, $5)",
		pgx.Identifier{s.table}.Sanitize())
}

// insertScalar issues one INSERT per record.
func (s *Sink) insertScalar(ctx context.Context, tx pgx.Tx, batch []model.Record) (int64, error) {
	sqlStatement := s.insertStatement()
	var written int64
	for _, r := range batch {
		args, err := arguments(r)
		if err != nil {
			return 0, err
		}
		tag, err := tx.Exec(ctx, sqlStatement, args...)
		if err != nil {
			return 0, errors.WithStack(err)
		}
		written += tag.RowsAffected()
	}
	return written, nil
}

// insertPipelined queues one INSERT per record and sends them in a single round trip.
func (s *Sink) insertPipelined(ctx context.Context, tx pgx.Tx, batch []model.Record) (written int64, err error) {
	sqlStatement := s.insertStatement()
	queued := &pgx.Batch{}
	for _, r := range batch {
		args, err := arguments(r)
		if err != nil {
			return 0, err
		}
		queued.Queue(sqlStatement, args...)
	}

	results := tx.SendBatch(ctx, queued)
	defer func() {
		if closeErr := results.Close(); err == nil && closeErr != nil {
			written, err = 0, errors.WithStack(closeErr)
		}
	}()
	for i := 0; i < queued.Len(); i++ {
		tag, err := results.Exec()
		if err != nil {
			return 0, errors.WithStack(err)
		}
		written += tag.RowsAffected()
	}
	return written, nil
}

// insertMultiValue renders the whole batch into one INSERT ... VALUES (...), (...) statement.
func (s *Sink) insertMultiValue(ctx context.Context, tx pgx.Tx, batch []model.Record) (int64, error) {
	sqlStatement, args, err := sink.MultiValueInsert(dialect, s.table, batch)
	if err != nil {
		return 0, err
	}
	tag, err := tx.Exec(ctx, sqlStatement, args...)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return tag.RowsAffected(), nil
}

// insertCopy streams the batch with the COPY protocol.
func (s *Sink) insertCopy(ctx context.Context, tx pgx.Tx, batch []model.Record) (int64, error) {
	written, err := tx.CopyFrom(ctx,
		pgx.Identifier{s.table},
		model.Columns,
		pgx.CopyFromSlice(len(batch), func(i int) ([]interface{}, error) {
			return arguments(batch[i])
		}),
	)
	return written, errors.WithStack(err)
}

func arguments(r model.Record) ([]interface{}, error) {
	latitude, err := numeric(r.Latitude.Valid, r.Latitude.Decimal.String())
	if err != nil {
		return nil, err
	}
	longitude, err := numeric(r.Longitude.Valid, r.Longitude.Decimal.String())
	if err != nil {
		return nil, err
	}
	return []interface{}{r.Street, r.HouseNumber, r.PostalCode, latitude, longitude}, nil
}

func numeric(valid bool, value string) (*pgtype.Numeric, error) {
	n := &pgtype.Numeric{Status: pgtype.Null}
	if !valid {
		return n, nil
	}
	if err := n.Set(value); err != nil {
		return nil, errors.Wrapf(err, "invalid numeric %s", value)
	}
	return n, nil
}
