package ingestbench

import (
	"context"
	"time"

	"github.com/go-redis/redis"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/G-Research/ingestbench/internal/common"
	"github.com/G-Research/ingestbench/internal/common/database"
	"github.com/G-Research/ingestbench/internal/common/ingesterrors"
	"github.com/G-Research/ingestbench/internal/common/util"
	"github.com/G-Research/ingestbench/internal/ingestbench/configuration"
	"github.com/G-Research/ingestbench/internal/ingestbench/harness"
	"github.com/G-Research/ingestbench/internal/ingestbench/model"
	"github.com/G-Research/ingestbench/internal/ingestbench/receiver"
	"github.com/G-Research/ingestbench/internal/ingestbench/report"
	"github.com/G-Research/ingestbench/internal/ingestbench/schema"
	"github.com/G-Research/ingestbench/internal/ingestbench/sink"
	"github.com/G-Research/ingestbench/internal/ingestbench/sink/httpapi"
	"github.com/G-Research/ingestbench/internal/ingestbench/sink/postgres"
	"github.com/G-Research/ingestbench/internal/ingestbench/sink/redisdb"
	"github.com/G-Research/ingestbench/internal/ingestbench/sink/sqldb"
	"github.com/G-Research/ingestbench/internal/ingestbench/source"
	"github.com/G-Research/ingestbench/internal/ingestbench/testfixtures"
)

// Run times every selected strategy against the configured source and backend, then reports the
// results. The returned error aggregates the failures of every strategy that did not complete.
func Run(ctx context.Context, config configuration.IngestBenchConfiguration) error {
	if config.Metrics.Port != 0 {
		shutdown := common.ServeMetrics(config.Metrics.Port)
		defer shutdown()
	}

	sinks, cleanup, err := openSinks(ctx, config)
	if err != nil {
		return err
	}
	defer cleanup()

	if config.RecreateDestinations {
		if err := prepare(ctx, sinks); err != nil {
			return err
		}
	}

	h, err := harness.New(config.BatchSize, clock.RealClock{})
	if err != nil {
		return err
	}
	opener := source.NewCSVOpener(config.Source)

	log.Infof("Running %d strategies against the %s backend with batches of %d", len(sinks), config.Backend, config.BatchSize)
	start := time.Now()
	results, sweepErr := h.Sweep(ctx, opener, sinks)
	end := time.Now()

	report.LogSummary(results)
	if err := writeReports(config, results, start, end); err != nil {
		return multierror.Append(sweepErr, err).ErrorOrNil()
	}
	return sweepErr
}

func writeReports(config configuration.IngestBenchConfiguration, results []*model.StrategyResult, start, end time.Time) error {
	if config.Report.JsonOutFile != "" {
		tr := report.NewTestResult(config.Report.Metadata, config.Source.Path, string(config.Backend), config.BatchSize, start, end, results)
		if err := report.WriteJSONFile(config.Report.JsonOutFile, tr); err != nil {
			return err
		}
	}
	if config.Report.MarkdownOutFile != "" && len(results) > 0 {
		if err := report.WriteMarkdownFile(config.Report.MarkdownOutFile, results, reportedConfig(config)); err != nil {
			return err
		}
	}
	return nil
}

// reportedConfig is the part of the configuration shown in the markdown report. Connection
// settings are left out as they may carry credentials.
func reportedConfig(config configuration.IngestBenchConfiguration) interface{} {
	return map[string]interface{}{
		"source":     config.Source.Path,
		"encoding":   config.Source.Encoding,
		"batchSize":  config.BatchSize,
		"backend":    config.Backend,
		"strategies": config.SelectedStrategies(),
	}
}

func prepare(ctx context.Context, sinks []sink.BulkSink) error {
	for _, s := range sinks {
		if p, ok := s.(sink.Preparer); ok {
			if err := p.Prepare(ctx); err != nil {
				return errors.WithMessagef(err, "could not empty destination of strategy %s", s.Name())
			}
			log.WithField("strategy", s.Name()).Info("Emptied destination")
		}
	}
	return nil
}

// openSinks connects to the configured backend and creates one sink per selected strategy.
// The returned cleanup releases the connections and is safe to call when an error is returned.
func openSinks(ctx context.Context, config configuration.IngestBenchConfiguration) ([]sink.BulkSink, func(), error) {
	strategies := config.SelectedStrategies()
	sinks := make([]sink.BulkSink, 0, len(strategies))
	noop := func() {}

	switch config.Backend {
	case configuration.BackendPostgres:
		log.Infof("Opening connection pool to postgres")
		db, err := database.OpenPgxPool(ctx, config.Postgres)
		if err != nil {
			return nil, noop, &ingesterrors.ErrSinkUnavailable{Sink: "postgres", Err: err}
		}
		for _, strategy := range strategies {
			s, err := postgres.New(db, strategy)
			if err != nil {
				db.Close()
				return nil, noop, err
			}
			sinks = append(sinks, s)
		}
		return sinks, db.Close, nil

	case configuration.BackendSql:
		db, cleanup, err := sqldb.Open(ctx, config.Sql.Driver, config.Sql.Dsn, config.Sql.MaxOpenConns)
		if err != nil {
			return nil, noop, err
		}
		for _, strategy := range strategies {
			s, err := sqldb.New(db, config.Sql.Driver, strategy)
			if err != nil {
				cleanup()
				return nil, noop, err
			}
			sinks = append(sinks, s)
		}
		return sinks, cleanup, nil

	case configuration.BackendRedis:
		client := redis.NewClient(config.Redis.Connection.AsOptions())
		cleanup := func() { util.CloseResource("redis client", client) }
		if err := client.WithContext(ctx).Ping().Err(); err != nil {
			cleanup()
			return nil, noop, &ingesterrors.ErrSinkUnavailable{Sink: "redis", Err: errors.WithStack(err)}
		}
		for _, strategy := range strategies {
			s, err := redisdb.New(client, config.Redis.KeyPrefix, strategy)
			if err != nil {
				cleanup()
				return nil, noop, err
			}
			sinks = append(sinks, s)
		}
		return sinks, cleanup, nil

	case configuration.BackendHttp:
		for _, strategy := range strategies {
			if strategy != sink.StrategyPostBatch {
				return nil, noop, errors.Errorf("strategy %s is not supported by the http sink", strategy)
			}
			sinks = append(sinks, httpapi.New(config.Http))
		}
		return sinks, noop, nil

	default:
		return nil, noop, errors.Errorf("unknown backend %s", config.Backend)
	}
}

// Migrate creates every destination table of the configured backend. Redis and HTTP backends
// have nothing to create.
func Migrate(ctx context.Context, config configuration.IngestBenchConfiguration) error {
	start := time.Now()
	switch config.Backend {
	case configuration.BackendPostgres:
		db, err := database.OpenPgxPool(ctx, config.Postgres)
		if err != nil {
			return errors.WithMessage(err, "failed to connect to database")
		}
		defer db.Close()
		migrations, err := schema.PostgresMigrations()
		if err != nil {
			return err
		}
		if err := database.UpdateDatabase(ctx, db, migrations); err != nil {
			return errors.WithMessage(err, "failed to migrate database")
		}
	case configuration.BackendSql:
		db, cleanup, err := sqldb.Open(ctx, config.Sql.Driver, config.Sql.Dsn, config.Sql.MaxOpenConns)
		if err != nil {
			return err
		}
		defer cleanup()
		if err := schema.CreateSqlTables(ctx, db, config.Sql.Driver); err != nil {
			return errors.WithMessage(err, "failed to create tables")
		}
	default:
		log.Infof("Backend %s has no tables to create", config.Backend)
		return nil
	}
	log.Infof("Destinations of the %s backend migrated in %s", config.Backend, time.Since(start))
	return nil
}

// DestinationCount is the number of records held by one strategy's destination.
type DestinationCount struct {
	Strategy string
	Rows     int64
	Expected int64
}

// Verify checks that the destination of every selected strategy holds exactly as many records as
// the source. Strategies whose sink cannot count are skipped.
func Verify(ctx context.Context, config configuration.IngestBenchConfiguration) ([]DestinationCount, error) {
	expected, err := source.Count(source.NewCSVOpener(config.Source))
	if err != nil {
		return nil, err
	}
	log.Infof("Source %s holds %d records", config.Source.Path, expected)

	sinks, cleanup, err := openSinks(ctx, config)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	var result *multierror.Error
	var counts []DestinationCount
	for _, s := range sinks {
		counter, ok := s.(sink.Counter)
		if !ok {
			log.WithField("strategy", s.Name()).Info("Sink cannot count its destination, skipping")
			continue
		}
		n, err := counter.Count(ctx)
		if err != nil {
			result = multierror.Append(result, errors.WithMessagef(err, "strategy %s", s.Name()))
			continue
		}
		counts = append(counts, DestinationCount{Strategy: s.Name(), Rows: n, Expected: expected})
		logger := log.WithField("strategy", s.Name())
		if n != expected {
			logger.Errorf("destination holds %d records, expected %d", n, expected)
			result = multierror.Append(result, errors.Errorf("strategy %s: destination holds %d records, expected %d", s.Name(), n, expected))
		} else {
			logger.Infof("destination holds all %d records", n)
		}
	}
	return counts, result.ErrorOrNil()
}

// Serve starts the HTTP receiver and blocks until ctx is cancelled. Posted batches are written
// with the sql backend into the post_batch destination.
func Serve(ctx context.Context, config configuration.IngestBenchConfiguration) error {
	if config.Metrics.Port != 0 {
		shutdown := common.ServeMetrics(config.Metrics.Port)
		defer shutdown()
	}

	db, cleanup, err := sqldb.Open(ctx, config.Sql.Driver, config.Sql.Dsn, config.Sql.MaxOpenConns)
	if err != nil {
		return err
	}
	defer cleanup()
	if config.Sql.Driver == sqldb.DriverSqlite {
		if err := schema.CreateSqliteTables(ctx, db); err != nil {
			return err
		}
	}

	s, err := sqldb.New(db, config.Sql.Driver, config.ReceiverStrategy())
	if err != nil {
		return err
	}
	s = s.WithTable(sink.StrategyPostBatch.Destination())

	shutdown := common.ServeHttp(config.Receiver.Port, receiver.NewRouter(config.Receiver.Path, s))
	defer shutdown()
	log.Infof("Receiving batches on POST %s, writing with strategy %s into %s", config.Receiver.Path, s.Name(), s.Table())

	<-ctx.Done()
	return nil
}

// Generate writes a synthetic source of n records to path.
func Generate(path string, n int, seed int64) error {
	if n < 0 {
		return errors.Errorf("number of records must not be negative, got %d", n)
	}
	if err := testfixtures.WriteCSVFile(path, testfixtures.Records(n, seed)); err != nil {
		return errors.WithMessagef(err, "could not write %s", path)
	}
	log.Infof("Wrote %d records to %s", n, path)
	return nil
}
