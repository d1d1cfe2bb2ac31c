package sink

import (
	"context"

	"github.com/doug-martin/goqu/v9"
	"github.com/pkg/errors"

	"github.com/G-Research/ingestbench/internal/ingestbench/model"
)

// Strategy names a write-call shape. Every strategy delivers the same rows; they differ only in
// how many round trips and statements a batch costs.
type Strategy string

const (
	// One write per record inside a single transaction
	StrategyRowAtATime Strategy = "row_at_a_time"
	// The whole batch handed to the driver in one call, e.g. a pipelined batch or prepared statement
	StrategyNativeMultiRow Strategy = "native_multi_row"
	// One statement whose value list spans the batch
	StrategyMultiValue Strategy = "multi_value"
	// Postgres COPY protocol
	StrategyCopy Strategy = "copy"
	// One HTTP request carrying the batch
	StrategyPostBatch Strategy = "post_batch"
)

// Destination returns the table (or key space) a strategy writes to. Strategies never share a
// destination so their results can be verified independently.
func (s Strategy) Destination() string {
	switch s {
	case StrategyRowAtATime:
		return "bench1"
	case StrategyMultiValue:
		return "bench2"
	case StrategyNativeMultiRow:
		return "bench3"
	case StrategyCopy:
		return "bench4"
	case StrategyPostBatch:
		return "bench5"
	default:
		return ""
	}
}

// Destinations lists every table a relational backend may write to.
var Destinations = []string{"bench1", "bench2", "bench3", "bench4", "bench5"}

// BulkSink writes batches of records. Apply is atomic: on success every record of the batch is
// durable, on error none is. Errors are ingesterrors.ErrSinkUnavailable or ingesterrors.ErrWriteRejected.
type BulkSink interface {
	Name() string
	Apply(ctx context.Context, batch []model.Record) (int, error)
}

// Preparer is implemented by sinks that can empty their destination before a run.
type Preparer interface {
	Prepare(ctx context.Context) error
}

// Counter is implemented by sinks that can report how many records their destination holds.
type Counter interface {
	Count(ctx context.Context) (int64, error)
}

// MultiValueInsert builds a single INSERT whose VALUES list holds every record of batch.
// Values are interpolated, so args is empty unless the dialect is switched to prepared mode.
func MultiValueInsert(d goqu.DialectWrapper, table string, batch []model.Record) (string, []interface{}, error) {
	cols := make([]interface{}, len(model.Columns))
	for i, c := range model.Columns {
		cols[i] = c
	}
	rows := make([][]interface{}, len(batch))
	for i, r := range batch {
		rows[i] = r.Values()
	}
	sqlStatement, args, err := d.Insert(table).Cols(cols...).Vals(rows...).ToSQL()
	return sqlStatement, args, errors.WithStack(err)
}
