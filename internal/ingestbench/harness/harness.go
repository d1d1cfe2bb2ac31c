package harness

import (
	"context"
	"io"

	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/G-Research/ingestbench/internal/common/ingest"
	"github.com/G-Research/ingestbench/internal/common/ingesterrors"
	"github.com/G-Research/ingestbench/internal/common/util"
	"github.com/G-Research/ingestbench/internal/ingestbench/metrics"
	"github.com/G-Research/ingestbench/internal/ingestbench/model"
	"github.com/G-Research/ingestbench/internal/ingestbench/sink"
	"github.com/G-Research/ingestbench/internal/ingestbench/source"
)

// Batch latencies are recorded in microseconds, up to one minute
const (
	minLatencyUs = 1
	maxLatencyUs = 60_000_000
)

var quantiles = map[string]float64{"q50": 50, "q95": 95, "q99": 99, "q100": 100}

// Harness times strategies against a record source. Strategies never run concurrently.
type Harness struct {
	batchSize int
	clock     clock.PassiveClock
	metrics   *metrics.Metrics
}

func New(batchSize int, clock clock.PassiveClock) (*Harness, error) {
	if batchSize <= 0 {
		return nil, errors.Errorf("batch size must be positive, got %d", batchSize)
	}
	return &Harness{
		batchSize: batchSize,
		clock:     clock,
		metrics:   metrics.Get(),
	}, nil
}

// Run makes one full pass over a freshly opened source, writing every batch to s.
//
// If the source cannot be opened, Run returns a nil result and the source error. If the source
// yields a malformed record or s fails, Run returns a failed result counting the batches already
// written, which stay written, alongside the error. No batch is retried.
func (h *Harness) Run(ctx context.Context, opener source.Opener, s sink.BulkSink) (*model.StrategyResult, error) {
	logger := log.WithField("strategy", s.Name())
	start := h.clock.Now()

	records, err := opener.Open()
	if err != nil {
		h.metrics.RecordError(s.Name(), metrics.KindSource)
		return nil, err
	}
	defer util.CloseResource("record source", records)

	histogram := hdrhistogram.New(minLatencyUs, maxLatencyUs, 3)
	var rows int64
	batches := 0
	batcher, err := ingest.NewBatcher[model.Record](h.batchSize, func(batch []model.Record) error {
		batchStart := h.clock.Now()
		written, err := s.Apply(ctx, batch)
		taken := h.clock.Since(batchStart)
		if err != nil {
			return err
		}
		_ = histogram.RecordValue(taken.Microseconds())
		h.metrics.RecordBatchApply(s.Name(), written, taken)
		rows += int64(written)
		batches++
		logger.Debugf("wrote batch %d of %d records in %s", batches, len(batch), taken)
		return nil
	})
	if err != nil {
		return nil, err
	}

	for {
		record, err := records.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			h.metrics.RecordError(s.Name(), metrics.KindSource)
			logger.WithError(err).Errorf("source failed after %d batches", batches)
			return model.FailedResult(s.Name(), batches, err), err
		}
		if err := batcher.Add(record); err != nil {
			return h.failed(s.Name(), batches, err)
		}
	}
	if err := batcher.Flush(); err != nil {
		return h.failed(s.Name(), batches, err)
	}

	elapsed := h.clock.Since(start)
	h.metrics.RecordElapsed(s.Name(), elapsed)
	return &model.StrategyResult{
		Name:           s.Name(),
		RowsProcessed:  rows,
		Elapsed:        elapsed,
		Batches:        batches,
		BytesRead:      records.BytesRead(),
		BatchLatencyMs: latencyQuantiles(histogram),
	}, nil
}

func (h *Harness) failed(name string, batches int, err error) (*model.StrategyResult, error) {
	h.metrics.RecordError(name, errorKind(err))
	log.WithField("strategy", name).WithError(err).Errorf("sink failed after %d batches", batches)
	return model.FailedResult(name, batches, err), err
}

// Sweep runs every sink in turn, each over a freshly opened source. A failing strategy does not
// stop the sweep; its failure is recorded in its result and in the returned error. Cancelling ctx
// stops the sweep before the next strategy starts.
func (h *Harness) Sweep(ctx context.Context, opener source.Opener, sinks []sink.BulkSink) ([]*model.StrategyResult, error) {
	var result *multierror.Error
	results := make([]*model.StrategyResult, 0, len(sinks))
	for _, s := range sinks {
		if ctx.Err() != nil {
			log.Warnf("sweep cancelled before strategy %s", s.Name())
			result = multierror.Append(result, errors.WithMessagef(ctx.Err(), "strategy %s not run", s.Name()))
			break
		}

		log.WithField("strategy", s.Name()).Infof("starting run over %s", opener.Locator())
		r, err := h.Run(ctx, opener, s)
		if err != nil {
			result = multierror.Append(result, errors.WithMessagef(err, "strategy %s", s.Name()))
			if r == nil {
				r = model.FailedResult(s.Name(), 0, err)
			}
		} else {
			log.WithField("strategy", r.Name).Infof("wrote %d rows in %d batches in %s", r.RowsProcessed, r.Batches, r.Elapsed)
		}
		results = append(results, r)
	}
	return results, result.ErrorOrNil()
}

func latencyQuantiles(h *hdrhistogram.Histogram) map[string]float64 {
	if h.TotalCount() == 0 {
		return nil
	}
	q := make(map[string]float64, len(quantiles))
	for name, quantile := range quantiles {
		q[name] = float64(h.ValueAtQuantile(quantile)) / 1000
	}
	return q
}

func errorKind(err error) string {
	var unavailable *ingesterrors.ErrSinkUnavailable
	var rejected *ingesterrors.ErrWriteRejected
	switch {
	case errors.As(err, &unavailable):
		return metrics.KindUnavailable
	case errors.As(err, &rejected):
		return metrics.KindRejected
	default:
		return metrics.KindOther
	}
}
