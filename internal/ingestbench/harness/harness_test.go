package harness

import (
	"context"
	"encoding/csv"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/G-Research/ingestbench/internal/common/ingesterrors"
	"github.com/G-Research/ingestbench/internal/ingestbench/model"
	"github.com/G-Research/ingestbench/internal/ingestbench/schema"
	"github.com/G-Research/ingestbench/internal/ingestbench/sink"
	"github.com/G-Research/ingestbench/internal/ingestbench/sink/sqldb"
	"github.com/G-Research/ingestbench/internal/ingestbench/source"
	"github.com/G-Research/ingestbench/internal/ingestbench/testfixtures"
)

var baseTime = time.Date(2023, 3, 1, 12, 0, 0, 0, time.UTC)

const batchApplyTime = 10 * time.Millisecond

// fakeSink records every batch it is given and advances the clock by batchApplyTime per call.
type fakeSink struct {
	name    string
	clock   *clocktesting.FakeClock
	batches [][]model.Record
	// When set, the call with this 1-based index fails
	failOn int
	err    error
}

func (s *fakeSink) Name() string {
	return s.name
}

func (s *fakeSink) Apply(_ context.Context, batch []model.Record) (int, error) {
	s.clock.Step(batchApplyTime)
	if s.failOn > 0 && len(s.batches)+1 == s.failOn {
		return 0, s.err
	}
	s.batches = append(s.batches, batch)
	return len(batch), nil
}

func (s *fakeSink) sizes() []int {
	sizes := make([]int, len(s.batches))
	for i, b := range s.batches {
		sizes[i] = len(b)
	}
	return sizes
}

func writeSource(t *testing.T, records []model.Record) *source.CSVOpener {
	path := filepath.Join(t.TempDir(), "addresses.csv")
	require.NoError(t, testfixtures.WriteCSVFile(path, records))
	return &source.CSVOpener{Path: path, Encoding: "iso-8859-1", FirstColumn: testfixtures.FirstColumn}
}

// writeSourceWithShortRow writes n rows where the row at zero-based position k has too few fields.
func writeSourceWithShortRow(t *testing.T, n int, k int) *source.CSVOpener {
	path := filepath.Join(t.TempDir(), "addresses.csv")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := csv.NewWriter(f)
	require.NoError(t, w.Write(testfixtures.Header))
	r := rand.New(rand.NewSource(1))
	for i, record := range testfixtures.Records(n, 1) {
		if i == k {
			require.NoError(t, w.Write([]string{"broken", "row"}))
			continue
		}
		require.NoError(t, w.Write(testfixtures.Row(record, r)))
	}
	w.Flush()
	require.NoError(t, w.Error())
	return &source.CSVOpener{Path: path, Encoding: "utf-8", FirstColumn: testfixtures.FirstColumn}
}

func newHarness(t *testing.T, capacity int) (*Harness, *clocktesting.FakeClock) {
	clock := clocktesting.NewFakeClock(baseTime)
	h, err := New(capacity, clock)
	require.NoError(t, err)
	return h, clock
}

func TestRun_BatchBoundaries(t *testing.T) {
	tests := map[string]struct {
		capacity      int
		numRecords    int
		expectedSizes []int
	}{
		"partial final batch":  {capacity: 2, numRecords: 3, expectedSizes: []int{2, 1}},
		"empty source":         {capacity: 1000, numRecords: 0, expectedSizes: []int{}},
		"thousand record size": {capacity: 1000, numRecords: 2500, expectedSizes: []int{1000, 1000, 500}},
		"exact multiple":       {capacity: 5, numRecords: 10, expectedSizes: []int{5, 5}},
		"single record":        {capacity: 1000, numRecords: 1, expectedSizes: []int{1}},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			h, clock := newHarness(t, tc.capacity)
			s := &fakeSink{name: "fake", clock: clock}
			records := testfixtures.Records(tc.numRecords, 42)

			result, err := h.Run(context.Background(), writeSource(t, records), s)

			require.NoError(t, err)
			assert.Equal(t, tc.expectedSizes, s.sizes())
			assert.Equal(t, "fake", result.Name)
			assert.Equal(t, int64(tc.numRecords), result.RowsProcessed)
			assert.Equal(t, len(tc.expectedSizes), result.Batches)
			assert.Equal(t, time.Duration(len(tc.expectedSizes))*batchApplyTime, result.Elapsed)
			assert.False(t, result.Failed)
			assert.Greater(t, result.BytesRead, uint64(0))

			var received []model.Record
			for _, b := range s.batches {
				received = append(received, b...)
			}
			require.Len(t, received, len(records))
			for i := range records {
				assert.True(t, records[i].Equal(received[i]), "record %d differs", i)
			}
		})
	}
}

func TestRun_EmptySourceHasNoLatencies(t *testing.T) {
	h, clock := newHarness(t, 10)
	s := &fakeSink{name: "fake", clock: clock}

	result, err := h.Run(context.Background(), writeSource(t, nil), s)

	require.NoError(t, err)
	assert.Equal(t, int64(0), result.RowsProcessed)
	assert.Equal(t, time.Duration(0), result.Elapsed)
	assert.Nil(t, result.BatchLatencyMs)
}

func TestRun_RereadIsIdempotent(t *testing.T) {
	h, clock := newHarness(t, 7)
	opener := writeSource(t, testfixtures.Records(50, 3))
	first := &fakeSink{name: "first", clock: clock}
	second := &fakeSink{name: "second", clock: clock}

	_, err := h.Run(context.Background(), opener, first)
	require.NoError(t, err)
	_, err = h.Run(context.Background(), opener, second)
	require.NoError(t, err)

	assert.Equal(t, first.batches, second.batches)
}

func TestRun_MalformedRecord(t *testing.T) {
	tests := map[string]struct {
		capacity        int
		numRecords      int
		malformedAt     int
		expectedBatches int
	}{
		"first row":              {capacity: 10, numRecords: 50, malformedAt: 0, expectedBatches: 0},
		"inside second batch":    {capacity: 10, numRecords: 50, malformedAt: 17, expectedBatches: 1},
		"first row of a batch":   {capacity: 10, numRecords: 50, malformedAt: 30, expectedBatches: 3},
		"last row":               {capacity: 10, numRecords: 50, malformedAt: 49, expectedBatches: 4},
		"large capacity no emit": {capacity: 1000, numRecords: 50, malformedAt: 25, expectedBatches: 0},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			h, clock := newHarness(t, tc.capacity)
			s := &fakeSink{name: "fake", clock: clock}

			result, err := h.Run(context.Background(), writeSourceWithShortRow(t, tc.numRecords, tc.malformedAt), s)

			require.NotNil(t, result)
			assert.True(t, result.Failed)
			assert.Equal(t, tc.expectedBatches, result.Batches)
			var malformed *ingesterrors.ErrMalformedRecord
			require.True(t, errors.As(err, &malformed), "expected ErrMalformedRecord, got %v", err)
			// header is line 1
			assert.Equal(t, tc.malformedAt+2, malformed.Line)
			assert.Len(t, s.batches, tc.expectedBatches)
			assert.Equal(t, tc.malformedAt/tc.capacity, len(s.batches))
		})
	}
}

func TestRun_SourceUnavailable(t *testing.T) {
	h, clock := newHarness(t, 10)
	s := &fakeSink{name: "fake", clock: clock}
	opener := &source.CSVOpener{Path: filepath.Join(t.TempDir(), "missing.csv")}

	result, err := h.Run(context.Background(), opener, s)

	assert.Nil(t, result)
	var unavailable *ingesterrors.ErrSourceUnavailable
	assert.True(t, errors.As(err, &unavailable))
	assert.Empty(t, s.batches)
}

func TestRun_SinkFailure(t *testing.T) {
	h, clock := newHarness(t, 10)
	sinkErr := &ingesterrors.ErrWriteRejected{Sink: "fake", Err: errors.New("value out of range")}
	s := &fakeSink{name: "fake", clock: clock, failOn: 3, err: sinkErr}

	result, err := h.Run(context.Background(), writeSource(t, testfixtures.Records(100, 5)), s)

	assert.Equal(t, sinkErr, err)
	require.NotNil(t, result)
	assert.True(t, result.Failed)
	assert.Equal(t, 2, result.Batches)
	assert.Equal(t, int64(0), result.RowsProcessed)
	assert.Equal(t, time.Duration(0), result.Elapsed)
	assert.Contains(t, result.Error, "value out of range")
	assert.Len(t, s.batches, 2)
}

func TestSweep_ContinuesAfterFailure(t *testing.T) {
	h, clock := newHarness(t, 1000)
	opener := writeSource(t, testfixtures.Records(2500, 6))
	sinkErr := &ingesterrors.ErrSinkUnavailable{Sink: "broken", Err: errors.New("connection refused")}
	sinks := []sink.BulkSink{
		&fakeSink{name: "first", clock: clock},
		&fakeSink{name: "broken", clock: clock, failOn: 2, err: sinkErr},
		&fakeSink{name: "last", clock: clock},
	}

	results, err := h.Sweep(context.Background(), opener, sinks)

	require.Error(t, err)
	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	assert.Len(t, merr.Errors, 1)
	var unavailable *ingesterrors.ErrSinkUnavailable
	assert.True(t, errors.As(merr.Errors[0], &unavailable))

	require.Len(t, results, 3)
	assert.Equal(t, int64(2500), results[0].RowsProcessed)
	assert.True(t, results[1].Failed)
	assert.Equal(t, 1, results[1].Batches)
	assert.Equal(t, int64(2500), results[2].RowsProcessed)
	assert.Equal(t, 3*batchApplyTime, results[2].Elapsed)
}

func TestSweep_SourceFailureIsRecorded(t *testing.T) {
	h, clock := newHarness(t, 10)
	opener := &source.CSVOpener{Path: filepath.Join(t.TempDir(), "missing.csv")}
	sinks := []sink.BulkSink{&fakeSink{name: "a", clock: clock}, &fakeSink{name: "b", clock: clock}}

	results, err := h.Sweep(context.Background(), opener, sinks)

	require.Error(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.Failed)
		assert.Contains(t, r.Error, "missing.csv")
	}
}

func TestSweep_MalformedRecordKeepsWrittenBatches(t *testing.T) {
	h, clock := newHarness(t, 10)
	opener := writeSourceWithShortRow(t, 50, 25)
	sinks := []sink.BulkSink{&fakeSink{name: "a", clock: clock}}

	results, err := h.Sweep(context.Background(), opener, sinks)

	var malformed *ingesterrors.ErrMalformedRecord
	require.True(t, errors.As(err, &malformed), "got %v", err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Failed)
	assert.Equal(t, 2, results[0].Batches)
}

func TestSweep_StopsWhenCancelled(t *testing.T) {
	h, clock := newHarness(t, 10)
	opener := writeSource(t, testfixtures.Records(20, 7))
	ctx, cancel := context.WithCancel(context.Background())
	first := &fakeSink{name: "first", clock: clock}
	second := &fakeSink{name: "second", clock: clock}
	cancelling := &cancellingSink{fakeSink: first, cancel: cancel}

	results, err := h.Sweep(ctx, opener, []sink.BulkSink{cancelling, second})

	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 1)
	assert.Equal(t, int64(20), results[0].RowsProcessed)
	assert.Empty(t, second.batches)
}

// cancellingSink cancels the sweep context once its first batch has been written.
type cancellingSink struct {
	*fakeSink
	cancel context.CancelFunc
}

func (s *cancellingSink) Apply(ctx context.Context, batch []model.Record) (int, error) {
	n, err := s.fakeSink.Apply(ctx, batch)
	s.cancel()
	return n, err
}

func TestSweep_SqliteStrategies(t *testing.T) {
	ctx := context.Background()
	db, cleanup, err := sqldb.Open(ctx, sqldb.DriverSqlite, filepath.Join(t.TempDir(), "bench.db"), 0)
	require.NoError(t, err)
	defer cleanup()
	require.NoError(t, schema.CreateSqliteTables(ctx, db))

	var sinks []sink.BulkSink
	for _, strategy := range []sink.Strategy{sink.StrategyRowAtATime, sink.StrategyNativeMultiRow, sink.StrategyMultiValue} {
		s, err := sqldb.New(db, sqldb.DriverSqlite, strategy)
		require.NoError(t, err)
		sinks = append(sinks, s)
	}
	h, _ := newHarness(t, 1000)

	results, err := h.Sweep(ctx, writeSource(t, testfixtures.Records(2500, 8)), sinks)

	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, sinks[i].Name(), r.Name)
		assert.Equal(t, int64(2500), r.RowsProcessed)
		assert.Equal(t, 3, r.Batches)
		assert.False(t, r.Failed)
	}
	for _, table := range []string{"bench1", "bench2", "bench3"} {
		var n int
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
		assert.Equal(t, 2500, n, table)
	}
}

func TestNew_InvalidBatchSize(t *testing.T) {
	_, err := New(0, clocktesting.NewFakeClock(baseTime))
	assert.Error(t, err)
}
