// Package report formats strategy results as log lines, markdown tables and JSON files.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"sigs.k8s.io/yaml"

	"github.com/G-Research/ingestbench/internal/ingestbench/model"
)

const CurrentResultFormatVersion = "0.1"

// TestResult is the document written to the JSON result file.
type TestResult struct {
	Metadata            string                  `json:"metadata"`
	ResultFormatVersion string                  `json:"resultFormatVersion"`
	Source              string                  `json:"source"`
	Backend             string                  `json:"backend"`
	BatchSize           int                     `json:"batchSize"`
	StartTime           int64                   `json:"startTime"`
	EndTime             int64                   `json:"endTime"`
	Fastest             string                  `json:"fastest,omitempty"`
	Results             []*model.StrategyResult `json:"results"`
}

func NewTestResult(metadata, source, backend string, batchSize int, start, end time.Time, results []*model.StrategyResult) *TestResult {
	tr := &TestResult{
		Metadata:            metadata,
		ResultFormatVersion: CurrentResultFormatVersion,
		Source:              source,
		Backend:             backend,
		BatchSize:           batchSize,
		StartTime:           start.UnixMilli(),
		EndTime:             end.UnixMilli(),
		Results:             results,
	}
	if fastest := Fastest(results); fastest != nil {
		tr.Fastest = fastest.Name
	}
	return tr
}

// Fastest returns the successful result with the smallest elapsed time, preferring the earlier
// result on a tie. It returns nil if every result failed.
func Fastest(results []*model.StrategyResult) *model.StrategyResult {
	var fastest *model.StrategyResult
	for _, r := range results {
		if r == nil || r.Failed {
			continue
		}
		if fastest == nil || r.Elapsed < fastest.Elapsed {
			fastest = r
		}
	}
	return fastest
}

// LogSummary logs one line per strategy with its row count and elapsed seconds.
func LogSummary(results []*model.StrategyResult) {
	for _, r := range results {
		logger := log.WithField("strategy", r.Name)
		if r.Failed {
			logger.Errorf("FAILED after %d batches: %s", r.Batches, r.Error)
			continue
		}
		logger.WithFields(log.Fields{
			"rows":    r.RowsProcessed,
			"seconds": r.Elapsed.Seconds(),
		}).Infof("TIMED ROWS %d in %.3f seconds (%.0f rows/sec)", r.RowsProcessed, r.Elapsed.Seconds(), r.RowsPerSecond())
	}
	if fastest := Fastest(results); fastest != nil {
		log.Infof("Fastest strategy: %s", fastest.Name)
	}
}

// Generate writes a markdown comparison table. Speedup is each strategy's elapsed time relative
// to the fastest one. If config is not nil it is appended as YAML.
func Generate(w io.Writer, results []*model.StrategyResult, config interface{}) error {
	if len(results) == 0 {
		return errors.New("no results to report")
	}
	fastest := Fastest(results)

	fmt.Fprintln(w, "## Ingestion Benchmark Results")
	fmt.Fprintln(w)
	if fastest != nil {
		fmt.Fprintf(w, "Fastest strategy: **%s**\n", fastest.Name)
	} else {
		fmt.Fprintln(w, "Fastest strategy: **none, every strategy failed**")
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "| Strategy | Rows | Batches | Elapsed | Rows/sec | Input rate | Batch p50 | Batch p99 | Speedup |")
	fmt.Fprintln(w, "|----------|------|---------|---------|----------|------------|-----------|-----------|---------|")
	for _, r := range results {
		if r.Failed {
			fmt.Fprintf(w, "| %s | - | %d | FAILED | - | - | - | - | - |\n", r.Name, r.Batches)
			continue
		}
		speedup := 1.0
		if fastest != nil && fastest.Elapsed > 0 && r.Elapsed > 0 {
			speedup = float64(r.Elapsed) / float64(fastest.Elapsed)
		}
		fmt.Fprintf(w, "| %s | %d | %d | %s | %.0f | %s | %s | %s | %.2fx |\n",
			r.Name,
			r.RowsProcessed,
			r.Batches,
			formatDuration(r.Elapsed),
			r.RowsPerSecond(),
			inputRate(r),
			formatLatency(r.BatchLatencyMs, "q50"),
			formatLatency(r.BatchLatencyMs, "q99"),
			speedup,
		)
	}

	var failures []*model.StrategyResult
	for _, r := range results {
		if r.Failed {
			failures = append(failures, r)
		}
	}
	if len(failures) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "### Failures")
		fmt.Fprintln(w)
		for _, r := range failures {
			fmt.Fprintf(w, "- %s: %s\n", r.Name, r.Error)
		}
	}

	if config != nil {
		out, err := yaml.Marshal(config)
		if err != nil {
			return errors.WithStack(err)
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, "### Configuration")
		fmt.Fprintln(w)
		fmt.Fprintln(w, "```yaml")
		fmt.Fprint(w, string(out))
		fmt.Fprintln(w, "```")
	}
	return nil
}

// GenerateJSON writes the result document as indented JSON.
func GenerateJSON(w io.Writer, result *TestResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.WithStack(enc.Encode(result))
}

func WriteJSONFile(path string, result *TestResult) error {
	return writeFile(path, func(w io.Writer) error {
		return GenerateJSON(w, result)
	})
}

func WriteMarkdownFile(path string, results []*model.StrategyResult, config interface{}) error {
	return writeFile(path, func(w io.Writer) error {
		return Generate(w, results, config)
	})
}

func writeFile(path string, write func(w io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "could not create report file %s", path)
	}
	defer func() {
		if closeErr := f.Close(); err == nil && closeErr != nil {
			err = errors.WithStack(closeErr)
		}
	}()
	if err := write(f); err != nil {
		return err
	}
	log.Infof("Wrote report to %s", path)
	return nil
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}

func inputRate(r *model.StrategyResult) string {
	if r.BytesRead == 0 || r.Elapsed <= 0 {
		return "-"
	}
	return bytefmt.ByteSize(uint64(float64(r.BytesRead)/r.Elapsed.Seconds())) + "/s"
}

func formatLatency(latencies map[string]float64, quantile string) string {
	v, ok := latencies[quantile]
	if !ok {
		return "-"
	}
	return fmt.Sprintf("%.2fms", v)
}
