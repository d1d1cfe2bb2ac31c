package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Columns are the destination column names, in the order returned by Record.Values.
var Columns = []string{"street", "house_number", "postal_code", "latitude_wgs84", "longitude_wgs84"}

// Record is a single address read from the source. Coordinates are WGS84 degrees; an empty cell
// in the source yields an invalid (NULL) coordinate.
type Record struct {
	Street      string              `json:"street"`
	HouseNumber string              `json:"houseNumber"`
	PostalCode  string              `json:"postalCode"`
	Latitude    decimal.NullDecimal `json:"latitude"`
	Longitude   decimal.NullDecimal `json:"longitude"`
}

// Values returns the record as driver values in Columns order. Coordinates are rendered as
// decimal strings, or nil when absent, so that no precision is lost on the way to the store.
func (r Record) Values() []interface{} {
	return []interface{}{r.Street, r.HouseNumber, r.PostalCode, DecimalValue(r.Latitude), DecimalValue(r.Longitude)}
}

func DecimalValue(d decimal.NullDecimal) interface{} {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

// Equal compares two records by value. Decimals are compared numerically so 60.10 equals 60.1.
func (r Record) Equal(other Record) bool {
	return r.Street == other.Street &&
		r.HouseNumber == other.HouseNumber &&
		r.PostalCode == other.PostalCode &&
		nullDecimalEqual(r.Latitude, other.Latitude) &&
		nullDecimalEqual(r.Longitude, other.Longitude)
}

func nullDecimalEqual(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Decimal.Equal(b.Decimal)
}

// StrategyResult is the outcome of running one write strategy over the whole source.
type StrategyResult struct {
	Name string `json:"name"`
	// Rows the sink reported as durably written
	RowsProcessed int64         `json:"rowsProcessed"`
	Elapsed       time.Duration `json:"elapsed"`
	// Number of batches handed to the sink
	Batches   int    `json:"batches"`
	BytesRead uint64 `json:"bytesRead"`
	// Batch apply latency in milliseconds keyed by quantile, e.g. "q50"
	BatchLatencyMs map[string]float64 `json:"batchLatencyMs,omitempty"`
	// A failed result carries no timing
	Failed bool   `json:"failed"`
	Error  string `json:"error,omitempty"`
}

func FailedResult(name string, batches int, err error) *StrategyResult {
	return &StrategyResult{
		Name:    name,
		Batches: batches,
		Failed:  true,
		Error:   err.Error(),
	}
}

// RowsPerSecond is zero for failed results and for runs that took no measurable time.
func (r *StrategyResult) RowsPerSecond() float64 {
	if r.Failed || r.Elapsed <= 0 {
		return 0
	}
	return float64(r.RowsProcessed) / r.Elapsed.Seconds()
}
