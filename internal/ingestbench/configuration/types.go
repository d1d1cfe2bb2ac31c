package configuration

import (
	"strings"
	"time"

	"golang.org/x/exp/slices"

	"github.com/G-Research/ingestbench/internal/common/config"
	"github.com/G-Research/ingestbench/internal/ingestbench/sink"
)

type Backend string

const (
	// pgx connection pool against Postgres
	BackendPostgres Backend = "postgres"
	// database/sql against SQLite or Postgres
	BackendSql Backend = "sql"
	BackendRedis Backend = "redis"
	// Batches are posted to an HTTP receiver
	BackendHttp Backend = "http"
)

// SupportedStrategies lists, in run order, the strategies a backend can execute.
func (b Backend) SupportedStrategies() []sink.Strategy {
	switch b {
	case BackendPostgres:
		return []sink.Strategy{sink.StrategyRowAtATime, sink.StrategyNativeMultiRow, sink.StrategyMultiValue, sink.StrategyCopy}
	case BackendSql:
		return []sink.Strategy{sink.StrategyRowAtATime, sink.StrategyNativeMultiRow, sink.StrategyMultiValue}
	case BackendRedis:
		return []sink.Strategy{sink.StrategyRowAtATime, sink.StrategyMultiValue}
	case BackendHttp:
		return []sink.Strategy{sink.StrategyPostBatch}
	default:
		return nil
	}
}

type IngestBenchConfiguration struct {
	Source SourceConfig
	// Number of records written per transaction
	BatchSize int `validate:"gt=0"`
	Backend   Backend `validate:"oneof=postgres sql redis http"`
	// Strategies to run, in order. Empty means every strategy the backend supports
	Strategies []sink.Strategy
	// Empty every destination before the sweep starts
	RecreateDestinations bool
	// Backend specific sections are validated only when their backend is selected
	Postgres config.PostgresConfig `validate:"-"`
	Sql      SqlConfig             `validate:"-"`
	Redis    RedisSinkConfig       `validate:"-"`
	Http     HttpConfig            `validate:"-"`
	Receiver ReceiverConfig        `validate:"-"`
	Report   ReportConfig
	Metrics  MetricsConfig
}

// Encodings the record source can decode. Names are matched case-insensitively.
var Encodings = []string{"iso-8859-1", "latin1", "utf-8", "utf8"}

func IsSupportedEncoding(encoding string) bool {
	return encoding == "" || slices.Contains(Encodings, strings.ToLower(encoding))
}

type SourceConfig struct {
	// Path of the delimited text file
	Path string `validate:"required"`
	// Character encoding of the file, one of Encodings. Empty means iso-8859-1
	Encoding string `validate:"encoding"`
	Delimiter rune
	// Zero based index of the street column. The following four columns hold house number,
	// postal code, latitude and longitude.
	FirstColumn int `validate:"gte=0"`
}

type SqlConfig struct {
	// database/sql driver name: sqlite or postgres
	Driver       string `validate:"oneof=sqlite postgres"`
	Dsn          string `validate:"required"`
	MaxOpenConns int    `validate:"gte=0"`
}

type RedisSinkConfig struct {
	Connection config.RedisConfig
	// Every key written is prefixed with this value
	KeyPrefix string `validate:"required"`
}

type HttpConfig struct {
	// Base url of the receiver, e.g. http://localhost:8080
	Url     string        `validate:"required,url"`
	Path    string        `validate:"required"`
	Timeout time.Duration `validate:"gt=0"`
}

// ReceiverConfig configures the HTTP batch receiver started by the serve command.
// Received batches are written with the sql backend.
type ReceiverConfig struct {
	Port     uint16 `validate:"required"`
	Path     string `validate:"required"`
	Strategy sink.Strategy
}

type ReportConfig struct {
	// Results are written as JSON to this file when set
	JsonOutFile string
	// A markdown comparison table is written to this file when set
	MarkdownOutFile string
	// Free form text stored alongside JSON results
	Metadata string
}

type MetricsConfig struct {
	// Prometheus metrics are served on this port when non zero
	Port uint16
}
