package source

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"

	"github.com/G-Research/ingestbench/internal/common/ingesterrors"
	"github.com/G-Research/ingestbench/internal/common/util"
	"github.com/G-Research/ingestbench/internal/ingestbench/configuration"
	"github.com/G-Research/ingestbench/internal/ingestbench/model"
)

const fieldsPerRecord = 5

// RecordSource is a forward-only sequence of records. Next returns io.EOF once every record has
// been read.
type RecordSource interface {
	Next() (model.Record, error)
	// BytesRead is the number of raw bytes consumed from the underlying stream so far.
	BytesRead() uint64
	Close() error
}

// Opener creates a fresh RecordSource positioned at the first record. Each call yields the same
// sequence as long as the underlying data does not change.
type Opener interface {
	Open() (RecordSource, error)
	Locator() string
}

// CSVOpener reads records from a delimited text file whose first line is a header.
type CSVOpener struct {
	Path string
	// iso-8859-1 (default) or utf-8
	Encoding    string
	Delimiter   rune
	FirstColumn int
}

func NewCSVOpener(config configuration.SourceConfig) *CSVOpener {
	return &CSVOpener{
		Path:        config.Path,
		Encoding:    config.Encoding,
		Delimiter:   config.Delimiter,
		FirstColumn: config.FirstColumn,
	}
}

func (o *CSVOpener) Locator() string {
	return o.Path
}

func (o *CSVOpener) Open() (RecordSource, error) {
	f, err := os.Open(o.Path)
	if err != nil {
		return nil, &ingesterrors.ErrSourceUnavailable{Locator: o.Path, Err: err}
	}
	source, err := NewCSVSource(f, o.Encoding, o.Delimiter, o.FirstColumn)
	if err != nil {
		_ = f.Close()
		return nil, &ingesterrors.ErrSourceUnavailable{Locator: o.Path, Err: err}
	}
	return source, nil
}

type CSVSource struct {
	closer      io.Closer
	counter     *countingReader
	reader      *csv.Reader
	firstColumn int
	// line of the most recently read row
	line          int
	headerSkipped bool
}

// NewCSVSource decodes r with the given encoding and reads records starting at firstColumn of
// every row after the header. If r is an io.Closer it is closed by Close.
func NewCSVSource(r io.Reader, encoding string, delimiter rune, firstColumn int) (*CSVSource, error) {
	counter := &countingReader{reader: r}
	var decoded io.Reader
	switch strings.ToLower(encoding) {
	case "", "iso-8859-1", "latin1":
		decoded = charmap.ISO8859_1.NewDecoder().Reader(counter)
	case "utf-8", "utf8":
		decoded = counter
	default:
		return nil, errors.Errorf("unsupported encoding %s", encoding)
	}

	reader := csv.NewReader(decoded)
	if delimiter != 0 {
		reader.Comma = delimiter
	}
	// Rows are only required to be long enough, the checks are done per row
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	source := &CSVSource{
		counter:     counter,
		reader:      reader,
		firstColumn: firstColumn,
	}
	if c, ok := r.(io.Closer); ok {
		source.closer = c
	}
	return source, nil
}

func (s *CSVSource) Next() (model.Record, error) {
	if !s.headerSkipped {
		if _, err := s.read(); err != nil {
			return model.Record{}, err
		}
		s.headerSkipped = true
	}

	row, err := s.read()
	if err != nil {
		return model.Record{}, err
	}
	return s.parse(row)
}

func (s *CSVSource) BytesRead() uint64 {
	return s.counter.n
}

func (s *CSVSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func (s *CSVSource) read() ([]string, error) {
	row, err := s.reader.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			return nil, &ingesterrors.ErrMalformedRecord{Line: parseErr.StartLine, Err: err}
		}
		return nil, errors.WithStack(err)
	}
	s.line, _ = s.reader.FieldPos(0)
	return row, nil
}

func (s *CSVSource) parse(row []string) (model.Record, error) {
	if len(row) < s.firstColumn+fieldsPerRecord {
		return model.Record{}, &ingesterrors.ErrMalformedRecord{
			Line:    s.line,
			Message: fmt.Sprintf("expected at least %d fields, got %d", s.firstColumn+fieldsPerRecord, len(row)),
		}
	}
	fields := row[s.firstColumn : s.firstColumn+fieldsPerRecord]

	latitude, err := parseCoordinate(fields[3])
	if err != nil {
		return model.Record{}, &ingesterrors.ErrMalformedRecord{Line: s.line, Message: "invalid latitude", Err: err}
	}
	longitude, err := parseCoordinate(fields[4])
	if err != nil {
		return model.Record{}, &ingesterrors.ErrMalformedRecord{Line: s.line, Message: "invalid longitude", Err: err}
	}

	// The csv reader reuses its buffers, the strings themselves are fresh allocations
	return model.Record{
		Street:      fields[0],
		HouseNumber: fields[1],
		PostalCode:  fields[2],
		Latitude:    latitude,
		Longitude:   longitude,
	}, nil
}

func parseCoordinate(s string) (decimal.NullDecimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}, nil
}

// countingReader counts the bytes read from the raw stream, before any decoding.
type countingReader struct {
	reader io.Reader
	n      uint64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.reader.Read(p)
	c.n += uint64(n)
	return n, err
}

// Count reads every record of a fresh source and returns how many there are.
func Count(opener Opener) (int64, error) {
	source, err := opener.Open()
	if err != nil {
		return 0, err
	}
	defer util.CloseResource("record source", source)

	var n int64
	for {
		_, err := source.Next()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}
