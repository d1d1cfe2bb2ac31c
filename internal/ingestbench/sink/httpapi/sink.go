package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/ingestbench/internal/common/ingesterrors"
	"github.com/G-Research/ingestbench/internal/ingestbench/configuration"
	"github.com/G-Research/ingestbench/internal/ingestbench/model"
	"github.com/G-Research/ingestbench/internal/ingestbench/sink"
)

// WriteResponse is the body returned by the receiver when a batch has been committed.
type WriteResponse struct {
	RowsWritten int `json:"rowsWritten"`
}

// ErrorResponse is the body returned by the receiver when a batch could not be written.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Sink posts every batch as a JSON array to a receiver. The receiver commits the batch in a
// single transaction before answering, so a 201 means the whole batch is durable.
type Sink struct {
	client *resty.Client
	path   string
}

func New(config configuration.HttpConfig) *Sink {
	client := resty.New().
		SetBaseURL(config.Url).
		SetTimeout(config.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetRetryCount(0)

	client.OnAfterResponse(func(c *resty.Client, resp *resty.Response) error {
		log.Debugf("POST %s: %d in %v", resp.Request.URL, resp.StatusCode(), resp.Time())
		return nil
	})

	return &Sink{client: client, path: config.Path}
}

func (s *Sink) Name() string {
	return string(sink.StrategyPostBatch)
}

func (s *Sink) Apply(ctx context.Context, batch []model.Record) (int, error) {
	var written WriteResponse
	var failure ErrorResponse
	start := time.Now()
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(batch).
		SetResult(&written).
		SetError(&failure).
		Post(s.path)
	if err != nil {
		return 0, &ingesterrors.ErrSinkUnavailable{Sink: s.Name(), Err: errors.WithStack(err)}
	}

	if resp.StatusCode() == http.StatusCreated || resp.StatusCode() == http.StatusOK {
		log.Debugf("receiver wrote %d records in %s", written.RowsWritten, time.Since(start))
		return written.RowsWritten, nil
	}
	return 0, classifyStatus(s.Name(), resp.StatusCode(), failure.Error)
}

// classifyStatus maps a non-success reply to a sink error. Client errors mean the receiver
// refused the data; anything else means it could not take it.
func classifyStatus(name string, status int, message string) error {
	if message == "" {
		message = http.StatusText(status)
	}
	err := errors.Errorf("receiver answered %d: %s", status, message)
	if status >= 400 && status < 500 && status != http.StatusRequestTimeout && status != http.StatusTooManyRequests {
		return &ingesterrors.ErrWriteRejected{Sink: name, Err: err}
	}
	return &ingesterrors.ErrSinkUnavailable{Sink: name, Err: err}
}
