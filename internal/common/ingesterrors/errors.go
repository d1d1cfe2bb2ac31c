// Package ingesterrors contains the errors raised while moving records from a source into a sink.
// Callers match them with errors.As; every type unwraps to the underlying cause.
//
// Source errors abort the current strategy. Sink errors are split into ErrSinkUnavailable (the
// store could not be reached) and ErrWriteRejected (the store refused the data). Neither is retried.
package ingesterrors

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/pkg/errors"
)

// ErrSourceUnavailable is returned when the record source cannot be opened or read.
type ErrSourceUnavailable struct {
	// Path or other locator of the source
	Locator string
	Err     error
}

func (err *ErrSourceUnavailable) Error() string {
	return fmt.Sprintf("record source %q is unavailable: %s", err.Locator, err.Err)
}

func (err *ErrSourceUnavailable) Unwrap() error {
	return err.Err
}

// ErrMalformedRecord is returned when a row cannot be turned into a record, e.g. because it has
// too few fields or a coordinate that is not a decimal number.
type ErrMalformedRecord struct {
	// 1-based line number within the source, including the header
	Line    int
	Message string
	Err     error
}

func (err *ErrMalformedRecord) Error() string {
	s := fmt.Sprintf("malformed record on line %d", err.Line)
	if err.Message != "" {
		s = s + fmt.Sprintf(": %s", err.Message)
	}
	if err.Err != nil {
		s = s + fmt.Sprintf(": %s", err.Err)
	}
	return s
}

func (err *ErrMalformedRecord) Unwrap() error {
	return err.Err
}

// ErrSinkUnavailable is returned when the destination store cannot be reached.
type ErrSinkUnavailable struct {
	Sink string
	Err  error
}

func (err *ErrSinkUnavailable) Error() string {
	return fmt.Sprintf("sink %s is unavailable: %s", err.Sink, err.Err)
}

func (err *ErrSinkUnavailable) Unwrap() error {
	return err.Err
}

// ErrWriteRejected is returned when the destination store refuses a batch, e.g. on a constraint
// or type violation. The batch has been rolled back.
type ErrWriteRejected struct {
	Sink string
	Err  error
}

func (err *ErrWriteRejected) Error() string {
	return fmt.Sprintf("sink %s rejected the batch: %s", err.Sink, err.Err)
}

func (err *ErrWriteRejected) Unwrap() error {
	return err.Err
}

// ClassifySinkError wraps err in ErrSinkUnavailable or ErrWriteRejected.
// Errors that are already classified are returned as they are.
func ClassifySinkError(sink string, err error) error {
	if err == nil {
		return nil
	}
	var unavailable *ErrSinkUnavailable
	var rejected *ErrWriteRejected
	if errors.As(err, &unavailable) || errors.As(err, &rejected) {
		return err
	}
	if IsUnavailableError(err) {
		return &ErrSinkUnavailable{Sink: sink, Err: err}
	}
	return &ErrWriteRejected{Sink: sink, Err: err}
}

// IsUnavailableError returns true if err indicates that the store could not be reached or that
// the connection was lost, as opposed to the store refusing the data.
func IsUnavailableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return IsUnavailablePostgresCode(pgErr.Code)
	}

	return pgconn.Timeout(err) || isRedisConnectionError(err)
}

// IsUnavailablePostgresCode returns true for connection exceptions (class 08), operator
// intervention (57P01..57P03) and insufficient resources (class 53).
func IsUnavailablePostgresCode(code string) bool {
	return strings.HasPrefix(code, "08") ||
		strings.HasPrefix(code, "53") ||
		code == pgerrcode.AdminShutdown ||
		code == pgerrcode.CrashShutdown ||
		code == pgerrcode.CannotConnectNow
}

func isRedisConnectionError(err error) bool {
	msg := err.Error()
	return strings.HasPrefix(msg, "LOADING ") || strings.HasPrefix(msg, "READONLY ") ||
		strings.HasPrefix(msg, "CLUSTERDOWN ") || strings.Contains(msg, "redis: client is closed")
}
