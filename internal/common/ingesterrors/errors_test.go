package ingesterrors

import (
	"context"
	"database/sql/driver"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestClassifySinkError_Unavailable(t *testing.T) {
	tests := map[string]error{
		"bad connection":     driver.ErrBadConn,
		"connection refused": &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED},
		"wrapped refused":    errors.Wrap(syscall.ECONNREFUSED, "dialing"),
		"unexpected eof":     io.ErrUnexpectedEOF,
		"admin shutdown":     &pgconn.PgError{Code: pgerrcode.AdminShutdown},
		"connection failure": &pgconn.PgError{Code: pgerrcode.ConnectionFailure},
		"too many conns":     &pgconn.PgError{Code: pgerrcode.TooManyConnections},
		"redis closed":       errors.New("redis: client is closed"),
		"interrupted":        errors.Wrap(context.Canceled, "executing insert"),
		"deadline":           context.DeadlineExceeded,
	}
	for name, err := range tests {
		t.Run(name, func(t *testing.T) {
			classified := ClassifySinkError("test", err)
			var unavailable *ErrSinkUnavailable
			assert.True(t, errors.As(classified, &unavailable), "got %T", classified)
			assert.Equal(t, "test", unavailable.Sink)
			assert.True(t, errors.Is(classified, err))
		})
	}
}

func TestClassifySinkError_Rejected(t *testing.T) {
	tests := map[string]error{
		"numeric overflow": &pgconn.PgError{Code: pgerrcode.NumericValueOutOfRange},
		"check violation":  &pgconn.PgError{Code: pgerrcode.CheckViolation},
		"missing table":    &pgconn.PgError{Code: pgerrcode.UndefinedTable},
		"sqlite":           errors.New("CHECK constraint failed: latitude_wgs84"),
	}
	for name, err := range tests {
		t.Run(name, func(t *testing.T) {
			classified := ClassifySinkError("test", err)
			var rejected *ErrWriteRejected
			assert.True(t, errors.As(classified, &rejected), "got %T", classified)
			assert.True(t, errors.Is(classified, err))
		})
	}
}

func TestClassifySinkError_AlreadyClassified(t *testing.T) {
	err := errors.WithStack(&ErrWriteRejected{Sink: "a", Err: driver.ErrBadConn})
	assert.Equal(t, err, ClassifySinkError("b", err))
	assert.Nil(t, ClassifySinkError("b", nil))
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t,
		`record source "a.csv" is unavailable: boom`,
		(&ErrSourceUnavailable{Locator: "a.csv", Err: errors.New("boom")}).Error())
	assert.Equal(t,
		"malformed record on line 7: expected at least 8 fields, got 3",
		(&ErrMalformedRecord{Line: 7, Message: "expected at least 8 fields, got 3"}).Error())
	assert.Equal(t,
		"sink bench1 is unavailable: boom",
		(&ErrSinkUnavailable{Sink: "bench1", Err: errors.New("boom")}).Error())
	assert.Equal(t,
		"sink bench1 rejected the batch: boom",
		(&ErrWriteRejected{Sink: "bench1", Err: errors.New("boom")}).Error())
}
