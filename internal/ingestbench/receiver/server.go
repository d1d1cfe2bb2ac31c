package receiver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/ingestbench/internal/common/ingesterrors"
	"github.com/G-Research/ingestbench/internal/ingestbench/model"
	"github.com/G-Research/ingestbench/internal/ingestbench/sink"
)

// NewRouter returns a gin engine accepting batches of records on POST path and applying each one
// to s in a single call.
func NewRouter(path string, s sink.BulkSink) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "sink": s.Name()})
	})
	router.POST(path, WriteBatch(s))
	return router
}

// WriteBatch decodes a JSON array of records and writes it with s.
//
// 201 means the batch is committed, 422 that the store refused it and 503 that the store could not
// be reached. Empty batches are accepted and write nothing.
func WriteBatch(s sink.BulkSink) gin.HandlerFunc {
	return func(c *gin.Context) {
		var batch []model.Record
		if err := c.ShouldBindJSON(&batch); err != nil {
			log.WithError(err).Warn("could not decode batch")
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request body: " + err.Error(),
			})
			return
		}

		if len(batch) == 0 {
			c.JSON(http.StatusCreated, gin.H{"rowsWritten": 0})
			return
		}

		written, err := s.Apply(c.Request.Context(), batch)
		if err != nil {
			log.WithError(err).WithField("strategy", s.Name()).Errorf("could not write batch of %d records", len(batch))
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"rowsWritten": written})
	}
}

func statusFor(err error) int {
	var rejected *ingesterrors.ErrWriteRejected
	var unavailable *ingesterrors.ErrSinkUnavailable
	switch {
	case errors.As(err, &rejected):
		return http.StatusUnprocessableEntity
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
