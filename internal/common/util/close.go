package util

import (
	"io"

	log "github.com/sirupsen/logrus"
)

// CloseResource closes c and logs, rather than returns, any failure. Used on exit paths where
// an earlier error is already being reported.
func CloseResource(name string, c io.Closer) {
	if err := c.Close(); err != nil {
		log.WithError(err).Warnf("Failed to close %s cleanly", name)
	}
}
