package app

import (
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/dkeye/tsstatus/internal/domain"
)

// fatalQueryErrorID is reported when the query login is already in use
// elsewhere; the session cannot continue.
const fatalQueryErrorID = 520

var fatalKeywords = []string{
	"econnreset",
	"connection reset",
	"not connected",
	"connection timed out",
	"broken pipe",
}

// IsTransportFatal reports whether err means the voice session is dead and
// must be re-established. Everything else is a per-call failure.
func IsTransportFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrTransportFatal) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	type errorIDer interface{ ErrorID() int }
	var q errorIDer
	if errors.As(err, &q) && q.ErrorID() == fatalQueryErrorID {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, kw := range fatalKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// displayGone reports whether the display must be forgotten.
func displayGone(err error) bool {
	return errors.Is(err, domain.ErrDisplayMissing) || errors.Is(err, domain.ErrDisplayRejected)
}

// retryAfter is the back-off the messaging platform asked for, if any.
func retryAfter(err error) time.Duration {
	var r interface{ RetryDelay() time.Duration }
	if errors.As(err, &r) {
		return r.RetryDelay()
	}
	return 0
}

// withRetryAfter adds the platform's requested back-off to a log event.
func withRetryAfter(err error) func(e *zerolog.Event) {
	return func(e *zerolog.Event) {
		if d := retryAfter(err); d > 0 {
			e.Dur("retry_after", d)
		}
	}
}
