// Package apierror carries HTTP status details from provider clients up to
// the callers that classify them.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// maxBody bounds how much of a response body is kept in the error message.
const maxBody = 512

// Error is a non-2xx response from a provider API.
type Error struct {
	Service    string
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Service, e.StatusCode, e.Body)
}

// New builds an Error from a response and its already-read body.
func New(service string, resp *http.Response, body []byte) *Error {
	b := string(body)
	if len(b) > maxBody {
		b = b[:maxBody]
	}
	e := &Error{Service: service, StatusCode: resp.StatusCode, Body: b}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(ra)); err == nil && secs > 0 {
			e.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return e
}

// Status returns the HTTP status carried anywhere in err's chain, or 0.
func Status(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}
