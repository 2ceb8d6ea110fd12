package skype

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	apperrors "github.com/alexjbarnes/webskype/internal/errors"
)

// Re-exported sentinels so callers outside this module can match them
// with errors.Is.
var (
	ErrInvalidCredentials = apperrors.ErrInvalidCredentials
	ErrNotLoggedIn        = apperrors.ErrNotLoggedIn
	ErrAlreadyLoggedIn    = apperrors.ErrAlreadyLoggedIn
	ErrSessionLost        = apperrors.ErrSessionLost
	ErrChatExists         = apperrors.ErrChatExists
	ErrPoolClosed         = apperrors.ErrPoolClosed
)

// InvalidCredentialsError is returned when the login page rejects the
// submitted credentials. Message is the text scraped from the page's
// error container. When no container could be found, Page holds the
// entire response body for diagnosis.
type InvalidCredentialsError struct {
	Message string
	Page    string
}

func (e *InvalidCredentialsError) Error() string {
	if e.Page != "" {
		return fmt.Sprintf("invalid credentials: %s: %s", e.Message, sanitizeResponseBody([]byte(e.Page)))
	}

	return "invalid credentials: " + e.Message
}

// Is makes errors.Is(err, ErrInvalidCredentials) hold for every
// InvalidCredentialsError.
func (e *InvalidCredentialsError) Is(target error) bool {
	return target == apperrors.ErrInvalidCredentials
}

// ConnectionError reports an unexpected HTTP status or a transport
// failure. StatusCode is zero when no response was received, in which
// case Err holds the transport error.
type ConnectionError struct {
	Op         string
	StatusCode int
	Status     string
	Err        error
}

func (e *ConnectionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: unexpected status (%d, %s)", e.Op, e.StatusCode, e.Status)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IsRedirect reports whether the status is one the endpoints service
// uses to point a client at its home cloud.
func (e *ConnectionError) IsRedirect() bool {
	return isCloudRedirect(e.StatusCode)
}

// statusError builds a ConnectionError from a response status.
func statusError(op string, resp *http.Response) *ConnectionError {
	return &ConnectionError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Status:     statusText(resp),
	}
}

// statusText strips the numeric code from resp.Status, falling back to
// the canonical text when the server sent none.
func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}

	return text
}

// ParseError reports a response body that could not be interpreted.
type ParseError struct {
	Op  string
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// InvalidArgumentError reports a malformed redirect target handed to
// the cloud resolver.
type InvalidArgumentError struct {
	Value  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Value, e.Reason)
}

// TransientError marks a long poll that ran out of time before the
// server had anything to report. The poll loop answers it by polling
// again.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a poll timeout rather than a lost
// connection.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// isTimeout reports whether err is a deadline or network timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var ne net.Error

	return errors.As(err, &ne) && ne.Timeout()
}

// sanitizeResponseBody renders the first 256 bytes of a login page or
// event payload for logs and error text. Control characters other than
// whitespace and invalid UTF-8 become '?'.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var b strings.Builder
	b.Grow(len(body))

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		body = body[size:]

		switch {
		case r == utf8.RuneError && size == 1:
			b.WriteByte('?')
		case r < 0x20 && r != '\n' && r != '\r' && r != '\t':
			b.WriteByte('?')
		default:
			b.WriteRune(r)
		}
	}

	return b.String()
}
