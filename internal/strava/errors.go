package strava

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"unicode/utf8"

	apperrors "github.com/maxdhml/pulse-coach-backend/internal/errors"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

// Operation names used in errors, logs and metrics.
const (
	OpExchange   = "exchange"
	OpRefresh    = "refresh"
	OpActivities = "activities"
)

// Error is the single failure shape of every provider call. Kind is one
// of the internal/errors sentinels and drives the caller-facing status.
// Body holds the sanitized provider response for server-side logs only.
type Error struct {
	Kind   error
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("strava %s: %s", e.Op, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}

	if pm := e.ProviderMessage(); pm != "" {
		msg += ": " + pm
	}

	return msg
}

// Unwrap exposes both the kind sentinel and the underlying cause to
// errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}

	return errs
}

// ProviderMessage returns the provider's top-level "message" field.
func (e *Error) ProviderMessage() string {
	if e.Body == "" || !gjson.Valid(e.Body) {
		return ""
	}

	return gjson.Get(e.Body, "message").String()
}

// ProviderCode returns the first "errors[].code" entry, e.g. "invalid"
// for a reused authorization code.
func (e *Error) ProviderCode() string {
	if e.Body == "" || !gjson.Valid(e.Body) {
		return ""
	}

	return gjson.Get(e.Body, "errors.0.code").String()
}

// IsUpstreamUnavailable reports whether err is a provider outage rather
// than a rejection. Callers may retry these.
func IsUpstreamUnavailable(err error) bool {
	return errors.Is(err, apperrors.ErrUpstreamUnavailable)
}

// classifyGrantError maps an oauth2 grant failure onto Error.
func classifyGrantError(op string, err error) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		status := 0
		if rErr.Response != nil {
			status = rErr.Response.StatusCode
		}

		kind := apperrors.ErrExchangeFailed
		if isTransientStatus(status) {
			kind = apperrors.ErrUpstreamUnavailable
		}

		return &Error{Kind: kind, Op: op, Status: status, Body: sanitizeResponseBody(rErr.Body), Err: err}
	}

	if isTransportError(err) {
		return &Error{Kind: apperrors.ErrUpstreamUnavailable, Op: op, Err: err}
	}

	// Malformed 2xx responses, including a missing access_token.
	return &Error{Kind: apperrors.ErrExchangeFailed, Op: op, Err: err}
}

// isTransportError reports network failures: timeouts, refused
// connections, DNS errors and cancelled requests.
func isTransportError(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// isTransientStatus returns true for HTTP status codes that indicate a
// temporary server-side problem worth retrying.
func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	return false
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in logs. Limits to 512 bytes and replaces non-printable
// characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 512
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}
