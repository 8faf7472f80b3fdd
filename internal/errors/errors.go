// Package errors defines the error taxonomy shared by the relay, the
// provider client and the HTTP boundary.
package errors

import "errors"

// Operator errors.
var (
	ErrConfiguration = errors.New("provider credentials not configured")
)

// Caller errors.
var (
	ErrMissingCode         = errors.New("authorization code missing")
	ErrInvalidReturnTarget = errors.New("invalid return target")
	ErrAccountNotFound     = errors.New("account not found")
)

// Provider errors.
var (
	ErrExchangeFailed      = errors.New("token exchange failed")
	ErrUpstreamUnavailable = errors.New("provider unavailable")
	ErrProviderRejected    = errors.New("provider rejected request")
)
