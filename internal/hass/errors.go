package hass

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured is returned before any network I/O when the base URL
	// or token cannot be resolved.
	ErrNotConfigured = errors.New("hass: Home Assistant not configured")

	ErrEmptyEntityID = errors.New("hass: entity ID cannot be empty")
	ErrEmptyService  = errors.New("hass: domain and service cannot be empty")

	// ErrUnhealthy is returned by Ping when the API answers but does not
	// report itself as running.
	ErrUnhealthy = errors.New("hass: API did not report running")
)

// APIError is a non-success HTTP response from Home Assistant.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("hass: API error %d", e.StatusCode)
	}
	return fmt.Sprintf("hass: API error %d: %s", e.StatusCode, e.Message)
}

// TransportError means no response was obtained at all.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "hass: request failed: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsNotConfigured reports whether err is a missing-configuration failure.
func IsNotConfigured(err error) bool {
	return errors.Is(err, ErrNotConfigured)
}

// IsTransport reports whether err means the remote was unreachable.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// StatusCode returns the upstream HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
