package fmp

import (
	"errors"
	"fmt"

	"github.com/bobmcallan/revisor/internal/models"
)

var (
	// ErrNoData means the API answered successfully with an empty result.
	ErrNoData = errors.New("fmp: no data")

	// ErrMalformedResponse means the body could not be decoded.
	ErrMalformedResponse = errors.New("fmp: malformed response")

	// ErrMissingAPIKey is returned by NewClient when no key is configured.
	ErrMissingAPIKey = errors.New("fmp: API key not configured")
)

// APIError represents a non-200 response or an error payload from the API
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("FMP API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// TransportError wraps network failures, including timeouts.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("FMP request failed (endpoint: %s): %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Classify maps a client error onto a failure kind for scan statistics.
func Classify(err error) models.FetchFailure {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	var transportErr *TransportError
	switch {
	case errors.Is(err, ErrNoData):
		return models.FailureNoData
	case errors.Is(err, ErrMalformedResponse):
		return models.FailureMalformed
	case errors.As(err, &apiErr):
		return models.FailureHTTP
	case errors.As(err, &transportErr):
		return models.FailureNetwork
	}
	return models.FailureUnknown
}
