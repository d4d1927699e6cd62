package transform

import (
	"errors"
	"fmt"
)

// ErrMissingCredentials is returned by New when the selected pipeline has no API key.
var ErrMissingCredentials = errors.New("AI provider credentials are not configured")

// ErrMissingStorage is returned when generated bytes have nowhere to be uploaded.
var ErrMissingStorage = errors.New("object storage for generated images is not configured")

// FetchError reports that the source photo could not be downloaded.
type FetchError struct {
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("Failed to fetch image: %v", e.Err)
	}
	return fmt.Sprintf("Failed to fetch image: Status %d, Response: %s", e.StatusCode, e.Body)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ProviderError is a rejection from an AI provider. Message is the provider's own text.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s API error: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s API error (%d): %s", e.Provider, e.StatusCode, e.Message)
}

// ResponseShapeError means the provider answered 2xx but without the field we need.
type ResponseShapeError struct {
	Provider string
	Missing  string
}

func (e *ResponseShapeError) Error() string {
	return fmt.Sprintf("%s response has no %s", e.Provider, e.Missing)
}
