package editor

import "fmt"

const (
	processingFailedMessage = "Image processing failed after multiple attempts"
	retryResetFailedMessage = "Could not prepare the edit for retry"
)

// ValidationError is a request the caller has to fix. Never retried.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ConfigurationError is a server-side setup problem an operator has to fix.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("Server configuration error: %v. Please check the server configuration.", e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// NotFoundError is returned when a retry names an edit the caller does not own
// or that no longer exists.
type NotFoundError struct {
	EditID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("edit %s not found", e.EditID)
}

// ProcessingError is the terminal failure of a transformation. Details carries
// the underlying error message verbatim.
type ProcessingError struct {
	Message string
	Details string
	EditID  string
	Err     error
}

func (e *ProcessingError) Error() string {
	return e.Message + ": " + e.Details
}

func (e *ProcessingError) Unwrap() error { return e.Err }

func (e *ProcessingError) FailedEditID() string { return e.EditID }
