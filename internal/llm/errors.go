package llm

import (
	"errors"
	"fmt"
)

// CompletionError reports a failure talking to a completion endpoint:
// transport, authentication, or an endpoint-side error.
type CompletionError struct {
	Provider   string
	Model      string
	StatusCode int // HTTP status when the endpoint answered, else 0
	Err        error
}

// Error implements the error interface.
func (e *CompletionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s completion (model %s): status %d: %v", e.Provider, e.Model, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s completion (model %s): %v", e.Provider, e.Model, e.Err)
}

// Unwrap returns the underlying cause.
func (e *CompletionError) Unwrap() error { return e.Err }

// IsCompletionError reports whether err is or wraps a *CompletionError.
func IsCompletionError(err error) bool {
	var ce *CompletionError
	return errors.As(err, &ce)
}

func completionError(provider, model string, status int, err error) *CompletionError {
	return &CompletionError{Provider: provider, Model: model, StatusCode: status, Err: err}
}
