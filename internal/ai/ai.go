package ai

import (
	"context"
	"errors"
	"fmt"
)

// Completer is the single operation exposed by a text completion backend.
// Extraction, email generation and coherence judging all go through it.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Embedder turns text into a vector suitable for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ErrEmptyResponse is returned when the backend answered but produced no text.
var ErrEmptyResponse = errors.New("completion backend returned empty response")

// ServiceError marks a collaborator-level failure: the backend is unavailable,
// rate-limited past recovery, or misconfigured. The pipeline never retries it.
type ServiceError struct {
	Op    string
	Cause error
}

func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ai service: %s: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("ai service: %s", e.Op)
}

func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// NewServiceError wraps a backend failure with the operation that hit it.
func NewServiceError(op string, cause error) *ServiceError {
	return &ServiceError{Op: op, Cause: cause}
}

// IsServiceError reports whether err is (or wraps) a ServiceError.
func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}
