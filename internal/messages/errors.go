package messages

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a message or conversation does not exist.
var ErrNotFound = errors.New("messages: not found")

// CreationError is the only error Create and Retry return. Message is safe
// to show to API callers; Err carries the detail for logs.
type CreationError struct {
	Message string
	Err     error
}

func (e *CreationError) Error() string {
	return e.Message
}

func (e *CreationError) Unwrap() error { return e.Err }

func newCreationError(message string, err error) *CreationError {
	return &CreationError{Message: message, Err: err}
}

// TranslationError reports a failed translate call.
type TranslationError struct {
	Language string
	Err      error
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("messages: translate to %q failed: %v", e.Language, e.Err)
}

func (e *TranslationError) Unwrap() error { return e.Err }
