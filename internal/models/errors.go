package models

import (
	"errors"
	"fmt"
)

// ValidationError is returned when a value falls outside an enumeration
type ValidationError struct {
	message string
}

// NewValidationError formats a ValidationError
func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	return e.message
}

// IsValidationError reports whether err wraps a ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
