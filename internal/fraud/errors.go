package fraud

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrAlertNotFound     = errors.New("fraud alert not found")
	ErrCaseNotFound      = errors.New("fraud case not found")
	ErrCaseClosed        = errors.New("fraud case is closed")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError carries field-level messages for a rejected admin action.
// It is returned before any state is changed.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for f, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f, msg))
	}
	sort.Strings(parts)
	return "validation failed: " + strings.Join(parts, "; ")
}

func fieldError(field, msg string) error {
	return &ValidationError{Fields: map[string]string{field: msg}}
}
