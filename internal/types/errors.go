package types

import (
	"errors"
	"fmt"
)

// FilteredError stops a processor chain without failing the resource.
type FilteredError struct {
	ProcessorName string
	ResourceID    string
	Reason        string
	Details       map[string]interface{}
}

func (e *FilteredError) Error() string {
	return fmt.Sprintf("filtered by %s: %s (resource: %s)", e.ProcessorName, e.Reason, e.ResourceID)
}

func IsFiltered(err error) bool {
	var fe *FilteredError
	return errors.As(err, &fe)
}

func NewFilteredError(processorName, resourceID, reason string) *FilteredError {
	return &FilteredError{
		ProcessorName: processorName,
		ResourceID:    resourceID,
		Reason:        reason,
		Details:       make(map[string]interface{}),
	}
}

func (e *FilteredError) WithDetail(key string, value interface{}) *FilteredError {
	e.Details[key] = value
	return e
}

// ProcessingError is a stage failure. Retryable is false for input that will
// never succeed no matter how often it is retried.
type ProcessingError struct {
	Stage     string
	Retryable bool
	Err       error
}

func (e *ProcessingError) Error() string {
	if e.Stage == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &ProcessingError{Err: err, Retryable: false}
}

func NonRetryablef(format string, args ...any) error {
	return NonRetryable(fmt.Errorf(format, args...))
}

// IsRetryable reports false only for errors explicitly marked non-retryable.
func IsRetryable(err error) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return true
}
