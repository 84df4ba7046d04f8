package domain

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrConditionNotFound is returned when a condition ID is not registered.
var ErrConditionNotFound = errors.New("alert condition not found")

// ConfigurationError reports an invalid or missing condition parameter.
// It is raised at construction; evaluation never starts.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Key == "" {
		return "invalid configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid configuration %q: %s", e.Key, e.Reason)
}

// BackendError reports a failed or timed-out search backend call.
// It is never converted into a non-triggered result.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("search backend %s failed: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

func quote(s string) string { return strconv.Quote(s) }
