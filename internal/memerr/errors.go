// Package memerr defines the error kinds the pipeline distinguishes when
// deciding between failing a call and degrading it.
package memerr

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Wrap with fmt.Errorf("...: %w", kind) so callers can
// classify with errors.Is.
var (
	// ErrValidation covers missing or out-of-range caller input. Surfaced
	// to the caller immediately.
	ErrValidation = errors.New("validation error")

	// ErrBackendUnavailable covers connection failures, timeouts, and auth
	// rejection on a backing store. The pipeline degrades instead of failing.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrLLM covers chat or embedding failures. Analyzer defaults apply.
	ErrLLM = errors.New("llm error")

	// ErrData covers malformed data discovered after a read, e.g. corrupt
	// JSON in a stored analysis result. Logged and treated as missing.
	ErrData = errors.New("data error")

	// ErrInternal covers invariant breaches. Returned with a generic
	// message; details go to the log.
	ErrInternal = errors.New("internal error")
)

// Validationf builds a validation error with a formatted message.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Unavailable wraps a backend failure, tagging it with the backend name.
func Unavailable(backend string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrBackendUnavailable, backend, err)
}

// LLM wraps an LLM provider failure.
func LLM(err error) error {
	return fmt.Errorf("%w: %v", ErrLLM, err)
}

// Data wraps a post-read data corruption error.
func Data(err error) error {
	return fmt.Errorf("%w: %v", ErrData, err)
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsUnavailable reports whether err marks a backend as unreachable.
func IsUnavailable(err error) bool { return errors.Is(err, ErrBackendUnavailable) }

// IsLLM reports whether err came from the LLM layer.
func IsLLM(err error) bool { return errors.Is(err, ErrLLM) }
