package models

import (
	"errors"
	"fmt"
)

var (
	// ErrPatternNotFound marks "nothing found" outcomes. They are results, not I/O failures.
	ErrPatternNotFound = errors.New("pattern not found")

	ErrPaginationNotFound = fmt.Errorf("pagination undetermined: %w", ErrPatternNotFound)
	ErrNoDetailLinks      = fmt.Errorf("no detail links: %w", ErrPatternNotFound)
	ErrNoManifest         = fmt.Errorf("no manifest or video reference: %w", ErrPatternNotFound)
	ErrNoSegments         = fmt.Errorf("no segments: %w", ErrPatternNotFound)
	ErrNoImages           = fmt.Errorf("no images: %w", ErrPatternNotFound)

	ErrCancelled = errors.New("batch stopped before unit started")
)

// TransportError is a network or HTTP failure for a single URL.
type TransportError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status code %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError is a percent- or charset-decoding failure. Callers degrade to a placeholder.
type DecodeError struct {
	Stage string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Stage, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ValidationError is a malformed configuration value.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// FilesystemError is a directory or file I/O failure.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

// ErrorType classifies an error for summaries and the run history.
func ErrorType(err error) string {
	var (
		te *TransportError
		de *DecodeError
		ve *ValidationError
		fe *FilesystemError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrPatternNotFound):
		return "not_found"
	case errors.As(err, &te):
		return "transport_error"
	case errors.As(err, &de):
		return "decode_error"
	case errors.As(err, &ve):
		return "validation_error"
	case errors.As(err, &fe):
		return "filesystem_error"
	default:
		return "error"
	}
}
