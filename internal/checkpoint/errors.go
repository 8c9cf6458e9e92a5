package checkpoint

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors.
var (
	// ErrUnsupportedFormat is returned when no reader variant matches a
	// path. With the permissive default in Select this is unreachable in
	// practice; it is kept for callers that disable the default.
	ErrUnsupportedFormat = errors.New("unsupported checkpoint format")

	// ErrMissingDependency mirrors the protocol's missing-optional-dependency
	// failure. All format decoders are compiled in, so the service never
	// produces it, but external clients still recognize the message.
	ErrMissingDependency = errors.New("optional format support unavailable")
)

// LoadError indicates a checkpoint could not be deserialized or restored.
type LoadError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying failure.
func (e *LoadError) Unwrap() error { return e.Err }

// PathNotFoundError indicates a key path segment could not be resolved
// against the current node. The message carries the full requested path
// and the underlying lookup failure.
type PathNotFoundError struct {
	Path  KeyPath
	Cause string
}

// Error implements the error interface.
func (e *PathNotFoundError) Error() string {
	return fmt.Sprintf("key not found: [%s] (%s)", strings.Join(e.Path, ", "), e.Cause)
}

// NotATensorError indicates a key path resolved to a non-tensor leaf.
// Value holds a string rendering of the resolved value.
type NotATensorError struct {
	Path  KeyPath
	Value string
}

// Error implements the error interface.
func (e *NotATensorError) Error() string {
	return fmt.Sprintf("target is not a tensor: [%s] resolved to %s", strings.Join(e.Path, ", "), e.Value)
}

// IndexReadError indicates a shard manifest was present but unparsable.
type IndexReadError struct {
	File string
	Err  error
}

// Error implements the error interface.
func (e *IndexReadError) Error() string {
	return fmt.Sprintf("failed to read shard index %s: %v", e.File, e.Err)
}

// Unwrap returns the underlying failure.
func (e *IndexReadError) Unwrap() error { return e.Err }
