package serialization

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrChecksumMismatch   = errors.New("checksum mismatch: file may be corrupted")
	ErrOffsetOverlap      = errors.New("tensor offsets overlap")
	ErrOutOfBounds        = errors.New("tensor extends beyond data section")
	ErrTooManyNodes       = errors.New("too many nodes in file")
	ErrInvalidName        = errors.New("invalid node or tensor name")
	ErrHeaderTooLarge     = errors.New("header exceeds maximum size")
	ErrInvalidMagic       = errors.New("invalid magic bytes")
	ErrUnsupportedVersion = errors.New("unsupported format version")
)

// ValidationError provides detailed information about validation failures.
type ValidationError struct {
	Type    string // e.g. "offset_overlap", "unknown_input"
	Name    string // primary node or tensor
	Other   string // secondary name, for overlaps and dangling inputs
	Details string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Other != "" {
		return fmt.Sprintf("%s: %q and %q: %s", e.Type, e.Name, e.Other, e.Details)
	}
	if e.Name != "" {
		return fmt.Sprintf("%s: %q: %s", e.Type, e.Name, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Details)
}

// Unwrap maps the error type onto its sentinel.
func (e *ValidationError) Unwrap() error {
	switch e.Type {
	case "offset_overlap":
		return ErrOffsetOverlap
	case "out_of_bounds", "negative_offset", "size_mismatch":
		return ErrOutOfBounds
	case "too_many_nodes":
		return ErrTooManyNodes
	case "invalid_name", "name_too_long", "duplicate_name", "unknown_input", "unknown_tensor":
		return ErrInvalidName
	}
	return nil
}
