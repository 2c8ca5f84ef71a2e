// Package rtti recovers Microsoft C++ run-time type information from a
// loaded 32- or 64-bit image and turns it into class layouts.
package rtti

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrMalformedStructure indicates a record that could not be decoded,
	// usually because a fixed field lies outside the mapped image.
	ErrMalformedStructure = errors.New("rtti: malformed structure")

	// ErrValidationFailed indicates a decodable candidate that is not a
	// genuine RTTI chain.
	ErrValidationFailed = errors.New("rtti: validation failed")

	// ErrEmptyVftable indicates a locator whose vftable has no code
	// pointers.
	ErrEmptyVftable = errors.New("rtti: empty vftable")

	// ErrImageUnreadable indicates the image cannot be analyzed at all.
	ErrImageUnreadable = errors.New("rtti: image unreadable")
)

// StructureError describes a failure tied to one record in the image.
type StructureError struct {
	Kind    string // Record kind, e.g. "CompleteObjectLocator"
	Address uint64 // Virtual address of the record
	Message string // Description of the error
	Err     error  // Sentinel, optionally joined with the cause
}

func (e *StructureError) Error() string {
	return fmt.Sprintf("rtti: %s at 0x%x: %s: %v", e.Kind, e.Address, e.Message, e.Err)
}

func (e *StructureError) Unwrap() error { return e.Err }

func malformed(kind string, addr uint64, msg string, cause error) error {
	err := ErrMalformedStructure
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrMalformedStructure, cause)
	}
	return &StructureError{Kind: kind, Address: addr, Message: msg, Err: err}
}

func invalid(kind string, addr uint64, format string, args ...any) error {
	return &StructureError{
		Kind:    kind,
		Address: addr,
		Message: fmt.Sprintf(format, args...),
		Err:     ErrValidationFailed,
	}
}
