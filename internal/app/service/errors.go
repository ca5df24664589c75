package service

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks caller mistakes; every ValidationError wraps it.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound covers missing links and links the actor does not own.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists signals that a live link already holds the (domain, code) pair.
	ErrAlreadyExists = errors.New("code already exists in domain")

	// ErrConcurrentUpdate signals that the link changed since the caller read it.
	ErrConcurrentUpdate = errors.New("link was modified concurrently")

	ErrReservedCode = errors.New("code is reserved")

	// ErrCodeSpaceExhausted means the generator ran out of attempts. It points
	// at configuration (code length too short for the population), not at the caller.
	ErrCodeSpaceExhausted = errors.New("code space exhausted")

	ErrForbidden = errors.New("forbidden")
)

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
