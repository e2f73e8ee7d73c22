package domain

import (
	"errors"
	"fmt"
)

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrTransientIO indicates a network or connection failure against the source or the index
	ErrTransientIO = errors.New("transient io error")

	// ErrPersistence indicates a checkpoint could not be written
	ErrPersistence = errors.New("checkpoint persistence failed")

	// ErrValidation indicates a raw record is missing a required field
	ErrValidation = errors.New("validation failed")

	// ErrIntegrity indicates a referenced entity is missing from the source
	ErrIntegrity = errors.New("referenced entity missing")

	// ErrLockNotAcquired indicates another coordinator owns the checkpoint namespace
	ErrLockNotAcquired = errors.New("coordinator lock held by another instance")

	// ErrUnauthorized indicates authentication failed or missing
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTokenExpired indicates the auth token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalid indicates the auth token is malformed or invalid
	ErrTokenInvalid = errors.New("token invalid")
)

// ValidationError describes a raw record rejected by the enricher.
type ValidationError struct {
	Kind  AggregateKind
	Key   string
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s record %q: missing or invalid field %q", e.Kind, e.Key, e.Field)
}

// Unwrap allows errors.Is(err, ErrValidation).
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// IntegrityWarning describes an aggregate key that was requested but not returned by the source.
type IntegrityWarning struct {
	Kind AggregateKind
	Key  string
}

func (e *IntegrityWarning) Error() string {
	return fmt.Sprintf("%s %q referenced by a change but not found in source", e.Kind, e.Key)
}

// Unwrap allows errors.Is(err, ErrIntegrity).
func (e *IntegrityWarning) Unwrap() error {
	return ErrIntegrity
}
