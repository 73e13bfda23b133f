// Package services defines the business logic of the reminder dispatcher.
// This file centralizes service-level error values so callers (the CLI, the
// scheduler and the ops HTTP handlers) can map them with errors.Is.
package services

import "errors"

var (
	// ErrRunInProgress is returned by Run when another run holds the claim.
	// No reminder was read or written.
	ErrRunInProgress = errors.New("dispatch run already in progress")

	// ErrStoreUnavailable wraps reminder store failures that abort a run:
	// the due set could not be read, a contact could not be resolved or a
	// delivered flag could not be written. The run's transaction is rolled
	// back when it is returned.
	ErrStoreUnavailable = errors.New("reminder store unavailable")

	// ErrNotConfigured is returned by Run when a required collaborator
	// (database handle or channel registry) is missing.
	ErrNotConfigured = errors.New("dispatcher not configured")
)
