// Package handlers – error codes
//
// Stable, machine-readable codes carried in ErrorResponse.Code. Clients and
// alerting rules branch on these rather than on messages.
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Dispatch-specific:
	ErrCodeRunInProgress    = "run_in_progress"
	ErrCodeStoreUnavailable = "store_unavailable"
	ErrCodeNoRunYet         = "no_run_yet"
	ErrCodeRunCanceled      = "run_canceled"
)
