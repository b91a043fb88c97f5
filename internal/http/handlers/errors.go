// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes the symbolic error code constants mapped to HTTP
// responses via the fail() helper. The codes give clients a stable,
// machine-readable taxonomy that supplements human-readable messages.
//
// Conventions:
//   - Codes are lowercase snake_case.
//   - Generic codes mirror common HTTP status semantics.
//   - Domain-specific codes carry business outcomes that status alone cannot
//     (a rejected optimization proposal is not just any 422).

package handlers

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeInvalidItem            = "invalid_schedule_item"
	ErrCodeInvalidRecurrence      = "invalid_recurrence_rule"
	ErrCodeDetectionFailed        = "detection_failed"
	ErrCodeOptimizationRejected   = "optimization_rejected"
	ErrCodeStaleSchedule          = "stale_schedule"
	ErrCodeRecommenderUnavailable = "recommender_unavailable"
	ErrCodeCreateFailed           = "create_failed"
	ErrCodeListFailed             = "list_failed"
	ErrCodeMethodNotAllowed       = "method_not_allowed"
)
