// Package services defines the business logic for schedule items, conflicts,
// analytics, optimization, and templates. This file centralizes common
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// These errors are intended for internal use by the service layer; translation
// into user-facing messages or HTTP status codes is performed at the handler
// layer.
package services

import (
	"errors"
	"fmt"

	"github.com/mindwell/go-scheduling-backend/internal/domain"
)

var (
	// ErrItemNotFound indicates that the requested schedule item does not
	// exist or is not accessible to the current user.
	ErrItemNotFound = errors.New("schedule item not found")

	// ErrConflictNotFound indicates that the requested conflict does not
	// exist, is not accessible, or has already been settled.
	ErrConflictNotFound = errors.New("conflict not found")

	// ErrTemplateNotFound indicates that the requested template does not
	// exist or is not accessible to the current user.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrCandidateNotFound indicates that the requested optimization
	// candidate does not exist or is not accessible to the current user.
	ErrCandidateNotFound = errors.New("optimization candidate not found")

	// ErrCandidateApplied is returned when applying a candidate that has
	// already been applied.
	ErrCandidateApplied = errors.New("optimization candidate already applied")

	// ErrStaleSchedule is the optimistic-concurrency failure on apply: the
	// live schedule changed since the candidate was computed. The caller
	// must request a fresh candidate.
	ErrStaleSchedule = errors.New("schedule changed since candidate was computed")

	// ErrConflictDetection wraps unexpected store failures during a conflict
	// recompute. The previous unresolved set is retained.
	ErrConflictDetection = errors.New("conflict detection failed")

	// ErrOptimizationRejected is the sentinel matched by errors.Is for
	// rejected proposals; the concrete error is OptimizationRejectedError.
	ErrOptimizationRejected = errors.New("optimization proposal rejected")

	// ErrRecommenderUnavailable indicates the external recommender call
	// failed or timed out. No candidate is persisted.
	ErrRecommenderUnavailable = errors.New("recommender unavailable")
)

// OptimizationRejectedError reports a proposal that would introduce new
// critical-severity conflicts. Conflicts lists the offending pairs so the
// caller can surface them.
type OptimizationRejectedError struct {
	Conflicts []domain.Conflict
}

// Error implements the error interface.
func (e *OptimizationRejectedError) Error() string {
	return fmt.Sprintf("optimization proposal rejected: %d new critical conflict(s)", len(e.Conflicts))
}

// Is lets errors.Is match the ErrOptimizationRejected sentinel.
func (e *OptimizationRejectedError) Is(target error) bool {
	return target == ErrOptimizationRejected
}
