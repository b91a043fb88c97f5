// Package services – ConflictService
//
// This file implements the ConflictService, which detects collisions between
// a user's active schedule items and manages the conflict lifecycle
// (unresolved -> resolved/ignored). Detection itself is a pure function over
// an item slice; persistence happens through an atomic replace of the user's
// unresolved set, so a recompute either lands completely or not at all.
//
// Recomputes for the same user are serialized with a per-user mutex. Pairs
// the user already settled (resolved or ignored) are never re-created while
// the overlapping geometry persists.
package services

import (
	"context"
	"errors"
	"sort"
	"sync"

	"gorm.io/gorm"

	"github.com/mindwell/go-scheduling-backend/internal/domain"
)

// ConflictRepo defines the repository contract required by ConflictService.
type ConflictRepo interface {
	// ListActiveItems returns the user's active items ordered by start time.
	ListActiveItems(ctx context.Context, db *gorm.DB, userID string) ([]domain.ScheduleItem, error)

	// ListConflicts returns the user's conflicts, optionally filtered by
	// resolution status ("" matches all).
	ListConflicts(ctx context.Context, db *gorm.DB, userID string, status domain.ResolutionStatus) ([]domain.Conflict, error)

	// GetConflict fetches one conflict by ID, enforcing ownership.
	GetConflict(ctx context.Context, db *gorm.DB, userID, id string) (*domain.Conflict, error)

	// ReplaceUnresolved atomically swaps the user's unresolved conflict set.
	ReplaceUnresolved(ctx context.Context, db *gorm.DB, userID string, conflicts []domain.Conflict) error

	// ResolveConflict transitions an unresolved conflict to resolved/ignored.
	ResolveConflict(ctx context.Context, db *gorm.DB, userID, id string, status domain.ResolutionStatus, action, notes string) error

	// SettledPairKeys returns pair keys of resolved and ignored conflicts.
	SettledPairKeys(ctx context.Context, db *gorm.DB, userID string) (map[string]bool, error)
}

// ConflictService detects and manages schedule conflicts for a single user
// partition at a time.
type ConflictService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the conflict repository used by this service.
	Repo ConflictRepo

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewConflictService constructs a ConflictService.
func NewConflictService(db *gorm.DB, r ConflictRepo) *ConflictService {
	return &ConflictService{
		DB:    db,
		Repo:  r,
		locks: make(map[string]*sync.Mutex),
	}
}

// userLock returns the mutex serializing recomputes for one user.
func (s *ConflictService) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

// Recompute re-runs conflict detection over the user's active items and
// replaces the stored unresolved set with the result. Pairs the user has
// already resolved or ignored are excluded. It returns the new unresolved
// conflicts. Recomputing twice without schedule changes yields the same set:
// the operation is idempotent.
func (s *ConflictService) Recompute(ctx context.Context, userID string) ([]domain.Conflict, error) {
	l := s.userLock(userID)
	l.Lock()
	defer l.Unlock()

	items, err := s.Repo.ListActiveItems(ctx, s.DB, userID)
	if err != nil {
		return nil, errors.Join(ErrConflictDetection, err)
	}
	settled, err := s.Repo.SettledPairKeys(ctx, s.DB, userID)
	if err != nil {
		return nil, errors.Join(ErrConflictDetection, err)
	}

	detected := DetectConflicts(items)
	conflicts := detected[:0]
	for _, c := range detected {
		if settled[c.PairKey()] {
			continue
		}
		conflicts = append(conflicts, c)
	}

	if err := s.Repo.ReplaceUnresolved(ctx, s.DB, userID, conflicts); err != nil {
		return nil, errors.Join(ErrConflictDetection, err)
	}
	return conflicts, nil
}

// List returns the user's conflicts, optionally filtered by resolution status.
func (s *ConflictService) List(ctx context.Context, userID string, status domain.ResolutionStatus) ([]domain.Conflict, error) {
	return s.Repo.ListConflicts(ctx, s.DB, userID, status)
}

// Resolve settles a conflict as resolved or ignored, recording the action
// taken and optional notes. Only unresolved conflicts can be settled; settling
// twice returns ErrConflictNotFound.
func (s *ConflictService) Resolve(ctx context.Context, userID, id string, status domain.ResolutionStatus, action, notes string) error {
	if status != domain.ResolutionResolved && status != domain.ResolutionIgnored {
		return ErrConflictNotFound
	}
	err := s.Repo.ResolveConflict(ctx, s.DB, userID, id, status, action, notes)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrConflictNotFound
	}
	return err
}

// DetectConflicts finds every pair of items whose base occurrence intervals
// overlap. It is a pure function: no I/O, no clock reads, deterministic output
// order (by pair key).
//
// The scan sorts items by start time and sweeps left to right, keeping a
// window of items whose interval still reaches the current start. Each item in
// the window overlaps the current item by construction.
func DetectConflicts(items []domain.ScheduleItem) []domain.Conflict {
	if len(items) < 2 {
		return nil
	}

	sorted := make([]*domain.ScheduleItem, len(items))
	for i := range items {
		sorted[i] = &items[i]
	}
	sort.Slice(sorted, func(a, b int) bool {
		return sorted[a].StartTime.Before(sorted[b].StartTime)
	})

	var out []domain.Conflict
	var window []*domain.ScheduleItem
	for _, cur := range sorted {
		// Drop window entries ending at or before the current start;
		// intervals are half-open so touching items do not conflict.
		kept := window[:0]
		for _, w := range window {
			if w.End().After(cur.StartTime) {
				kept = append(kept, w)
			}
		}
		window = kept

		for _, w := range window {
			c := domain.Conflict{
				Type:     domain.ConflictTimeOverlap,
				ItemA:    w.ID,
				ItemB:    cur.ID,
				Severity: ConflictSeverity(w.Priority, cur.Priority),
			}
			c.NormalizePair()
			out = append(out, c)
		}
		window = append(window, cur)
	}

	sort.Slice(out, func(a, b int) bool {
		return out[a].PairKey() < out[b].PairKey()
	})
	return out
}

// ConflictSeverity maps the priorities of two overlapping items to a conflict
// severity tier:
//
//   - critical when either item is critical
//   - high when either item is high
//   - medium otherwise
//
// The policy never yields "low": any overlap is worth surfacing at least at
// medium urgency.
func ConflictSeverity(a, b domain.Priority) domain.Severity {
	if a == domain.PriorityCritical || b == domain.PriorityCritical {
		return domain.SeverityCritical
	}
	if a == domain.PriorityHigh || b == domain.PriorityHigh {
		return domain.SeverityHigh
	}
	return domain.SeverityMedium
}
