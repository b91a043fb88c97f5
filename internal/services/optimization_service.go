// Package services – OptimizationService
//
// This file implements the OptimizationService, which turns recommender
// proposals into persisted, auditable optimization candidates and applies
// them to the live schedule under optimistic concurrency.
//
// The propose/apply protocol:
//
//  1. Propose snapshots the active schedule and fingerprints it.
//  2. The external recommender returns scored item moves.
//  3. The proposal is validated offline: every move must reference a real
//     item, stay inside duration bounds, and must not introduce new
//     critical-severity conflicts. Violations reject the proposal; nothing
//     is persisted.
//  4. A valid proposal is stored as an immutable candidate carrying
//     before/after snapshots and the base fingerprint.
//  5. Apply re-fingerprints the live schedule; any divergence fails with
//     ErrStaleSchedule and the caller must request a fresh candidate.
package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/mindwell/go-scheduling-backend/internal/domain"
	"github.com/mindwell/go-scheduling-backend/internal/recommender"
)

// CandidateRepo defines the repository contract required by OptimizationService.
type CandidateRepo interface {
	// ListActiveItems returns the user's active items ordered by start time.
	ListActiveItems(ctx context.Context, db *gorm.DB, userID string) ([]domain.ScheduleItem, error)

	// ListConflicts returns the user's conflicts filtered by status.
	ListConflicts(ctx context.Context, db *gorm.DB, userID string, status domain.ResolutionStatus) ([]domain.Conflict, error)

	// ListRollups returns rollups for days in [from, to).
	ListRollups(ctx context.Context, db *gorm.DB, userID string, from, to time.Time) ([]domain.DailyRollup, error)

	// CreateCandidate inserts a new optimization candidate.
	CreateCandidate(ctx context.Context, db *gorm.DB, c *domain.OptimizationCandidate) error

	// GetCandidate fetches one candidate, enforcing ownership.
	GetCandidate(ctx context.Context, db *gorm.DB, userID, id string) (*domain.OptimizationCandidate, error)

	// ListCandidates returns the user's candidates, newest first.
	ListCandidates(ctx context.Context, db *gorm.DB, userID string, limit int) ([]domain.OptimizationCandidate, error)

	// MarkCandidateApplied flags a not-yet-applied candidate as applied.
	MarkCandidateApplied(ctx context.Context, db *gorm.DB, userID, id string, at time.Time) error

	// SaveCandidateFeedback records feedback and an optional effectiveness score.
	SaveCandidateFeedback(ctx context.Context, db *gorm.DB, userID, id, feedback string, effectiveness *float64) error

	// GetItem fetches an item by ID, enforcing ownership.
	GetItem(ctx context.Context, db *gorm.DB, userID, id string) (*domain.ScheduleItem, error)

	// SaveItem persists an existing item, bumping its version.
	SaveItem(ctx context.Context, db *gorm.DB, item *domain.ScheduleItem) error
}

// OptimizationService orchestrates the propose/apply lifecycle of schedule
// optimization candidates.
type OptimizationService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the candidate repository used by this service.
	Repo CandidateRepo
	// Recommender computes proposals. Required.
	Recommender recommender.Client
	// Detector, when set, is invoked after a successful apply.
	Detector Detector

	// ProposeTimeout caps one recommender call.
	ProposeTimeout time.Duration
	// RollupLookback bounds the adherence history fed to the recommender.
	RollupLookback time.Duration
}

// NewOptimizationService constructs an OptimizationService with default
// recommender timeout and history lookback.
func NewOptimizationService(db *gorm.DB, r CandidateRepo, rec recommender.Client, d Detector) *OptimizationService {
	return &OptimizationService{
		DB:             db,
		Repo:           r,
		Recommender:    rec,
		Detector:       d,
		ProposeTimeout: 30 * time.Second,
		RollupLookback: 14 * 24 * time.Hour,
	}
}

// Propose asks the recommender for a rearrangement of the user's active
// schedule and persists it as a candidate. It returns
// ErrRecommenderUnavailable when the provider fails or times out, and
// OptimizationRejectedError when the proposal would introduce new
// critical-severity conflicts or is otherwise malformed.
func (s *OptimizationService) Propose(ctx context.Context, userID string, typ domain.OptimizationType, preferences string) (*domain.OptimizationCandidate, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: unknown optimization type %q", ErrOptimizationRejected, typ)
	}

	items, err := s.Repo.ListActiveItems(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	before := snapshotItems(items)
	fingerprint := ScheduleFingerprint(items)

	conflicts, err := s.Repo.ListConflicts(ctx, s.DB, userID, domain.ResolutionUnresolved)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	rollups, err := s.Repo.ListRollups(ctx, s.DB, userID, now.Add(-s.RollupLookback), now.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}

	callCtx := ctx
	if s.ProposeTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.ProposeTimeout)
		defer cancel()
	}
	proposal, err := s.Recommender.Propose(callCtx, recommender.ProposalRequest{
		UserID:      userID,
		Type:        typ,
		Items:       before,
		Conflicts:   conflicts,
		Rollups:     rollups,
		Preferences: preferences,
	})
	if err != nil {
		return nil, errors.Join(ErrRecommenderUnavailable, err)
	}

	after, err := applyMoves(items, proposal.Moves)
	if err != nil {
		return nil, err
	}
	if proposal.Score < 0 || proposal.Score > 100 {
		return nil, fmt.Errorf("%w: score %.1f out of range", ErrOptimizationRejected, proposal.Score)
	}
	if offending := newCriticalConflicts(items, after); len(offending) > 0 {
		return nil, &OptimizationRejectedError{Conflicts: offending}
	}

	cand := &domain.OptimizationCandidate{
		UserID:          userID,
		Type:            typ,
		Before:          before,
		After:           snapshotItems(after),
		BaseFingerprint: fingerprint,
		Score:           proposal.Score,
		Rationale:       proposal.Rationale,
	}
	if err := s.Repo.CreateCandidate(ctx, s.DB, cand); err != nil {
		return nil, err
	}
	return cand, nil
}

// Apply commits a candidate's moves to the live schedule. The whole apply is
// one transaction: either every moved item and the candidate's applied flag
// land together, or nothing changes. Fails with ErrStaleSchedule when the
// schedule no longer matches the candidate's base fingerprint, and with
// ErrCandidateApplied when the candidate was already applied.
func (s *OptimizationService) Apply(ctx context.Context, userID, candidateID string) (*domain.OptimizationCandidate, error) {
	cand, err := s.Repo.GetCandidate(ctx, s.DB, userID, candidateID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCandidateNotFound
	}
	if err != nil {
		return nil, err
	}
	if cand.Applied {
		return nil, ErrCandidateApplied
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		items, err := s.Repo.ListActiveItems(ctx, tx, userID)
		if err != nil {
			return err
		}
		if ScheduleFingerprint(items) != cand.BaseFingerprint {
			return ErrStaleSchedule
		}

		for _, moved := range changedSnapshots(cand.Before, cand.After) {
			item, err := s.Repo.GetItem(ctx, tx, userID, moved.ItemID)
			if err != nil {
				return err
			}
			item.StartTime = moved.StartTime
			item.Duration = moved.Duration
			item.OptimizationApplied = true
			if err := s.Repo.SaveItem(ctx, tx, item); err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrStaleSchedule
				}
				return err
			}
		}

		now := time.Now().UTC()
		if err := s.Repo.MarkCandidateApplied(ctx, tx, userID, candidateID, now); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCandidateApplied
			}
			return err
		}
		cand.Applied = true
		cand.AppliedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.Detector != nil {
		// The apply already committed; detection trouble goes to logs only.
		if _, derr := s.Detector.Recompute(ctx, userID); derr != nil {
			zerolog.Ctx(ctx).Warn().Err(derr).Str("user_id", userID).Msg("conflict recompute after apply failed")
		}
	}
	return cand, nil
}

// Get returns one candidate, or ErrCandidateNotFound.
func (s *OptimizationService) Get(ctx context.Context, userID, id string) (*domain.OptimizationCandidate, error) {
	cand, err := s.Repo.GetCandidate(ctx, s.DB, userID, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCandidateNotFound
	}
	return cand, err
}

// List returns the user's candidates, newest first.
func (s *OptimizationService) List(ctx context.Context, userID string, limit int) ([]domain.OptimizationCandidate, error) {
	return s.Repo.ListCandidates(ctx, s.DB, userID, limit)
}

// RecordFeedback stores user feedback on a candidate, optionally with the
// effectiveness score observed after real-world use.
func (s *OptimizationService) RecordFeedback(ctx context.Context, userID, id, feedback string, effectiveness *float64) error {
	if effectiveness != nil && (*effectiveness < 0 || *effectiveness > 100) {
		return fmt.Errorf("%w: effectiveness score %.1f out of range", ErrOptimizationRejected, *effectiveness)
	}
	err := s.Repo.SaveCandidateFeedback(ctx, s.DB, userID, id, feedback, effectiveness)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrCandidateNotFound
	}
	return err
}

// ScheduleFingerprint derives a stable digest of schedule state from the
// (id, version) pairs of the items, sorted by id. Any insert, delete, or
// version bump changes the digest.
func ScheduleFingerprint(items []domain.ScheduleItem) string {
	pairs := make([]string, 0, len(items))
	for i := range items {
		pairs = append(pairs, fmt.Sprintf("%s:%d", items[i].ID, items[i].Version))
	}
	sort.Strings(pairs)
	sum := sha256.Sum256([]byte(strings.Join(pairs, ",")))
	return hex.EncodeToString(sum[:])
}

// snapshotItems projects items into immutable snapshot form.
func snapshotItems(items []domain.ScheduleItem) domain.ScheduleSnapshot {
	out := make(domain.ScheduleSnapshot, 0, len(items))
	for i := range items {
		it := &items[i]
		out = append(out, domain.SnapshotItem{
			ItemID:    it.ID,
			Type:      it.Type,
			Title:     it.Title,
			StartTime: it.StartTime,
			Duration:  it.Duration,
			Priority:  it.Priority,
			Version:   it.Version,
		})
	}
	return out
}

// applyMoves returns a copy of items with the proposal's moves applied.
// Unknown item ids and out-of-range durations reject the proposal.
func applyMoves(items []domain.ScheduleItem, moves []recommender.Move) ([]domain.ScheduleItem, error) {
	byID := make(map[string]int, len(items))
	out := make([]domain.ScheduleItem, len(items))
	copy(out, items)
	for i := range out {
		byID[out[i].ID] = i
	}
	for _, m := range moves {
		i, ok := byID[m.ItemID]
		if !ok {
			return nil, fmt.Errorf("%w: move references unknown item %s", ErrOptimizationRejected, m.ItemID)
		}
		if m.Duration < domain.MinDurationMinutes || m.Duration > domain.MaxDurationMinutes {
			return nil, fmt.Errorf("%w: move duration %d out of range", ErrOptimizationRejected, m.Duration)
		}
		if m.StartTime.IsZero() {
			return nil, fmt.Errorf("%w: move start time missing", ErrOptimizationRejected)
		}
		out[i].StartTime = m.StartTime.UTC()
		out[i].Duration = m.Duration
	}
	return out, nil
}

// newCriticalConflicts returns the critical conflicts present in the proposed
// schedule but absent from the current one. Pre-existing conflicts of any
// severity do not block a proposal; introducing a new critical one does.
func newCriticalConflicts(current, proposed []domain.ScheduleItem) []domain.Conflict {
	existing := make(map[string]bool)
	for _, c := range DetectConflicts(current) {
		existing[c.PairKey()] = true
	}
	var out []domain.Conflict
	for _, c := range DetectConflicts(proposed) {
		if c.Severity == domain.SeverityCritical && !existing[c.PairKey()] {
			out = append(out, c)
		}
	}
	return out
}

// changedSnapshots returns the after-snapshot entries whose start or duration
// differ from their before counterpart.
func changedSnapshots(before, after domain.ScheduleSnapshot) []domain.SnapshotItem {
	prev := make(map[string]domain.SnapshotItem, len(before))
	for _, s := range before {
		prev[s.ItemID] = s
	}
	var out []domain.SnapshotItem
	for _, s := range after {
		b, ok := prev[s.ItemID]
		if !ok {
			continue
		}
		if !b.StartTime.Equal(s.StartTime) || b.Duration != s.Duration {
			out = append(out, s)
		}
	}
	return out
}
