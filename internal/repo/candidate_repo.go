// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for
// OptimizationCandidate. Candidates are immutable after creation except for
// the apply flag and the feedback/effectiveness fields.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mindwell/go-scheduling-backend/internal/domain"
)

// CreateCandidate inserts a new optimization candidate.
func CreateCandidate(ctx context.Context, db *gorm.DB, c *domain.OptimizationCandidate) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = time.Now().UTC()
	return db.WithContext(ctx).Create(c).Error
}

// GetCandidate fetches one candidate by ID, enforcing ownership.
func GetCandidate(ctx context.Context, db *gorm.DB, userID, id string) (*domain.OptimizationCandidate, error) {
	var c domain.OptimizationCandidate
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCandidates returns the user's candidates, newest first.
func ListCandidates(ctx context.Context, db *gorm.DB, userID string, limit int) ([]domain.OptimizationCandidate, error) {
	q := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []domain.OptimizationCandidate
	err := q.Find(&out).Error
	return out, err
}

// MarkCandidateApplied flags a not-yet-applied candidate as applied. Callers
// run this inside the apply transaction next to the item swaps. Returns
// ErrNotFound when the candidate is missing or already applied, which makes
// a concurrent double apply lose cleanly.
func MarkCandidateApplied(ctx context.Context, db *gorm.DB, userID, id string, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.OptimizationCandidate{}).
		Where("id = ? AND user_id = ? AND applied = ?", id, userID, false).
		Updates(map[string]any{"applied": true, "applied_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveCandidateFeedback records user feedback and, optionally, the
// effectiveness score observed after real-world use. A nil score leaves the
// stored value untouched (it may simply not be known yet).
func SaveCandidateFeedback(ctx context.Context, db *gorm.DB, userID, id, feedback string, effectiveness *float64) error {
	updates := map[string]any{"feedback": feedback}
	if effectiveness != nil {
		updates["effectiveness_score"] = *effectiveness
	}
	res := db.WithContext(ctx).
		Model(&domain.OptimizationCandidate{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
