// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Conflict
// model, including the atomic replace used by the conflict detector.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mindwell/go-scheduling-backend/internal/domain"
)

// ListConflicts returns all conflicts of a user, newest first. Status ""
// matches all resolution states.
func ListConflicts(ctx context.Context, db *gorm.DB, userID string, status domain.ResolutionStatus) ([]domain.Conflict, error) {
	q := db.WithContext(ctx).Where("user_id = ?", userID)
	if status != "" {
		q = q.Where("resolution_status = ?", status)
	}
	var out []domain.Conflict
	err := q.Order("detected_at desc").Find(&out).Error
	return out, err
}

// GetConflict fetches one conflict by ID, enforcing ownership. Returns
// ErrNotFound when missing.
func GetConflict(ctx context.Context, db *gorm.DB, userID, id string) (*domain.Conflict, error) {
	var c domain.Conflict
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ReplaceUnresolved swaps the user's entire unresolved conflict set for the
// given conflicts inside one transaction. Resolved and ignored rows are
// untouched. A pair that was already unresolved keeps its row identity and
// detection timestamp; only its classification is refreshed. On any failure
// the transaction rolls back and the previous unresolved set stays intact;
// callers never observe a partial overwrite.
//
// Conflict IDs and detection timestamps are assigned here so that callers
// construct pure value objects.
func ReplaceUnresolved(ctx context.Context, db *gorm.DB, userID string, conflicts []domain.Conflict) error {
	now := time.Now().UTC()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []domain.Conflict
		if err := tx.
			Where("user_id = ? AND resolution_status = ?", userID, domain.ResolutionUnresolved).
			Find(&existing).Error; err != nil {
			return err
		}
		prev := make(map[string]*domain.Conflict, len(existing))
		for i := range existing {
			prev[existing[i].PairKey()] = &existing[i]
		}

		keep := make(map[string]bool, len(conflicts))
		for i := range conflicts {
			c := &conflicts[i]
			c.UserID = userID
			c.NormalizePair()
			c.ResolutionStatus = domain.ResolutionUnresolved
			key := c.PairKey()
			keep[key] = true

			if old, ok := prev[key]; ok {
				c.ID = old.ID
				c.DetectedAt = old.DetectedAt
				if err := tx.Model(&domain.Conflict{}).
					Where("id = ?", old.ID).
					Updates(map[string]any{
						"type":     c.Type,
						"severity": c.Severity,
					}).Error; err != nil {
					return err
				}
				continue
			}

			if c.ID == "" {
				c.ID = uuid.NewString()
			}
			if c.DetectedAt.IsZero() {
				c.DetectedAt = now
			}
			if err := tx.Create(c).Error; err != nil {
				return err
			}
		}

		for key, old := range prev {
			if keep[key] {
				continue
			}
			if err := tx.Delete(&domain.Conflict{}, "id = ?", old.ID).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// ResolveConflict transitions an unresolved conflict to resolved or ignored
// and records the action and notes. Returns ErrNotFound when the conflict is
// missing, not owned by userID, or already settled.
func ResolveConflict(ctx context.Context, db *gorm.DB, userID, id string, status domain.ResolutionStatus, action, notes string) error {
	now := time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.Conflict{}).
		Where("id = ? AND user_id = ? AND resolution_status = ?", id, userID, domain.ResolutionUnresolved).
		Updates(map[string]any{
			"resolution_status": status,
			"resolution_action": action,
			"resolution_notes":  notes,
			"resolved_at":       now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SettledPairKeys returns the canonical pair keys of the user's resolved and
// ignored conflicts. The detector skips these pairs so that a settled
// conflict is never recreated while the geometry still overlaps.
func SettledPairKeys(ctx context.Context, db *gorm.DB, userID string) (map[string]bool, error) {
	var rows []domain.Conflict
	err := db.WithContext(ctx).
		Select("item_a", "item_b").
		Where("user_id = ? AND resolution_status <> ?", userID, domain.ResolutionUnresolved).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(rows))
	for i := range rows {
		out[rows[i].PairKey()] = true
	}
	return out, nil
}
