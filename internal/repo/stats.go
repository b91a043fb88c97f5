// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// primarily for conditional responses (ETag generation) in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/mindwell/go-scheduling-backend/internal/domain"
)

// ItemsStats returns aggregate metadata for a user's schedule items: the
// total number of rows and the greatest UpdatedAt timestamp among them.
// When the user has no items, count is 0 and maxUpdatedAt is nil.
func ItemsStats(ctx context.Context, db *gorm.DB, userID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.ScheduleItem{}).Where("user_id = ?", userID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Latest updated_at without MAX() (which scans as TEXT in SQLite).
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// ConflictsStats returns the number of conflicts and the latest detection
// timestamp for a user, used for conditional GETs on the conflict list.
func ConflictsStats(ctx context.Context, db *gorm.DB, userID string) (count int64, maxDetectedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Conflict{}).Where("user_id = ?", userID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	var row struct {
		DetectedAt time.Time
	}
	if err = q.Select("detected_at").Order("detected_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.DetectedAt, nil
}
