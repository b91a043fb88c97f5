// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for DailyRollup.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mindwell/go-scheduling-backend/internal/domain"
)

// UpsertRollup writes the rollup for its (user, day) key, replacing every
// derived field when a row already exists. The write is deterministic: two
// upserts with the same input leave the same row.
func UpsertRollup(ctx context.Context, db *gorm.DB, r *domain.DailyRollup) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.Day = truncateToDay(r.Day)
	r.UpdatedAt = time.Now().UTC()
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "day"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"scheduled_items", "completed_items", "completion_rate",
			"therapy_count", "exercise_count", "journal_count",
			"sleep_count", "routine_count",
			"adherence_score", "updated_at",
		}),
	}).Create(r).Error
}

// GetRollup fetches the rollup for (userID, day), or ErrNotFound.
func GetRollup(ctx context.Context, db *gorm.DB, userID string, day time.Time) (*domain.DailyRollup, error) {
	var r domain.DailyRollup
	err := db.WithContext(ctx).
		Where("user_id = ? AND day = ?", userID, truncateToDay(day)).
		First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRollups returns the user's rollups for days in [from, to), oldest
// first. The optimizer feeds the most recent ones to the recommender.
func ListRollups(ctx context.Context, db *gorm.DB, userID string, from, to time.Time) ([]domain.DailyRollup, error) {
	var out []domain.DailyRollup
	err := db.WithContext(ctx).
		Where("user_id = ? AND day >= ? AND day < ?", userID, truncateToDay(from), truncateToDay(to)).
		Order("day asc").
		Find(&out).Error
	return out, err
}

// ListUserIDs returns the distinct user ids owning at least one schedule
// item. The nightly rollup batch iterates this set.
func ListUserIDs(ctx context.Context, db *gorm.DB) ([]string, error) {
	var out []string
	err := db.WithContext(ctx).
		Model(&domain.ScheduleItem{}).
		Distinct("user_id").
		Pluck("user_id", &out).Error
	return out, err
}

// truncateToDay normalizes an instant to midnight UTC, the canonical form of
// the rollup day key.
func truncateToDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
