// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for
// ScheduleTemplate.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mindwell/go-scheduling-backend/internal/domain"
)

// CreateTemplate inserts a new schedule template.
func CreateTemplate(ctx context.Context, db *gorm.DB, t *domain.ScheduleTemplate) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = time.Now().UTC()
	return db.WithContext(ctx).Create(t).Error
}

// GetTemplate fetches one template by ID, enforcing ownership.
func GetTemplate(ctx context.Context, db *gorm.DB, userID, id string) (*domain.ScheduleTemplate, error) {
	var t domain.ScheduleTemplate
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTemplates returns the user's templates, most recently created first.
func ListTemplates(ctx context.Context, db *gorm.DB, userID string) ([]domain.ScheduleTemplate, error) {
	var out []domain.ScheduleTemplate
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}

// SaveTemplate persists the full state of an existing template. Returns
// ErrNotFound when the template is missing or not owned by t.UserID.
func SaveTemplate(ctx context.Context, db *gorm.DB, t *domain.ScheduleTemplate) error {
	t.UpdatedAt = time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.ScheduleTemplate{}).
		Where("id = ? AND user_id = ?", t.ID, t.UserID).
		Select("*").
		Omit("id", "user_id", "created_at", "usage_count", "last_used_at").
		Updates(t)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTemplate soft-deletes a template owned by userID.
func DeleteTemplate(ctx context.Context, db *gorm.DB, userID, id string) error {
	res := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&domain.ScheduleTemplate{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchTemplateUsage increments usage_count and stamps last_used_at. Called
// inside the template-apply transaction so the counter moves only when the
// apply as a whole succeeds.
func TouchTemplateUsage(ctx context.Context, db *gorm.DB, userID, id string, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.ScheduleTemplate{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]any{
			"usage_count":  gorm.Expr("usage_count + 1"),
			"last_used_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
