// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for ScheduleItem.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition. Every query is scoped to a single
// user_id; cross-tenant access is structurally impossible through this API.
//
// Error semantics:
//   - When an item is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mindwell/go-scheduling-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for consistency across the service
// layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateItem inserts a new schedule item owned by item.UserID. The item ID
// is a randomly generated UUID unless already set (template materialization
// pre-assigns ids inside its transaction), and CreatedAt is set to UTC.
func CreateItem(ctx context.Context, db *gorm.DB, item *domain.ScheduleItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Version == 0 {
		item.Version = 1
	}
	item.CreatedAt = time.Now().UTC()
	return db.WithContext(ctx).Create(item).Error
}

// GetItem fetches a single item by its ID and owner. If the record does not
// exist, it returns ErrNotFound.
func GetItem(ctx context.Context, db *gorm.DB, userID, id string) (*domain.ScheduleItem, error) {
	var item domain.ScheduleItem
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ListActiveItems returns the user's active items ordered by start time.
// This is the working set of the conflict detector and the optimizer.
func ListActiveItems(ctx context.Context, db *gorm.DB, userID string) ([]domain.ScheduleItem, error) {
	var out []domain.ScheduleItem
	err := db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("start_time asc").
		Find(&out).Error
	return out, err
}

// ListItemsPage returns a page of the user's items, newest first, optionally
// filtered by schedule type ("" matches all) and by a start-time upper bound
// (zero time disables the bound). Use CountItems for pagination metadata.
func ListItemsPage(ctx context.Context, db *gorm.DB, userID string, typ domain.ScheduleType, until time.Time, offset, limit int) ([]domain.ScheduleItem, error) {
	q := db.WithContext(ctx).Where("user_id = ?", userID)
	if typ != "" {
		q = q.Where("type = ?", typ)
	}
	if !until.IsZero() {
		q = q.Where("start_time < ?", until)
	}
	var out []domain.ScheduleItem
	err := q.Order("start_time asc").Offset(offset).Limit(limit).Find(&out).Error
	return out, err
}

// CountItems returns the number of items matching the same filters as
// ListItemsPage.
func CountItems(ctx context.Context, db *gorm.DB, userID string, typ domain.ScheduleType, until time.Time) (int64, error) {
	q := db.WithContext(ctx).Model(&domain.ScheduleItem{}).Where("user_id = ?", userID)
	if typ != "" {
		q = q.Where("type = ?", typ)
	}
	if !until.IsZero() {
		q = q.Where("start_time < ?", until)
	}
	var total int64
	err := q.Count(&total).Error
	return total, err
}

// ListItemsForDay returns every item of the user whose base occurrence start
// falls on the given UTC day. The analytics engine aggregates over this set.
func ListItemsForDay(ctx context.Context, db *gorm.DB, userID string, day time.Time) ([]domain.ScheduleItem, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.AddDate(0, 0, 1)
	var out []domain.ScheduleItem
	err := db.WithContext(ctx).
		Where("user_id = ? AND start_time >= ? AND start_time < ?", userID, dayStart, dayEnd).
		Order("start_time asc").
		Find(&out).Error
	return out, err
}

// SaveItem persists the full state of an existing item and bumps its
// version. It returns ErrNotFound when no row matched (item missing or not
// owned by item.UserID): the version predicate doubles as an optimistic
// concurrency check.
func SaveItem(ctx context.Context, db *gorm.DB, item *domain.ScheduleItem) error {
	prev := item.Version
	item.Version = prev + 1
	item.UpdatedAt = time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.ScheduleItem{}).
		Where("id = ? AND user_id = ? AND version = ?", item.ID, item.UserID, prev).
		Select("*").
		Omit("id", "user_id", "created_at").
		Updates(item)
	if res.Error != nil {
		item.Version = prev
		return res.Error
	}
	if res.RowsAffected == 0 {
		item.Version = prev
		return ErrNotFound
	}
	return nil
}

// DeleteItem soft-deletes an item owned by userID. Returns ErrNotFound if
// the item does not exist.
func DeleteItem(ctx context.Context, db *gorm.DB, userID, id string) error {
	res := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&domain.ScheduleItem{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTemplateSlots returns the occurrence slot starts of still-active items
// materialized from the given template. Template application consults this
// set to stay idempotent over overlapping windows.
func ListTemplateSlots(ctx context.Context, db *gorm.DB, userID, templateID string) (map[time.Time]bool, error) {
	var rows []domain.ScheduleItem
	err := db.WithContext(ctx).
		Select("slot_start").
		Where("user_id = ? AND template_id = ? AND is_active = ?", userID, templateID, true).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[time.Time]bool, len(rows))
	for _, r := range rows {
		if r.SlotStart != nil {
			out[r.SlotStart.UTC()] = true
		}
	}
	return out, nil
}
