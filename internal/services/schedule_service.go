// Package services – ScheduleService
//
// This file implements the ScheduleService, which manages the lifecycle of
// schedule items: creation, listing with pagination, updates, completion, and
// deletion, plus on-demand expansion of an item's recurrence into concrete
// occurrences.
//
// Every mutation re-runs conflict detection for the owning user through the
// optional Detector hook; detection failures are logged and never block the
// mutation itself.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/mindwell/go-scheduling-backend/internal/domain"
	"github.com/mindwell/go-scheduling-backend/internal/recurrence"
)

// ItemRepo defines the repository contract required by ScheduleService.
type ItemRepo interface {
	// CreateItem inserts a new schedule item.
	CreateItem(ctx context.Context, db *gorm.DB, item *domain.ScheduleItem) error

	// GetItem fetches an item by ID, enforcing ownership.
	GetItem(ctx context.Context, db *gorm.DB, userID, id string) (*domain.ScheduleItem, error)

	// SaveItem persists an existing item, bumping its version.
	SaveItem(ctx context.Context, db *gorm.DB, item *domain.ScheduleItem) error

	// DeleteItem soft-deletes an item.
	DeleteItem(ctx context.Context, db *gorm.DB, userID, id string) error

	// ListItemsPage returns a filtered page of the user's items.
	ListItemsPage(ctx context.Context, db *gorm.DB, userID string, typ domain.ScheduleType, until time.Time, offset, limit int) ([]domain.ScheduleItem, error)

	// CountItems counts items matching the ListItemsPage filters.
	CountItems(ctx context.Context, db *gorm.DB, userID string, typ domain.ScheduleType, until time.Time) (int64, error)

	// ListActiveItems returns the user's active items ordered by start time.
	ListActiveItems(ctx context.Context, db *gorm.DB, userID string) ([]domain.ScheduleItem, error)
}

// Detector re-runs conflict detection for a user after a schedule mutation.
// ConflictService satisfies it.
type Detector interface {
	Recompute(ctx context.Context, userID string) ([]domain.Conflict, error)
}

// ScheduleService provides item-level operations and recurrence expansion.
type ScheduleService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the item repository used by this service.
	Repo ItemRepo
	// Detector, when set, is invoked after every mutation.
	Detector Detector
}

// NewScheduleService constructs a ScheduleService.
func NewScheduleService(db *gorm.DB, r ItemRepo, d Detector) *ScheduleService {
	return &ScheduleService{DB: db, Repo: r, Detector: d}
}

// Create validates and inserts a new item owned by userID, then re-runs
// conflict detection. Invalid items are rejected with
// domain.ErrInvalidScheduleItem or domain.ErrInvalidRecurrenceRule.
func (s *ScheduleService) Create(ctx context.Context, userID string, item *domain.ScheduleItem) (*domain.ScheduleItem, error) {
	item.UserID = userID
	item.Title = strings.TrimSpace(item.Title)
	if item.Priority == "" {
		item.Priority = domain.PriorityMedium
	}
	if item.Recurrence.Kind == "" {
		item.Recurrence = domain.Once()
	}
	item.IsActive = true
	if err := item.Validate(); err != nil {
		return nil, err
	}
	if err := s.Repo.CreateItem(ctx, s.DB, item); err != nil {
		return nil, err
	}
	s.redetect(ctx, userID)
	return item, nil
}

// Get returns one item, or ErrItemNotFound.
func (s *ScheduleService) Get(ctx context.Context, userID, id string) (*domain.ScheduleItem, error) {
	item, err := s.Repo.GetItem(ctx, s.DB, userID, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrItemNotFound
	}
	return item, err
}

// ListPage returns a page of the user's items plus the total count. Type ""
// matches all types; a zero until disables the start-time bound. Invalid
// page/pageSize fall back to defaults.
func (s *ScheduleService) ListPage(ctx context.Context, userID string, typ domain.ScheduleType, until time.Time, page, pageSize int) ([]domain.ScheduleItem, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := s.Repo.CountItems(ctx, s.DB, userID, typ, until)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.ScheduleItem{}, 0, nil
	}

	items, err := s.Repo.ListItemsPage(ctx, s.DB, userID, typ, until, offset, pageSize)
	return items, total, err
}

// Update applies the mutable fields of upd to the stored item and persists
// it. The stored version must still match upd.Version or the save fails with
// ErrStaleSchedule. Completion fields are not touched here; use Complete.
func (s *ScheduleService) Update(ctx context.Context, userID string, upd *domain.ScheduleItem) (*domain.ScheduleItem, error) {
	cur, err := s.Get(ctx, userID, upd.ID)
	if err != nil {
		return nil, err
	}

	cur.Type = upd.Type
	cur.Title = strings.TrimSpace(upd.Title)
	cur.Description = upd.Description
	cur.StartTime = upd.StartTime
	cur.Duration = upd.Duration
	cur.Recurrence = upd.Recurrence
	if cur.Recurrence.Kind == "" {
		cur.Recurrence = domain.Once()
	}
	cur.Priority = upd.Priority
	cur.IsActive = upd.IsActive
	if upd.Version != 0 {
		cur.Version = upd.Version
	}
	if err := cur.Validate(); err != nil {
		return nil, err
	}

	if err := s.Repo.SaveItem(ctx, s.DB, cur); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStaleSchedule
		}
		return nil, err
	}
	s.redetect(ctx, userID)
	return cur, nil
}

// Complete marks an item completed with the optional completion details and
// persists it.
func (s *ScheduleService) Complete(ctx context.Context, userID, id string, notes string, rating *int, moodBefore, moodAfter string, actualMinutes *int) (*domain.ScheduleItem, error) {
	cur, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := cur.Complete(time.Now().UTC(), notes, rating, moodBefore, moodAfter, actualMinutes); err != nil {
		return nil, err
	}
	if err := s.Repo.SaveItem(ctx, s.DB, cur); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStaleSchedule
		}
		return nil, err
	}
	return cur, nil
}

// Delete soft-deletes an item and re-runs conflict detection.
func (s *ScheduleService) Delete(ctx context.Context, userID, id string) error {
	err := s.Repo.DeleteItem(ctx, s.DB, userID, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrItemNotFound
	}
	if err != nil {
		return err
	}
	s.redetect(ctx, userID)
	return nil
}

// Occurrences expands one item's recurrence into concrete occurrences inside
// the half-open window [from, to).
func (s *ScheduleService) Occurrences(ctx context.Context, userID, id string, from, to time.Time) ([]recurrence.Occurrence, error) {
	item, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return recurrence.Expand(item, recurrence.Window{Start: from, End: to})
}

// Agenda expands every active item of the user into the window and returns
// the merged occurrence list, ordered by start.
func (s *ScheduleService) Agenda(ctx context.Context, userID string, from, to time.Time) ([]recurrence.Occurrence, error) {
	items, err := s.Repo.ListActiveItems(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	w := recurrence.Window{Start: from, End: to}
	var out []recurrence.Occurrence
	for i := range items {
		occs, err := recurrence.Expand(&items[i], w)
		if err != nil {
			return nil, err
		}
		out = append(out, occs...)
	}
	recurrence.SortOccurrences(out)
	return out, nil
}

// redetect triggers a conflict recompute after a mutation. Failures are
// logged; the mutation has already succeeded and must not be rolled back.
func (s *ScheduleService) redetect(ctx context.Context, userID string) {
	if s.Detector == nil {
		return
	}
	if _, err := s.Detector.Recompute(ctx, userID); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("user_id", userID).Msg("conflict recompute after mutation failed")
	}
}
