// Package services – TemplateService
//
// This file implements the TemplateService, which manages reusable schedule
// templates and materializes them into concrete schedule items over a time
// window.
//
// Application is idempotent per occurrence slot: each materialized item
// records its (template, slot start) identity, and re-applying a window skips
// slots that still have an active item. The whole apply runs in one
// transaction, so a partial materialization never becomes visible.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/mindwell/go-scheduling-backend/internal/domain"
)

// TemplateRepo defines the repository contract required by TemplateService.
type TemplateRepo interface {
	// CreateTemplate inserts a new schedule template.
	CreateTemplate(ctx context.Context, db *gorm.DB, t *domain.ScheduleTemplate) error

	// GetTemplate fetches one template, enforcing ownership.
	GetTemplate(ctx context.Context, db *gorm.DB, userID, id string) (*domain.ScheduleTemplate, error)

	// ListTemplates returns the user's templates, newest first.
	ListTemplates(ctx context.Context, db *gorm.DB, userID string) ([]domain.ScheduleTemplate, error)

	// SaveTemplate persists the full state of an existing template.
	SaveTemplate(ctx context.Context, db *gorm.DB, t *domain.ScheduleTemplate) error

	// DeleteTemplate soft-deletes a template.
	DeleteTemplate(ctx context.Context, db *gorm.DB, userID, id string) error

	// TouchTemplateUsage increments usage_count and stamps last_used_at.
	TouchTemplateUsage(ctx context.Context, db *gorm.DB, userID, id string, at time.Time) error

	// ListTemplateSlots returns slot starts of active items from the template.
	ListTemplateSlots(ctx context.Context, db *gorm.DB, userID, templateID string) (map[time.Time]bool, error)

	// CreateItem inserts a materialized schedule item.
	CreateItem(ctx context.Context, db *gorm.DB, item *domain.ScheduleItem) error
}

// TemplateService manages template CRUD and materialization.
type TemplateService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the template repository used by this service.
	Repo TemplateRepo
	// Detector, when set, is invoked after a successful apply.
	Detector Detector
}

// NewTemplateService constructs a TemplateService.
func NewTemplateService(db *gorm.DB, r TemplateRepo, d Detector) *TemplateService {
	return &TemplateService{DB: db, Repo: r, Detector: d}
}

// Create validates and inserts a new template owned by userID.
func (s *TemplateService) Create(ctx context.Context, userID string, t *domain.ScheduleTemplate) (*domain.ScheduleTemplate, error) {
	t.UserID = userID
	t.Name = strings.TrimSpace(t.Name)
	t.IsActive = true
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if err := s.Repo.CreateTemplate(ctx, s.DB, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Get returns one template, or ErrTemplateNotFound.
func (s *TemplateService) Get(ctx context.Context, userID, id string) (*domain.ScheduleTemplate, error) {
	t, err := s.Repo.GetTemplate(ctx, s.DB, userID, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTemplateNotFound
	}
	return t, err
}

// List returns the user's templates.
func (s *TemplateService) List(ctx context.Context, userID string) ([]domain.ScheduleTemplate, error) {
	return s.Repo.ListTemplates(ctx, s.DB, userID)
}

// Update applies the mutable fields of upd to the stored template.
func (s *TemplateService) Update(ctx context.Context, userID string, upd *domain.ScheduleTemplate) (*domain.ScheduleTemplate, error) {
	cur, err := s.Get(ctx, userID, upd.ID)
	if err != nil {
		return nil, err
	}
	cur.Name = strings.TrimSpace(upd.Name)
	cur.Description = upd.Description
	cur.Cadence = upd.Cadence
	cur.Entries = upd.Entries
	cur.IsActive = upd.IsActive
	if err := cur.Validate(); err != nil {
		return nil, err
	}
	if err := s.Repo.SaveTemplate(ctx, s.DB, cur); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, err
	}
	return cur, nil
}

// Delete soft-deletes a template. Items already materialized from it are kept.
func (s *TemplateService) Delete(ctx context.Context, userID, id string) error {
	err := s.Repo.DeleteTemplate(ctx, s.DB, userID, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrTemplateNotFound
	}
	return err
}

// Apply materializes the template's entries into schedule items for every
// occurrence slot inside [from, to). Slots that already carry an active item
// from this template are skipped, so applying overlapping windows never
// duplicates items. It returns the newly created items; an apply where every
// slot already exists succeeds with an empty result and does not bump the
// usage counter.
func (s *TemplateService) Apply(ctx context.Context, userID, templateID string, from, to time.Time) ([]domain.ScheduleItem, error) {
	t, err := s.Get(ctx, userID, templateID)
	if err != nil {
		return nil, err
	}
	if !t.IsActive {
		return nil, ErrTemplateNotFound
	}
	if !to.After(from) {
		return []domain.ScheduleItem{}, nil
	}

	var created []domain.ScheduleItem
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.Repo.ListTemplateSlots(ctx, tx, userID, templateID)
		if err != nil {
			return err
		}

		for i := range t.Entries {
			e := &t.Entries[i]
			for _, slot := range entrySlots(t.Cadence, e, from, to) {
				if existing[slot.UTC()] {
					continue
				}
				slotStart := slot
				priority := e.Priority
				if priority == "" {
					priority = domain.PriorityMedium
				}
				item := domain.ScheduleItem{
					ID:          uuid.NewString(),
					UserID:      userID,
					Type:        e.Type,
					Title:       e.Title,
					Description: e.Description,
					StartTime:   slot,
					Duration:    e.Duration,
					Recurrence:  e.Recurrence,
					Priority:    priority,
					IsActive:    true,
					TemplateID:  &t.ID,
					SlotStart:   &slotStart,
				}
				if err := item.Validate(); err != nil {
					return err
				}
				if err := s.Repo.CreateItem(ctx, tx, &item); err != nil {
					return err
				}
				created = append(created, item)
			}
		}

		if len(created) == 0 {
			return nil
		}
		return s.Repo.TouchTemplateUsage(ctx, tx, userID, templateID, time.Now().UTC())
	})
	if err != nil {
		return nil, err
	}

	if len(created) > 0 && s.Detector != nil {
		if _, derr := s.Detector.Recompute(ctx, userID); derr != nil {
			zerolog.Ctx(ctx).Warn().Err(derr).Str("user_id", userID).Msg("conflict recompute after template apply failed")
		}
	}
	if created == nil {
		created = []domain.ScheduleItem{}
	}
	return created, nil
}

// entrySlots enumerates the entry's occurrence starts inside [from, to).
// Daily templates occur every day, weekly ones on the entry's weekday
// (defaulting to the window start's weekday), monthly ones on the window
// start's day-of-month clamped to short months.
func entrySlots(cadence domain.TemplateCadence, e *domain.TemplateEntry, from, to time.Time) []time.Time {
	from = from.UTC()
	to = to.UTC()
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)

	var out []time.Time
	for ; day.Before(to); day = day.AddDate(0, 0, 1) {
		switch cadence {
		case domain.CadenceWeekly:
			want := from.Weekday()
			if e.Weekday != nil {
				want = *e.Weekday
			}
			if day.Weekday() != want {
				continue
			}
		case domain.CadenceMonthly:
			want := from.Day()
			if last := lastDayOfMonth(day); want > last {
				want = last
			}
			if day.Day() != want {
				continue
			}
		}
		start := e.At(day)
		if !start.Before(from) && start.Before(to) {
			out = append(out, start)
		}
	}
	return out
}

// lastDayOfMonth returns the number of days in t's month.
func lastDayOfMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
