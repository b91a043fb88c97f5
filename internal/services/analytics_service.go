// Package services – AnalyticsService
//
// This file implements the AnalyticsService, which derives per-day adherence
// rollups from a user's schedule items. Aggregation is a pure function of the
// day's items; writing the rollup is an upsert keyed on (user, day), so
// recomputing a day is always safe and deterministic.
//
// RollupAll is the batch entry point used by the nightly job: it iterates
// every known user with bounded concurrency and isolates per-user failures so
// one bad partition cannot sink the batch.
package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/mindwell/go-scheduling-backend/internal/domain"
)

// AnalyticsRepo defines the repository contract required by AnalyticsService.
type AnalyticsRepo interface {
	// ListItemsForDay returns items whose base start falls on the UTC day.
	ListItemsForDay(ctx context.Context, db *gorm.DB, userID string, day time.Time) ([]domain.ScheduleItem, error)

	// UpsertRollup writes the rollup for its (user, day) key.
	UpsertRollup(ctx context.Context, db *gorm.DB, r *domain.DailyRollup) error

	// GetRollup fetches the rollup for (userID, day), or repo.ErrNotFound.
	GetRollup(ctx context.Context, db *gorm.DB, userID string, day time.Time) (*domain.DailyRollup, error)

	// ListRollups returns rollups for days in [from, to), oldest first.
	ListRollups(ctx context.Context, db *gorm.DB, userID string, from, to time.Time) ([]domain.DailyRollup, error)

	// ListUserIDs returns every user id owning at least one schedule item.
	ListUserIDs(ctx context.Context, db *gorm.DB) ([]string, error)
}

// AnalyticsService computes and serves daily adherence rollups.
type AnalyticsService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the analytics repository used by this service.
	Repo AnalyticsRepo

	// BatchWorkers bounds RollupAll concurrency.
	BatchWorkers int
}

// NewAnalyticsService constructs an AnalyticsService with default batch fanout.
func NewAnalyticsService(db *gorm.DB, r AnalyticsRepo) *AnalyticsService {
	return &AnalyticsService{DB: db, Repo: r, BatchWorkers: 4}
}

// Rollup recomputes and stores the adherence rollup for one (user, day) and
// returns the stored row. consistencyBonus is added to the completion rate
// before clamping (it never affects an empty day); pass 0 when no streak
// information is available.
func (s *AnalyticsService) Rollup(ctx context.Context, userID string, day time.Time, consistencyBonus float64) (*domain.DailyRollup, error) {
	items, err := s.Repo.ListItemsForDay(ctx, s.DB, userID, day)
	if err != nil {
		return nil, err
	}
	r := AggregateDay(userID, day, items, consistencyBonus)
	if err := s.Repo.UpsertRollup(ctx, s.DB, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Get returns the stored rollup for (userID, day), or ErrItemNotFound when no
// rollup has been computed for that day yet.
func (s *AnalyticsService) Get(ctx context.Context, userID string, day time.Time) (*domain.DailyRollup, error) {
	r, err := s.Repo.GetRollup(ctx, s.DB, userID, day)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrItemNotFound
	}
	return r, err
}

// Range returns the stored rollups for days in [from, to), oldest first.
func (s *AnalyticsService) Range(ctx context.Context, userID string, from, to time.Time) ([]domain.DailyRollup, error) {
	return s.Repo.ListRollups(ctx, s.DB, userID, from, to)
}

// RollupAll recomputes the given day for every known user. Per-user failures
// are logged and counted, never propagated: the batch always visits every
// user. It returns the number of users rolled up and the number that failed.
func (s *AnalyticsService) RollupAll(ctx context.Context, day time.Time) (ok, failed int, err error) {
	users, err := s.Repo.ListUserIDs(ctx, s.DB)
	if err != nil {
		return 0, 0, err
	}

	workers := s.BatchWorkers
	if workers < 1 {
		workers = 1
	}

	log := zerolog.Ctx(ctx)
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, workers)
	)
	for _, uid := range users {
		select {
		case <-ctx.Done():
			return ok, failed, ctx.Err()
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(uid string) {
			defer wg.Done()
			defer func() { <-sem }()
			_, rerr := s.Rollup(ctx, uid, day, 0)
			mu.Lock()
			defer mu.Unlock()
			if rerr != nil {
				failed++
				log.Error().Err(rerr).Str("user_id", uid).Msg("rollup failed")
				return
			}
			ok++
		}(uid)
	}
	wg.Wait()
	return ok, failed, nil
}

// AggregateDay derives the rollup row for one day from its items. It is a
// pure function.
//
// Completion rate is completed/scheduled as a percentage. A day with nothing
// scheduled counts as fully adherent: rate and score are both 100 and the
// consistency bonus does not apply. Otherwise the adherence score adds the
// bonus to the rate and clamps to [0,100].
func AggregateDay(userID string, day time.Time, items []domain.ScheduleItem, consistencyBonus float64) *domain.DailyRollup {
	r := &domain.DailyRollup{
		UserID: userID,
		Day:    day,
	}
	for i := range items {
		it := &items[i]
		r.ScheduledItems++
		if it.IsCompleted {
			r.CompletedItems++
		}
		switch it.Type {
		case domain.TypeTherapy:
			r.TherapyCount++
		case domain.TypeExercise:
			r.ExerciseCount++
		case domain.TypeJournal:
			r.JournalCount++
		case domain.TypeSleep:
			r.SleepCount++
		case domain.TypeRoutine:
			r.RoutineCount++
		}
	}

	if r.ScheduledItems == 0 {
		r.CompletionRate = 100
		r.AdherenceScore = 100
		return r
	}
	r.CompletionRate = float64(r.CompletedItems) / float64(r.ScheduledItems) * 100

	score := r.CompletionRate + consistencyBonus
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	r.AdherenceScore = score
	return r
}
