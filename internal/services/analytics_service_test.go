package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/mindwell/go-scheduling-backend/internal/domain"
)

// ----- Fake repo -----

type fakeAnalyticsRepo struct {
	mu sync.Mutex

	itemsByUser map[string][]domain.ScheduleItem
	itemsErr    map[string]error

	upserts []domain.DailyRollup

	getOut *domain.DailyRollup
	getErr error

	listOut []domain.DailyRollup
	listErr error

	users    []string
	usersErr error
}

func (r *fakeAnalyticsRepo) ListItemsForDay(ctx context.Context, db *gorm.DB, userID string, day time.Time) ([]domain.ScheduleItem, error) {
	if err := r.itemsErr[userID]; err != nil {
		return nil, err
	}
	return r.itemsByUser[userID], nil
}

func (r *fakeAnalyticsRepo) UpsertRollup(ctx context.Context, db *gorm.DB, roll *domain.DailyRollup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts = append(r.upserts, *roll)
	return nil
}

func (r *fakeAnalyticsRepo) GetRollup(ctx context.Context, db *gorm.DB, userID string, day time.Time) (*domain.DailyRollup, error) {
	return r.getOut, r.getErr
}

func (r *fakeAnalyticsRepo) ListRollups(ctx context.Context, db *gorm.DB, userID string, from, to time.Time) ([]domain.DailyRollup, error) {
	return r.listOut, r.listErr
}

func (r *fakeAnalyticsRepo) ListUserIDs(ctx context.Context, db *gorm.DB) ([]string, error) {
	return r.users, r.usersErr
}

func dayItem(typ domain.ScheduleType, completed bool) domain.ScheduleItem {
	return domain.ScheduleItem{
		ID:          string(typ) + "-x",
		UserID:      "u1",
		Type:        typ,
		Title:       "t",
		IsCompleted: completed,
	}
}

// ----- AggregateDay -----

func TestAggregateDay_EmptyDayIsFullyAdherent(t *testing.T) {
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	r := AggregateDay("u1", day, nil, 0)
	if r.ScheduledItems != 0 || r.CompletedItems != 0 {
		t.Fatalf("unexpected counts: %+v", r)
	}
	if r.CompletionRate != 100 || r.AdherenceScore != 100 {
		t.Fatalf("empty day should score 100/100, got %v/%v", r.CompletionRate, r.AdherenceScore)
	}

	// The consistency bonus never moves an empty day, in either direction.
	for _, bonus := range []float64{-50, -1, 25} {
		r := AggregateDay("u1", day, nil, bonus)
		if r.AdherenceScore != 100 {
			t.Fatalf("empty day with bonus %v scored %v; want 100", bonus, r.AdherenceScore)
		}
	}
}

func TestAggregateDay_CompletionRate(t *testing.T) {
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		scheduled, completed int
		wantRate             float64
	}{
		{10, 10, 100},
		{10, 5, 50},
		{4, 1, 25},
		{3, 0, 0},
	}
	for _, tc := range cases {
		var items []domain.ScheduleItem
		for i := 0; i < tc.scheduled; i++ {
			items = append(items, dayItem(domain.TypeRoutine, i < tc.completed))
		}
		r := AggregateDay("u1", day, items, 0)
		if r.CompletionRate != tc.wantRate {
			t.Errorf("%d/%d: rate = %v; want %v", tc.completed, tc.scheduled, r.CompletionRate, tc.wantRate)
		}
		if r.AdherenceScore != tc.wantRate {
			t.Errorf("%d/%d: score without bonus = %v; want %v", tc.completed, tc.scheduled, r.AdherenceScore, tc.wantRate)
		}
	}
}

func TestAggregateDay_BonusClampsAt100(t *testing.T) {
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	items := []domain.ScheduleItem{dayItem(domain.TypeSleep, true)}
	r := AggregateDay("u1", day, items, 25)
	if r.AdherenceScore != 100 {
		t.Fatalf("score should clamp to 100, got %v", r.AdherenceScore)
	}

	r = AggregateDay("u1", day, []domain.ScheduleItem{dayItem(domain.TypeSleep, false)}, -10)
	if r.AdherenceScore != 0 {
		t.Fatalf("score should clamp at 0, got %v", r.AdherenceScore)
	}
}

func TestAggregateDay_PerTypeCounts(t *testing.T) {
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	items := []domain.ScheduleItem{
		dayItem(domain.TypeTherapy, true),
		dayItem(domain.TypeExercise, false),
		dayItem(domain.TypeExercise, true),
		dayItem(domain.TypeJournal, false),
		dayItem(domain.TypeSleep, true),
		dayItem(domain.TypeRoutine, true),
	}
	r := AggregateDay("u1", day, items, 0)
	if r.TherapyCount != 1 || r.ExerciseCount != 2 || r.JournalCount != 1 || r.SleepCount != 1 || r.RoutineCount != 1 {
		t.Fatalf("unexpected type counts: %+v", r)
	}
	if r.ScheduledItems != 6 || r.CompletedItems != 4 {
		t.Fatalf("unexpected totals: %+v", r)
	}
}

// ----- Service -----

func TestRollup_AggregatesAndUpserts(t *testing.T) {
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	r := &fakeAnalyticsRepo{
		itemsByUser: map[string][]domain.ScheduleItem{
			"u1": {dayItem(domain.TypeTherapy, true), dayItem(domain.TypeJournal, false)},
		},
	}
	s := NewAnalyticsService(nil, r)

	out, err := s.Rollup(context.Background(), "u1", day, 0)
	if err != nil {
		t.Fatalf("Rollup: %v", err)
	}
	if out.CompletionRate != 50 {
		t.Fatalf("rate = %v; want 50", out.CompletionRate)
	}
	if len(r.upserts) != 1 || r.upserts[0].UserID != "u1" {
		t.Fatalf("expected one upsert for u1, got %+v", r.upserts)
	}
}

func TestGet_MapsNotFound(t *testing.T) {
	r := &fakeAnalyticsRepo{getErr: gorm.ErrRecordNotFound}
	s := NewAnalyticsService(nil, r)
	if _, err := s.Get(context.Background(), "u1", time.Now()); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
}

func TestRollupAll_IsolatesPerUserFailures(t *testing.T) {
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	r := &fakeAnalyticsRepo{
		users: []string{"u1", "u2", "u3"},
		itemsByUser: map[string][]domain.ScheduleItem{
			"u1": {dayItem(domain.TypeTherapy, true)},
			"u3": {dayItem(domain.TypeSleep, false)},
		},
		itemsErr: map[string]error{"u2": errors.New("corrupt partition")},
	}
	s := NewAnalyticsService(nil, r)

	ok, failed, err := s.RollupAll(context.Background(), day)
	if err != nil {
		t.Fatalf("RollupAll: %v", err)
	}
	if ok != 2 || failed != 1 {
		t.Fatalf("ok/failed = %d/%d; want 2/1", ok, failed)
	}
	if len(r.upserts) != 2 {
		t.Fatalf("expected 2 upserts, got %d", len(r.upserts))
	}
}

func TestRollupAll_UserListError(t *testing.T) {
	sentinel := errors.New("boom")
	s := NewAnalyticsService(nil, &fakeAnalyticsRepo{usersErr: sentinel})
	if _, _, err := s.RollupAll(context.Background(), time.Now()); !errors.Is(err, sentinel) {
		t.Fatalf("expected user list error to propagate, got %v", err)
	}
}
