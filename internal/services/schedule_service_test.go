package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/mindwell/go-scheduling-backend/internal/domain"
)

// ----- Fakes -----

type fakeItemRepo struct {
	created   *domain.ScheduleItem
	createErr error

	getOut *domain.ScheduleItem
	getErr error

	saved   *domain.ScheduleItem
	saveErr error

	deleteID  string
	deleteErr error

	pageItems  []domain.ScheduleItem
	pageErr    error
	pageOffset int
	pageLimit  int

	countTotal int64
	countErr   error

	active    []domain.ScheduleItem
	activeErr error
}

func (r *fakeItemRepo) CreateItem(ctx context.Context, db *gorm.DB, item *domain.ScheduleItem) error {
	r.created = item
	return r.createErr
}

func (r *fakeItemRepo) GetItem(ctx context.Context, db *gorm.DB, userID, id string) (*domain.ScheduleItem, error) {
	return r.getOut, r.getErr
}

func (r *fakeItemRepo) SaveItem(ctx context.Context, db *gorm.DB, item *domain.ScheduleItem) error {
	r.saved = item
	return r.saveErr
}

func (r *fakeItemRepo) DeleteItem(ctx context.Context, db *gorm.DB, userID, id string) error {
	r.deleteID = id
	return r.deleteErr
}

func (r *fakeItemRepo) ListItemsPage(ctx context.Context, db *gorm.DB, userID string, typ domain.ScheduleType, until time.Time, offset, limit int) ([]domain.ScheduleItem, error) {
	r.pageOffset, r.pageLimit = offset, limit
	return r.pageItems, r.pageErr
}

func (r *fakeItemRepo) CountItems(ctx context.Context, db *gorm.DB, userID string, typ domain.ScheduleType, until time.Time) (int64, error) {
	return r.countTotal, r.countErr
}

func (r *fakeItemRepo) ListActiveItems(ctx context.Context, db *gorm.DB, userID string) ([]domain.ScheduleItem, error) {
	return r.active, r.activeErr
}

// fakeDetector records recompute calls and optionally fails.
type fakeDetector struct {
	calls []string
	err   error
}

func (d *fakeDetector) Recompute(ctx context.Context, userID string) ([]domain.Conflict, error) {
	d.calls = append(d.calls, userID)
	return nil, d.err
}

// ----- Create -----

func TestCreate_DefaultsAndRedetect(t *testing.T) {
	r := &fakeItemRepo{}
	d := &fakeDetector{}
	s := NewScheduleService(nil, r, d)

	in := &domain.ScheduleItem{
		Type:      domain.TypeJournal,
		Title:     "  evening journal  ",
		StartTime: time.Date(2025, 3, 10, 21, 0, 0, 0, time.UTC),
		Duration:  15,
	}
	out, err := s.Create(context.Background(), "u1", in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if out.UserID != "u1" || out.Title != "evening journal" {
		t.Fatalf("ownership/trim not applied: %+v", out)
	}
	if out.Priority != domain.PriorityMedium || !out.IsActive {
		t.Fatalf("defaults not applied: priority=%q active=%v", out.Priority, out.IsActive)
	}
	if out.Recurrence.Kind != domain.RecurOnce {
		t.Fatalf("empty recurrence must default to once, got %q", out.Recurrence.Kind)
	}
	if r.created != out {
		t.Fatalf("item not passed to repo")
	}
	if len(d.calls) != 1 || d.calls[0] != "u1" {
		t.Fatalf("detector not invoked after create: %v", d.calls)
	}
}

func TestCreate_RejectsInvalid(t *testing.T) {
	r := &fakeItemRepo{}
	s := NewScheduleService(nil, r, nil)

	in := &domain.ScheduleItem{
		Type:      domain.TypeJournal,
		Title:     "j",
		StartTime: time.Date(2025, 3, 10, 21, 0, 0, 0, time.UTC),
		Duration:  2, // below minimum
	}
	if _, err := s.Create(context.Background(), "u1", in); !errors.Is(err, domain.ErrInvalidScheduleItem) {
		t.Fatalf("expected validation rejection, got %v", err)
	}
	if r.created != nil {
		t.Fatalf("invalid item must not reach the repo")
	}
}

func TestCreate_DetectionFailureDoesNotFailCreate(t *testing.T) {
	r := &fakeItemRepo{}
	d := &fakeDetector{err: errors.New("detector down")}
	s := NewScheduleService(nil, r, d)

	in := &domain.ScheduleItem{
		Type:      domain.TypeSleep,
		Title:     "sleep",
		StartTime: time.Date(2025, 3, 10, 22, 30, 0, 0, time.UTC),
		Duration:  480,
	}
	if _, err := s.Create(context.Background(), "u1", in); err != nil {
		t.Fatalf("create must succeed despite detector failure: %v", err)
	}
}

// ----- Get / ListPage -----

func TestGet_MapsRecordNotFound(t *testing.T) {
	r := &fakeItemRepo{getErr: gorm.ErrRecordNotFound}
	s := NewScheduleService(nil, r, nil)
	if _, err := s.Get(context.Background(), "u1", "i1"); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
}

func TestListPage_DefaultsAndZeroTotal(t *testing.T) {
	r := &fakeItemRepo{countTotal: 0}
	s := NewScheduleService(nil, r, nil)

	items, total, err := s.ListPage(context.Background(), "u1", "", time.Time{}, 0, 0)
	if err != nil {
		t.Fatalf("ListPage: %v", err)
	}
	if total != 0 || len(items) != 0 {
		t.Fatalf("expected empty result on total 0, got %d/%d", len(items), total)
	}
}

func TestListPage_OffsetComputation(t *testing.T) {
	r := &fakeItemRepo{countTotal: 50, pageItems: []domain.ScheduleItem{{ID: "x"}}}
	s := NewScheduleService(nil, r, nil)

	_, total, err := s.ListPage(context.Background(), "u1", domain.TypeExercise, time.Now(), 3, 10)
	if err != nil {
		t.Fatalf("ListPage: %v", err)
	}
	if total != 50 {
		t.Fatalf("total = %d", total)
	}
	if r.pageOffset != 20 || r.pageLimit != 10 {
		t.Fatalf("offset/limit = %d/%d; want 20/10", r.pageOffset, r.pageLimit)
	}
}

// ----- Update / Complete / Delete -----

func storedItem() *domain.ScheduleItem {
	return &domain.ScheduleItem{
		ID:        "i1",
		UserID:    "u1",
		Type:      domain.TypeTherapy,
		Title:     "old",
		StartTime: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
		Duration:  60,
		Priority:  domain.PriorityHigh,
		IsActive:  true,
		Version:   3,
	}
}

func TestUpdate_AppliesFieldsAndKeepsVersionCheck(t *testing.T) {
	r := &fakeItemRepo{getOut: storedItem()}
	d := &fakeDetector{}
	s := NewScheduleService(nil, r, d)

	upd := &domain.ScheduleItem{
		ID:        "i1",
		Type:      domain.TypeTherapy,
		Title:     " new title ",
		StartTime: time.Date(2025, 3, 11, 10, 0, 0, 0, time.UTC),
		Duration:  45,
		Priority:  domain.PriorityCritical,
		IsActive:  true,
		Version:   3,
	}
	out, err := s.Update(context.Background(), "u1", upd)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if out.Title != "new title" || out.Duration != 45 || out.Priority != domain.PriorityCritical {
		t.Fatalf("fields not applied: %+v", out)
	}
	if r.saved == nil || r.saved.Version != 3 {
		t.Fatalf("expected save with caller version 3, got %+v", r.saved)
	}
	if len(d.calls) != 1 {
		t.Fatalf("detector not invoked after update")
	}
}

func TestUpdate_StaleVersionMapsToErrStaleSchedule(t *testing.T) {
	r := &fakeItemRepo{getOut: storedItem(), saveErr: gorm.ErrRecordNotFound}
	s := NewScheduleService(nil, r, nil)

	upd := storedItem()
	upd.Version = 2 // diverged
	if _, err := s.Update(context.Background(), "u1", upd); !errors.Is(err, ErrStaleSchedule) {
		t.Fatalf("expected ErrStaleSchedule, got %v", err)
	}
}

func TestComplete_PersistsCompletionState(t *testing.T) {
	r := &fakeItemRepo{getOut: storedItem()}
	s := NewScheduleService(nil, r, nil)

	rating := 5
	out, err := s.Complete(context.Background(), "u1", "i1", "done", &rating, "tense", "relaxed", nil)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !out.IsCompleted || *out.EffectivenessRating != 5 {
		t.Fatalf("completion not applied: %+v", out)
	}
	if r.saved == nil {
		t.Fatalf("completed item not saved")
	}
}

func TestComplete_InvalidRating(t *testing.T) {
	r := &fakeItemRepo{getOut: storedItem()}
	s := NewScheduleService(nil, r, nil)

	bad := 9
	if _, err := s.Complete(context.Background(), "u1", "i1", "", &bad, "", "", nil); !errors.Is(err, domain.ErrInvalidScheduleItem) {
		t.Fatalf("expected rating rejection, got %v", err)
	}
	if r.saved != nil {
		t.Fatalf("rejected completion must not be saved")
	}
}

func TestDelete_MapsNotFoundAndRedetects(t *testing.T) {
	r := &fakeItemRepo{deleteErr: gorm.ErrRecordNotFound}
	s := NewScheduleService(nil, r, nil)
	if err := s.Delete(context.Background(), "u1", "nope"); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}

	r2 := &fakeItemRepo{}
	d := &fakeDetector{}
	s2 := NewScheduleService(nil, r2, d)
	if err := s2.Delete(context.Background(), "u1", "i1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if r2.deleteID != "i1" || len(d.calls) != 1 {
		t.Fatalf("delete not forwarded or detector skipped")
	}
}

// ----- Occurrences / Agenda -----

func TestOccurrences_ExpandsStoredItem(t *testing.T) {
	it := storedItem()
	it.Recurrence = domain.Daily(1)
	r := &fakeItemRepo{getOut: it}
	s := NewScheduleService(nil, r, nil)

	from := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	occs, err := s.Occurrences(context.Background(), "u1", "i1", from, from.AddDate(0, 0, 3))
	if err != nil {
		t.Fatalf("Occurrences: %v", err)
	}
	if len(occs) != 3 {
		t.Fatalf("expected 3 daily occurrences, got %d", len(occs))
	}
	if occs[0].ItemID != "i1" {
		t.Fatalf("occurrence missing item id: %+v", occs[0])
	}
}

func TestAgenda_MergesAndSorts(t *testing.T) {
	base := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	a := domain.ScheduleItem{ID: "a", UserID: "u1", Type: domain.TypeExercise, Title: "a",
		StartTime: base.Add(10 * time.Hour), Duration: 30, Priority: domain.PriorityMedium}
	b := domain.ScheduleItem{ID: "b", UserID: "u1", Type: domain.TypeJournal, Title: "b",
		StartTime: base.Add(8 * time.Hour), Duration: 15, Priority: domain.PriorityMedium}

	r := &fakeItemRepo{active: []domain.ScheduleItem{a, b}}
	s := NewScheduleService(nil, r, nil)

	occs, err := s.Agenda(context.Background(), "u1", base, base.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("Agenda: %v", err)
	}
	if len(occs) != 2 {
		t.Fatalf("expected 2 occurrences, got %d", len(occs))
	}
	if occs[0].ItemID != "b" || occs[1].ItemID != "a" {
		t.Fatalf("agenda not sorted by start: %+v", occs)
	}
}
