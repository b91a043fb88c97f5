package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/mindwell/go-scheduling-backend/internal/domain"
)

// ----- Fake repo -----

type fakeConflictRepo struct {
	items    []domain.ScheduleItem
	itemsErr error

	settled    map[string]bool
	settledErr error

	replaced    []domain.Conflict
	replaceErr  error
	replaceHits int

	listOut []domain.Conflict
	listErr error

	resolveID     string
	resolveStatus domain.ResolutionStatus
	resolveErr    error
}

func (r *fakeConflictRepo) ListActiveItems(ctx context.Context, db *gorm.DB, userID string) ([]domain.ScheduleItem, error) {
	return r.items, r.itemsErr
}

func (r *fakeConflictRepo) ListConflicts(ctx context.Context, db *gorm.DB, userID string, status domain.ResolutionStatus) ([]domain.Conflict, error) {
	return r.listOut, r.listErr
}

func (r *fakeConflictRepo) GetConflict(ctx context.Context, db *gorm.DB, userID, id string) (*domain.Conflict, error) {
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeConflictRepo) ReplaceUnresolved(ctx context.Context, db *gorm.DB, userID string, conflicts []domain.Conflict) error {
	r.replaceHits++
	r.replaced = append([]domain.Conflict(nil), conflicts...)
	return r.replaceErr
}

func (r *fakeConflictRepo) ResolveConflict(ctx context.Context, db *gorm.DB, userID, id string, status domain.ResolutionStatus, action, notes string) error {
	r.resolveID, r.resolveStatus = id, status
	return r.resolveErr
}

func (r *fakeConflictRepo) SettledPairKeys(ctx context.Context, db *gorm.DB, userID string) (map[string]bool, error) {
	if r.settled == nil {
		return map[string]bool{}, r.settledErr
	}
	return r.settled, r.settledErr
}

func schedItem(id string, start time.Time, minutes int, p domain.Priority) domain.ScheduleItem {
	return domain.ScheduleItem{
		ID:        id,
		UserID:    "u1",
		Type:      domain.TypeExercise,
		Title:     id,
		StartTime: start,
		Duration:  minutes,
		Priority:  p,
		IsActive:  true,
	}
}

// ----- Detection -----

func TestDetectConflicts_OverlappingPair(t *testing.T) {
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	items := []domain.ScheduleItem{
		schedItem("a", base, 60, domain.PriorityHigh),
		schedItem("b", base.Add(30*time.Minute), 30, domain.PriorityCritical),
	}

	got := DetectConflicts(items)
	if len(got) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(got))
	}
	c := got[0]
	if c.Type != domain.ConflictTimeOverlap {
		t.Fatalf("type = %q", c.Type)
	}
	if c.Severity != domain.SeverityCritical {
		t.Fatalf("severity = %q; want critical", c.Severity)
	}
	if c.ItemA != "a" || c.ItemB != "b" {
		t.Fatalf("pair not normalized: %+v", c)
	}
}

func TestDetectConflicts_BackToBackIsNoConflict(t *testing.T) {
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	items := []domain.ScheduleItem{
		schedItem("a", base, 60, domain.PriorityHigh),
		schedItem("b", base.Add(60*time.Minute), 30, domain.PriorityHigh),
	}
	if got := DetectConflicts(items); len(got) != 0 {
		t.Fatalf("half-open intervals touching must not conflict, got %+v", got)
	}
}

func TestDetectConflicts_ThreeWayOverlap(t *testing.T) {
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	items := []domain.ScheduleItem{
		schedItem("a", base, 120, domain.PriorityLow),
		schedItem("b", base.Add(10*time.Minute), 120, domain.PriorityLow),
		schedItem("c", base.Add(20*time.Minute), 120, domain.PriorityLow),
	}
	got := DetectConflicts(items)
	if len(got) != 3 {
		t.Fatalf("expected 3 pairwise conflicts, got %d: %+v", len(got), got)
	}
}

func TestDetectConflicts_DeterministicAcrossInputOrder(t *testing.T) {
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	a := schedItem("a", base, 90, domain.PriorityMedium)
	b := schedItem("b", base.Add(30*time.Minute), 90, domain.PriorityMedium)
	c := schedItem("c", base.Add(60*time.Minute), 90, domain.PriorityMedium)

	first := DetectConflicts([]domain.ScheduleItem{a, b, c})
	second := DetectConflicts([]domain.ScheduleItem{c, a, b})
	if len(first) != len(second) {
		t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].PairKey() != second[i].PairKey() || first[i].Severity != second[i].Severity {
			t.Fatalf("output differs at %d: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestDetectConflicts_FewerThanTwoItems(t *testing.T) {
	if got := DetectConflicts(nil); got != nil {
		t.Fatalf("nil items should detect nothing")
	}
	one := []domain.ScheduleItem{schedItem("a", time.Now(), 30, domain.PriorityLow)}
	if got := DetectConflicts(one); got != nil {
		t.Fatalf("single item should detect nothing")
	}
}

func TestConflictSeverity(t *testing.T) {
	cases := []struct {
		a, b domain.Priority
		want domain.Severity
	}{
		{domain.PriorityCritical, domain.PriorityLow, domain.SeverityCritical},
		{domain.PriorityLow, domain.PriorityCritical, domain.SeverityCritical},
		{domain.PriorityCritical, domain.PriorityHigh, domain.SeverityCritical},
		{domain.PriorityHigh, domain.PriorityMedium, domain.SeverityHigh},
		{domain.PriorityMedium, domain.PriorityHigh, domain.SeverityHigh},
		{domain.PriorityMedium, domain.PriorityMedium, domain.SeverityMedium},
		{domain.PriorityLow, domain.PriorityLow, domain.SeverityMedium},
		{domain.PriorityLow, domain.PriorityMedium, domain.SeverityMedium},
	}
	for _, tc := range cases {
		if got := ConflictSeverity(tc.a, tc.b); got != tc.want {
			t.Errorf("ConflictSeverity(%s, %s) = %s; want %s", tc.a, tc.b, got, tc.want)
		}
	}
}

// ----- Recompute -----

func TestRecompute_ReplacesUnresolvedSet(t *testing.T) {
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	r := &fakeConflictRepo{
		items: []domain.ScheduleItem{
			schedItem("a", base, 60, domain.PriorityHigh),
			schedItem("b", base.Add(30*time.Minute), 30, domain.PriorityCritical),
		},
	}
	s := NewConflictService(nil, r)

	out, err := s.Recompute(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if len(out) != 1 || len(r.replaced) != 1 {
		t.Fatalf("expected 1 conflict stored and returned; got %d/%d", len(out), len(r.replaced))
	}
	if out[0].PairKey() != "a|b" {
		t.Fatalf("unexpected pair: %+v", out[0])
	}
}

func TestRecompute_Idempotent(t *testing.T) {
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	r := &fakeConflictRepo{
		items: []domain.ScheduleItem{
			schedItem("a", base, 90, domain.PriorityMedium),
			schedItem("b", base.Add(15*time.Minute), 90, domain.PriorityMedium),
			schedItem("c", base.Add(4*time.Hour), 30, domain.PriorityMedium),
		},
	}
	s := NewConflictService(nil, r)

	first, err := s.Recompute(context.Background(), "u1")
	if err != nil {
		t.Fatalf("first Recompute: %v", err)
	}
	second, err := s.Recompute(context.Background(), "u1")
	if err != nil {
		t.Fatalf("second Recompute: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("recompute not idempotent: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].PairKey() != second[i].PairKey() {
			t.Fatalf("pair sets differ at %d", i)
		}
	}
	if r.replaceHits != 2 {
		t.Fatalf("expected 2 replace calls, got %d", r.replaceHits)
	}
}

func TestRecompute_SkipsSettledPairs(t *testing.T) {
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	r := &fakeConflictRepo{
		items: []domain.ScheduleItem{
			schedItem("a", base, 60, domain.PriorityHigh),
			schedItem("b", base.Add(10*time.Minute), 60, domain.PriorityHigh),
			schedItem("c", base.Add(5*time.Hour), 60, domain.PriorityHigh),
			schedItem("d", base.Add(5*time.Hour+10*time.Minute), 60, domain.PriorityHigh),
		},
		settled: map[string]bool{"a|b": true},
	}
	s := NewConflictService(nil, r)

	out, err := s.Recompute(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	if len(out) != 1 || out[0].PairKey() != "c|d" {
		t.Fatalf("settled pair must not reappear; got %+v", out)
	}
}

func TestRecompute_WrapsRepoErrors(t *testing.T) {
	sentinel := errors.New("disk gone")
	for name, r := range map[string]*fakeConflictRepo{
		"items":   {itemsErr: sentinel},
		"settled": {settledErr: sentinel},
		"replace": {replaceErr: sentinel},
	} {
		s := NewConflictService(nil, r)
		_, err := s.Recompute(context.Background(), "u1")
		if !errors.Is(err, ErrConflictDetection) {
			t.Errorf("%s: expected ErrConflictDetection, got %v", name, err)
		}
		if !errors.Is(err, sentinel) {
			t.Errorf("%s: cause not preserved: %v", name, err)
		}
	}
}

// ----- Resolve -----

func TestResolve_RejectsInvalidStatus(t *testing.T) {
	s := NewConflictService(nil, &fakeConflictRepo{})
	if err := s.Resolve(context.Background(), "u1", "c1", domain.ResolutionUnresolved, "", ""); !errors.Is(err, ErrConflictNotFound) {
		t.Fatalf("expected rejection of unresolved target status, got %v", err)
	}
}

func TestResolve_MapsNotFound(t *testing.T) {
	r := &fakeConflictRepo{resolveErr: gorm.ErrRecordNotFound}
	s := NewConflictService(nil, r)
	if err := s.Resolve(context.Background(), "u1", "c1", domain.ResolutionResolved, "rescheduled", ""); !errors.Is(err, ErrConflictNotFound) {
		t.Fatalf("expected ErrConflictNotFound, got %v", err)
	}
}

func TestResolve_ForwardsToRepo(t *testing.T) {
	r := &fakeConflictRepo{}
	s := NewConflictService(nil, r)
	if err := s.Resolve(context.Background(), "u1", "c9", domain.ResolutionIgnored, "ignored", "fine"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if r.resolveID != "c9" || r.resolveStatus != domain.ResolutionIgnored {
		t.Fatalf("repo got %q/%q", r.resolveID, r.resolveStatus)
	}
}
