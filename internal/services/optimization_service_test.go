package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mindwell/go-scheduling-backend/internal/domain"
	"github.com/mindwell/go-scheduling-backend/internal/recommender"
)

// newServicesDB opens a throwaway SQLite database. Services that wrap work in
// a transaction need a live connection even when the repo itself is faked.
func newServicesDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("services_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// ----- Fake repo -----

type fakeCandidateRepo struct {
	items    []domain.ScheduleItem
	itemsErr error

	conflicts []domain.Conflict
	rollups   []domain.DailyRollup

	created   *domain.OptimizationCandidate
	createErr error

	cand    *domain.OptimizationCandidate
	candErr error

	list    []domain.OptimizationCandidate
	listErr error

	markedID string
	markErr  error

	feedbackID  string
	feedback    string
	feedbackErr error

	gotItems map[string]*domain.ScheduleItem
	saved    []domain.ScheduleItem
	saveErr  error
}

func (r *fakeCandidateRepo) ListActiveItems(ctx context.Context, db *gorm.DB, userID string) ([]domain.ScheduleItem, error) {
	return r.items, r.itemsErr
}

func (r *fakeCandidateRepo) ListConflicts(ctx context.Context, db *gorm.DB, userID string, status domain.ResolutionStatus) ([]domain.Conflict, error) {
	return r.conflicts, nil
}

func (r *fakeCandidateRepo) ListRollups(ctx context.Context, db *gorm.DB, userID string, from, to time.Time) ([]domain.DailyRollup, error) {
	return r.rollups, nil
}

func (r *fakeCandidateRepo) CreateCandidate(ctx context.Context, db *gorm.DB, c *domain.OptimizationCandidate) error {
	r.created = c
	return r.createErr
}

func (r *fakeCandidateRepo) GetCandidate(ctx context.Context, db *gorm.DB, userID, id string) (*domain.OptimizationCandidate, error) {
	return r.cand, r.candErr
}

func (r *fakeCandidateRepo) ListCandidates(ctx context.Context, db *gorm.DB, userID string, limit int) ([]domain.OptimizationCandidate, error) {
	return r.list, r.listErr
}

func (r *fakeCandidateRepo) MarkCandidateApplied(ctx context.Context, db *gorm.DB, userID, id string, at time.Time) error {
	r.markedID = id
	return r.markErr
}

func (r *fakeCandidateRepo) SaveCandidateFeedback(ctx context.Context, db *gorm.DB, userID, id, feedback string, effectiveness *float64) error {
	r.feedbackID, r.feedback = id, feedback
	return r.feedbackErr
}

func (r *fakeCandidateRepo) GetItem(ctx context.Context, db *gorm.DB, userID, id string) (*domain.ScheduleItem, error) {
	if it, ok := r.gotItems[id]; ok {
		cp := *it
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeCandidateRepo) SaveItem(ctx context.Context, db *gorm.DB, item *domain.ScheduleItem) error {
	r.saved = append(r.saved, *item)
	return r.saveErr
}

// ----- Fingerprint -----

func TestScheduleFingerprint_OrderIndependent(t *testing.T) {
	a := schedItem("a", time.Now(), 30, domain.PriorityLow)
	b := schedItem("b", time.Now(), 30, domain.PriorityLow)
	a.Version, b.Version = 1, 2

	f1 := ScheduleFingerprint([]domain.ScheduleItem{a, b})
	f2 := ScheduleFingerprint([]domain.ScheduleItem{b, a})
	if f1 != f2 {
		t.Fatalf("fingerprint depends on slice order: %s vs %s", f1, f2)
	}
}

func TestScheduleFingerprint_SensitiveToVersionAndSet(t *testing.T) {
	a := schedItem("a", time.Now(), 30, domain.PriorityLow)
	a.Version = 1

	base := ScheduleFingerprint([]domain.ScheduleItem{a})

	bumped := a
	bumped.Version = 2
	if ScheduleFingerprint([]domain.ScheduleItem{bumped}) == base {
		t.Fatalf("version bump must change the fingerprint")
	}

	b := schedItem("b", time.Now(), 30, domain.PriorityLow)
	if ScheduleFingerprint([]domain.ScheduleItem{a, b}) == base {
		t.Fatalf("adding an item must change the fingerprint")
	}
	if ScheduleFingerprint(nil) == base {
		t.Fatalf("empty schedule must differ from non-empty")
	}
}

// ----- Propose -----

func proposeFixture() (*fakeCandidateRepo, []domain.ScheduleItem) {
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	items := []domain.ScheduleItem{
		schedItem("a", base, 60, domain.PriorityHigh),
		schedItem("b", base.Add(3*time.Hour), 60, domain.PriorityCritical),
	}
	items[0].Version = 1
	items[1].Version = 1
	return &fakeCandidateRepo{items: items}, items
}

func TestPropose_PersistsCandidate(t *testing.T) {
	r, items := proposeFixture()
	mock := &recommender.MockClient{Proposal: &recommender.Proposal{
		Moves: []recommender.Move{{
			ItemID:    "a",
			StartTime: time.Date(2025, 3, 10, 7, 0, 0, 0, time.UTC),
			Duration:  45,
		}},
		Score:     82.5,
		Rationale: "front-load the morning",
	}}
	s := NewOptimizationService(nil, r, mock, nil)

	cand, err := s.Propose(context.Background(), "u1", domain.OptimizeTimeBlocking, "mornings free")
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if r.created != cand {
		t.Fatalf("candidate not persisted")
	}
	if cand.BaseFingerprint != ScheduleFingerprint(items) {
		t.Fatalf("base fingerprint mismatch")
	}
	if cand.Score != 82.5 || cand.Rationale != "front-load the morning" {
		t.Fatalf("proposal not captured: %+v", cand)
	}
	if len(cand.Before) != 2 || len(cand.After) != 2 {
		t.Fatalf("snapshots incomplete: %d/%d", len(cand.Before), len(cand.After))
	}
	// The after snapshot reflects the move; the before one does not.
	for _, snap := range cand.After {
		if snap.ItemID == "a" && snap.Duration != 45 {
			t.Fatalf("move not applied to after snapshot: %+v", snap)
		}
	}
	if len(mock.Calls) != 1 || mock.Calls[0].Preferences != "mornings free" {
		t.Fatalf("recommender request not forwarded: %+v", mock.Calls)
	}
}

func TestPropose_UnknownType(t *testing.T) {
	r, _ := proposeFixture()
	s := NewOptimizationService(nil, r, &recommender.MockClient{}, nil)
	if _, err := s.Propose(context.Background(), "u1", "vibes", ""); !errors.Is(err, ErrOptimizationRejected) {
		t.Fatalf("expected rejection of unknown type, got %v", err)
	}
}

func TestPropose_RejectsUnknownMoveTarget(t *testing.T) {
	r, _ := proposeFixture()
	mock := &recommender.MockClient{Proposal: &recommender.Proposal{
		Moves: []recommender.Move{{ItemID: "ghost", StartTime: time.Now(), Duration: 30}},
		Score: 50,
	}}
	s := NewOptimizationService(nil, r, mock, nil)

	if _, err := s.Propose(context.Background(), "u1", domain.OptimizeEfficiency, ""); !errors.Is(err, ErrOptimizationRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if r.created != nil {
		t.Fatalf("rejected proposal must not be persisted")
	}
}

func TestPropose_RejectsOutOfRangeScore(t *testing.T) {
	r, _ := proposeFixture()
	mock := &recommender.MockClient{Proposal: &recommender.Proposal{Score: 140}}
	s := NewOptimizationService(nil, r, mock, nil)
	if _, err := s.Propose(context.Background(), "u1", domain.OptimizeEfficiency, ""); !errors.Is(err, ErrOptimizationRejected) {
		t.Fatalf("expected score rejection, got %v", err)
	}
}

func TestPropose_RejectsNewCriticalConflicts(t *testing.T) {
	r, items := proposeFixture()
	// Move item b on top of item a; b is critical, so the new overlap is a
	// new critical conflict and the proposal must be rejected with the pair.
	mock := &recommender.MockClient{Proposal: &recommender.Proposal{
		Moves: []recommender.Move{{
			ItemID:    "b",
			StartTime: items[0].StartTime.Add(15 * time.Minute),
			Duration:  60,
		}},
		Score: 90,
	}}
	s := NewOptimizationService(nil, r, mock, nil)

	_, err := s.Propose(context.Background(), "u1", domain.OptimizeConflictResolution, "")
	var rej *OptimizationRejectedError
	if !errors.As(err, &rej) {
		t.Fatalf("expected OptimizationRejectedError, got %v", err)
	}
	if !errors.Is(err, ErrOptimizationRejected) {
		t.Fatalf("typed rejection must match the sentinel")
	}
	if len(rej.Conflicts) != 1 || rej.Conflicts[0].PairKey() != "a|b" {
		t.Fatalf("offending pair not reported: %+v", rej.Conflicts)
	}
	if rej.Conflicts[0].Severity != domain.SeverityCritical {
		t.Fatalf("severity = %q", rej.Conflicts[0].Severity)
	}
	if r.created != nil {
		t.Fatalf("rejected proposal must not be persisted")
	}
}

func TestPropose_AllowsPreexistingConflicts(t *testing.T) {
	// Two items already overlapping critically; a proposal that leaves them
	// in place introduces nothing new and must pass.
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	items := []domain.ScheduleItem{
		schedItem("a", base, 60, domain.PriorityCritical),
		schedItem("b", base.Add(30*time.Minute), 60, domain.PriorityCritical),
	}
	r := &fakeCandidateRepo{items: items}
	mock := &recommender.MockClient{Proposal: &recommender.Proposal{Score: 10, Rationale: "no change"}}
	s := NewOptimizationService(nil, r, mock, nil)

	if _, err := s.Propose(context.Background(), "u1", domain.OptimizeEnergyMatching, ""); err != nil {
		t.Fatalf("pre-existing conflicts must not reject: %v", err)
	}
}

func TestPropose_RecommenderFailure(t *testing.T) {
	r, _ := proposeFixture()
	mock := &recommender.MockClient{Err: errors.New("upstream 500")}
	s := NewOptimizationService(nil, r, mock, nil)
	if _, err := s.Propose(context.Background(), "u1", domain.OptimizeEfficiency, ""); !errors.Is(err, ErrRecommenderUnavailable) {
		t.Fatalf("expected ErrRecommenderUnavailable, got %v", err)
	}
}

// ----- Apply -----

func applyFixture(t *testing.T) (*OptimizationService, *fakeCandidateRepo, []domain.ScheduleItem) {
	t.Helper()
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	items := []domain.ScheduleItem{
		schedItem("a", base, 60, domain.PriorityHigh),
		schedItem("b", base.Add(3*time.Hour), 60, domain.PriorityMedium),
	}
	items[0].Version = 1
	items[1].Version = 1

	before := snapshotItems(items)
	moved := make([]domain.ScheduleItem, len(items))
	copy(moved, items)
	moved[0].StartTime = base.Add(-2 * time.Hour)
	after := snapshotItems(moved)

	r := &fakeCandidateRepo{
		items: items,
		cand: &domain.OptimizationCandidate{
			ID:              "cand-1",
			UserID:          "u1",
			Type:            domain.OptimizeTimeBlocking,
			Before:          before,
			After:           after,
			BaseFingerprint: ScheduleFingerprint(items),
			Score:           70,
		},
		gotItems: map[string]*domain.ScheduleItem{
			"a": &items[0],
			"b": &items[1],
		},
	}
	s := NewOptimizationService(newServicesDB(t), r, &recommender.MockClient{}, nil)
	return s, r, items
}

func TestApply_CommitsMovedItems(t *testing.T) {
	s, r, items := applyFixture(t)

	cand, err := s.Apply(context.Background(), "u1", "cand-1")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !cand.Applied || cand.AppliedAt == nil {
		t.Fatalf("candidate not flagged applied: %+v", cand)
	}
	if r.markedID != "cand-1" {
		t.Fatalf("MarkCandidateApplied not called")
	}
	if len(r.saved) != 1 || r.saved[0].ID != "a" {
		t.Fatalf("expected exactly the moved item saved, got %+v", r.saved)
	}
	if !r.saved[0].StartTime.Equal(items[0].StartTime.Add(-2 * time.Hour)) {
		t.Fatalf("new start not applied: %v", r.saved[0].StartTime)
	}
	if !r.saved[0].OptimizationApplied {
		t.Fatalf("optimization flag not set on moved item")
	}
}

func TestApply_StaleScheduleRejected(t *testing.T) {
	s, r, _ := applyFixture(t)
	// Someone edited an item after the candidate was computed.
	r.items[1].Version = 2

	if _, err := s.Apply(context.Background(), "u1", "cand-1"); !errors.Is(err, ErrStaleSchedule) {
		t.Fatalf("expected ErrStaleSchedule, got %v", err)
	}
	if len(r.saved) != 0 {
		t.Fatalf("stale apply must not touch items")
	}
}

func TestApply_AlreadyApplied(t *testing.T) {
	s, r, _ := applyFixture(t)
	r.cand.Applied = true

	if _, err := s.Apply(context.Background(), "u1", "cand-1"); !errors.Is(err, ErrCandidateApplied) {
		t.Fatalf("expected ErrCandidateApplied, got %v", err)
	}
}

func TestApply_ConcurrentMarkLoses(t *testing.T) {
	s, r, _ := applyFixture(t)
	r.markErr = gorm.ErrRecordNotFound

	if _, err := s.Apply(context.Background(), "u1", "cand-1"); !errors.Is(err, ErrCandidateApplied) {
		t.Fatalf("expected concurrent apply to lose with ErrCandidateApplied, got %v", err)
	}
}

func TestApply_CandidateMissing(t *testing.T) {
	r := &fakeCandidateRepo{candErr: gorm.ErrRecordNotFound}
	s := NewOptimizationService(newServicesDB(t), r, &recommender.MockClient{}, nil)
	if _, err := s.Apply(context.Background(), "u1", "nope"); !errors.Is(err, ErrCandidateNotFound) {
		t.Fatalf("expected ErrCandidateNotFound, got %v", err)
	}
}

// ----- Feedback -----

func TestRecordFeedback_ValidatesScoreRange(t *testing.T) {
	r := &fakeCandidateRepo{}
	s := NewOptimizationService(nil, r, &recommender.MockClient{}, nil)

	bad := 120.0
	if err := s.RecordFeedback(context.Background(), "u1", "c1", "great", &bad); !errors.Is(err, ErrOptimizationRejected) {
		t.Fatalf("expected score rejection, got %v", err)
	}
	if r.feedbackID != "" {
		t.Fatalf("rejected feedback must not reach the repo")
	}

	good := 85.0
	if err := s.RecordFeedback(context.Background(), "u1", "c1", "great", &good); err != nil {
		t.Fatalf("RecordFeedback: %v", err)
	}
	if r.feedbackID != "c1" || r.feedback != "great" {
		t.Fatalf("feedback not forwarded: %q/%q", r.feedbackID, r.feedback)
	}
}

func TestRecordFeedback_MapsNotFound(t *testing.T) {
	r := &fakeCandidateRepo{feedbackErr: gorm.ErrRecordNotFound}
	s := NewOptimizationService(nil, r, &recommender.MockClient{}, nil)
	if err := s.RecordFeedback(context.Background(), "u1", "c1", "x", nil); !errors.Is(err, ErrCandidateNotFound) {
		t.Fatalf("expected ErrCandidateNotFound, got %v", err)
	}
}
