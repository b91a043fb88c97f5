// Package domain defines the persistence models for schedule items, conflicts,
// analytics rollups, optimization candidates, and templates. These types are
// mapped with GORM and form the core data layer of the scheduling backend.
//
// Every entity is owned by exactly one user_id partition. Repositories scope
// every query to a single user; no code path reads or writes across partitions.
package domain

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Domain-level validation errors. Entities failing these checks are rejected
// at construction and never persisted.
var (
	// ErrInvalidScheduleItem indicates a schedule item with a missing required
	// field or an out-of-range duration.
	ErrInvalidScheduleItem = errors.New("invalid schedule item")

	// ErrInvalidRecurrenceRule indicates a recurrence rule whose fields are
	// inconsistent for its kind (zero interval, weekday set on monthly, ...).
	ErrInvalidRecurrenceRule = errors.New("invalid recurrence rule")
)

// ScheduleType classifies the wellness activity an item represents.
type ScheduleType string

const (
	TypeTherapy  ScheduleType = "therapy"
	TypeExercise ScheduleType = "exercise"
	TypeJournal  ScheduleType = "journal"
	TypeSleep    ScheduleType = "sleep"
	TypeRoutine  ScheduleType = "routine"
)

// Valid reports whether t is a known schedule type.
func (t ScheduleType) Valid() bool {
	switch t {
	case TypeTherapy, TypeExercise, TypeJournal, TypeSleep, TypeRoutine:
		return true
	}
	return false
}

// Priority is the user-assigned importance of a schedule item. It feeds the
// conflict severity policy.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is a known priority level.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// ConflictType classifies how two schedule items collide.
type ConflictType string

const (
	ConflictTimeOverlap      ConflictType = "time_overlap"
	ConflictResource         ConflictType = "resource_conflict"
	ConflictPriorityConflict ConflictType = "priority_conflict"
)

// Severity is the detector-assigned urgency tier of a conflict, derived from
// the participants' priorities. The detection policy never produces "low";
// the constant exists because historical resolved rows may carry it.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ResolutionStatus is the lifecycle state of a detected conflict.
type ResolutionStatus string

const (
	ResolutionUnresolved ResolutionStatus = "unresolved"
	ResolutionResolved   ResolutionStatus = "resolved"
	ResolutionIgnored    ResolutionStatus = "ignored"
)

// OptimizationType names the strategy a candidate was generated with.
type OptimizationType string

const (
	OptimizeTimeBlocking       OptimizationType = "time_blocking"
	OptimizeEnergyMatching     OptimizationType = "energy_matching"
	OptimizeConflictResolution OptimizationType = "conflict_resolution"
	OptimizeEfficiency         OptimizationType = "efficiency"
)

// Valid reports whether o is a known optimization type.
func (o OptimizationType) Valid() bool {
	switch o {
	case OptimizeTimeBlocking, OptimizeEnergyMatching, OptimizeConflictResolution, OptimizeEfficiency:
		return true
	}
	return false
}

// TemplateCadence is the repeat cadence of a schedule template.
type TemplateCadence string

const (
	CadenceDaily   TemplateCadence = "daily"
	CadenceWeekly  TemplateCadence = "weekly"
	CadenceMonthly TemplateCadence = "monthly"
)

// Valid reports whether c is a known template cadence.
func (c TemplateCadence) Valid() bool {
	switch c {
	case CadenceDaily, CadenceWeekly, CadenceMonthly:
		return true
	}
	return false
}

// Duration bounds in minutes for a single activity. The base occurrence
// interval of an item is the half-open [StartTime, StartTime+Duration).
const (
	MinDurationMinutes = 5
	MaxDurationMinutes = 480
)

// ScheduleItem is one recurring or one-off wellness activity.
//
// Fields beyond the scheduling core capture the completion flow: notes, an
// optional 1-5 effectiveness rating, mood before/after, and the actual
// duration spent. Version is bumped on every mutation and is the basis for
// the optimistic-concurrency check when an optimization candidate is applied.
type ScheduleItem struct {
	ID          string         `json:"id"          gorm:"type:char(36);primaryKey"`
	UserID      string         `json:"user_id"     gorm:"type:varchar(64);not null;index:idx_user_items"`
	Type        ScheduleType   `json:"type"        gorm:"type:varchar(16);not null;check:type IN ('therapy','exercise','journal','sleep','routine')"`
	Title       string         `json:"title"       gorm:"type:varchar(200);not null"`
	Description string         `json:"description,omitempty" gorm:"type:varchar(500)"`
	StartTime   time.Time      `json:"start_time"  gorm:"not null;index"`
	Duration    int            `json:"duration"    gorm:"not null"` // minutes
	Recurrence  RecurrenceRule `json:"recurrence"  gorm:"type:text"`
	Priority    Priority       `json:"priority"    gorm:"type:varchar(16);not null;default:'medium'"`
	IsActive    bool           `json:"is_active"   gorm:"not null;default:true"`

	IsCompleted         bool       `json:"is_completed" gorm:"not null;default:false"`
	CompletionDate      *time.Time `json:"completion_date,omitempty"`
	CompletionNotes     string     `json:"completion_notes,omitempty" gorm:"type:varchar(300)"`
	EffectivenessRating *int       `json:"effectiveness_rating,omitempty"` // 1-5, nil until rated
	MoodBefore          string     `json:"mood_before,omitempty" gorm:"type:varchar(64)"`
	MoodAfter           string     `json:"mood_after,omitempty" gorm:"type:varchar(64)"`
	ActualDuration      *int       `json:"actual_duration,omitempty"` // minutes, nil unless reported

	OptimizationApplied bool `json:"optimization_applied" gorm:"not null;default:false"`

	// TemplateID and SlotStart identify the template occurrence slot this
	// item was materialized from. Together they make template application
	// idempotent: at most one still-active item per (template, slot).
	TemplateID *string    `json:"template_id,omitempty" gorm:"type:char(36);index"`
	SlotStart  *time.Time `json:"slot_start,omitempty"`

	Version   int            `json:"version"    gorm:"not null;default:1"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`
}

// TableName returns the database table name for ScheduleItem.
func (ScheduleItem) TableName() string { return "schedule_items" }

// End returns the exclusive end instant of the item's base occurrence
// interval, derived from StartTime and Duration. It is never stored; the
// interval is always recomputed from its parts.
func (i *ScheduleItem) End() time.Time {
	return i.StartTime.Add(time.Duration(i.Duration) * time.Minute)
}

// Overlaps reports whether the base occurrence intervals of i and other
// intersect. Intervals are half-open, so back-to-back items do not overlap.
func (i *ScheduleItem) Overlaps(other *ScheduleItem) bool {
	return i.StartTime.Before(other.End()) && other.StartTime.Before(i.End())
}

// Validate checks the construction invariants of a schedule item. It returns
// ErrInvalidScheduleItem (wrapped with detail) when a required field is
// missing or out of range, and ErrInvalidRecurrenceRule when the embedded
// rule is inconsistent.
func (i *ScheduleItem) Validate() error {
	if strings.TrimSpace(i.UserID) == "" {
		return invalidItem("user_id is required")
	}
	if !i.Type.Valid() {
		return invalidItem("unknown schedule type")
	}
	if strings.TrimSpace(i.Title) == "" {
		return invalidItem("title is required")
	}
	if i.StartTime.IsZero() {
		return invalidItem("start_time is required")
	}
	if i.Duration < MinDurationMinutes || i.Duration > MaxDurationMinutes {
		return invalidItem("duration must be 5-480 minutes")
	}
	if !i.Priority.Valid() {
		return invalidItem("unknown priority")
	}
	if i.EffectivenessRating != nil && (*i.EffectivenessRating < 1 || *i.EffectivenessRating > 5) {
		return invalidItem("effectiveness_rating must be 1-5")
	}
	return i.Recurrence.Validate()
}

// Complete marks the item completed at the given instant and records the
// optional completion details.
func (i *ScheduleItem) Complete(at time.Time, notes string, rating *int, moodBefore, moodAfter string, actualMinutes *int) error {
	if rating != nil && (*rating < 1 || *rating > 5) {
		return invalidItem("effectiveness_rating must be 1-5")
	}
	if actualMinutes != nil && *actualMinutes < 1 {
		return invalidItem("actual_duration must be >= 1")
	}
	i.IsCompleted = true
	i.CompletionDate = &at
	i.CompletionNotes = notes
	i.EffectivenessRating = rating
	i.MoodBefore = moodBefore
	i.MoodAfter = moodAfter
	i.ActualDuration = actualMinutes
	return nil
}

// invalidItem wraps ErrInvalidScheduleItem with a human-readable detail so
// callers can branch with errors.Is while logs stay specific.
func invalidItem(detail string) error {
	return errors.Join(ErrInvalidScheduleItem, errors.New(detail))
}

// Conflict records a detected collision between two schedule items of one
// user. The item pair is unordered; NormalizePair keeps ItemA < ItemB so the
// pair has a single canonical representation.
//
// Invariant: the unresolved set for a user never contains the same pair
// twice. It is maintained by the detector's atomic replace of unresolved
// rows, not by a partial database index.
type Conflict struct {
	ID       string       `json:"id"        gorm:"type:char(36);primaryKey"`
	UserID   string       `json:"user_id"   gorm:"type:varchar(64);not null;index:idx_user_conflicts"`
	Type     ConflictType `json:"type"      gorm:"type:varchar(32);not null"`
	ItemA    string       `json:"item_a"    gorm:"type:char(36);not null;index"`
	ItemB    string       `json:"item_b"    gorm:"type:char(36);not null;index"`
	Severity Severity     `json:"severity"  gorm:"type:varchar(16);not null"`

	ResolutionStatus ResolutionStatus `json:"resolution_status" gorm:"type:varchar(16);not null;default:'unresolved';index:idx_user_conflicts"`
	ResolutionAction string           `json:"resolution_action,omitempty" gorm:"type:varchar(64)"`
	ResolutionNotes  string           `json:"resolution_notes,omitempty" gorm:"type:varchar(500)"`

	DetectedAt time.Time  `json:"detected_at" gorm:"not null"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// TableName returns the database table name for Conflict.
func (Conflict) TableName() string { return "schedule_conflicts" }

// NormalizePair orders the item pair so that ItemA < ItemB. Detection is
// symmetric; normalizing at construction keeps pair identity stable across
// recomputes.
func (c *Conflict) NormalizePair() {
	if c.ItemB < c.ItemA {
		c.ItemA, c.ItemB = c.ItemB, c.ItemA
	}
}

// PairKey returns the canonical "a|b" identity of the conflict's item pair.
func (c *Conflict) PairKey() string {
	a, b := c.ItemA, c.ItemB
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

// OptimizationCandidate is a scored alternative-schedule proposal produced by
// the external recommender. A candidate is immutable once created: applying
// it mutates item rows, never the candidate's snapshots. Feedback and the
// effectiveness score belong to a later lifecycle phase and are the only
// fields written after creation.
type OptimizationCandidate struct {
	ID     string           `json:"id"      gorm:"type:char(36);primaryKey"`
	UserID string           `json:"user_id" gorm:"type:varchar(64);not null;index"`
	Type   OptimizationType `json:"type"    gorm:"type:varchar(32);not null"`

	Before ScheduleSnapshot `json:"before" gorm:"type:text"`
	After  ScheduleSnapshot `json:"after"  gorm:"type:text"`

	// BaseFingerprint identifies the exact schedule state the candidate was
	// computed against; Apply refuses to run once the live state diverged.
	BaseFingerprint string `json:"base_fingerprint" gorm:"type:varchar(64);not null"`

	Score     float64 `json:"score"     gorm:"not null"`  // [0,100]
	Rationale string  `json:"rationale" gorm:"type:text"` // opaque recommender text

	Applied   bool       `json:"applied"    gorm:"not null;default:false"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`

	Feedback string `json:"feedback,omitempty" gorm:"type:varchar(500)"`
	// EffectivenessScore stays nil until real-world use has been assessed;
	// nil means "not yet computed", distinct from a computed zero.
	EffectivenessScore *float64 `json:"effectiveness_score,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for OptimizationCandidate.
func (OptimizationCandidate) TableName() string { return "optimization_candidates" }

// DailyRollup is the derived adherence record for one (user, day). Every
// field except the key is a pure function of that day's items; recomputing
// overwrites all of them.
type DailyRollup struct {
	ID     string    `json:"id"      gorm:"type:char(36);primaryKey"`
	UserID string    `json:"user_id" gorm:"type:varchar(64);not null;uniqueIndex:ux_rollup_user_day,priority:1"`
	Day    time.Time `json:"day"     gorm:"not null;uniqueIndex:ux_rollup_user_day,priority:2"` // midnight UTC

	ScheduledItems int     `json:"scheduled_items" gorm:"not null"`
	CompletedItems int     `json:"completed_items" gorm:"not null"`
	CompletionRate float64 `json:"completion_rate" gorm:"not null"` // [0,100]

	TherapyCount  int `json:"therapy_count"  gorm:"not null"`
	ExerciseCount int `json:"exercise_count" gorm:"not null"`
	JournalCount  int `json:"journal_count"  gorm:"not null"`
	SleepCount    int `json:"sleep_count"    gorm:"not null"`
	RoutineCount  int `json:"routine_count"  gorm:"not null"`

	AdherenceScore float64 `json:"adherence_score" gorm:"not null"` // [0,100]

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for DailyRollup.
func (DailyRollup) TableName() string { return "daily_rollups" }

// ScheduleTemplate is a reusable generator of schedule items on a cadence.
// Entries describe the items to materialize for each occurrence of the
// cadence; UsageCount and LastUsedAt track successful applications.
type ScheduleTemplate struct {
	ID          string          `json:"id"          gorm:"type:char(36);primaryKey"`
	UserID      string          `json:"user_id"     gorm:"type:varchar(64);not null;index"`
	Name        string          `json:"name"        gorm:"type:varchar(100);not null"`
	Description string          `json:"description,omitempty" gorm:"type:varchar(300)"`
	Cadence     TemplateCadence `json:"cadence"     gorm:"type:varchar(16);not null"`
	Entries     TemplateEntries `json:"entries"     gorm:"type:text"`
	IsActive    bool            `json:"is_active"   gorm:"not null;default:true"`
	UsageCount  int             `json:"usage_count" gorm:"not null;default:0"`
	LastUsedAt  *time.Time      `json:"last_used_at,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName returns the database table name for ScheduleTemplate.
func (ScheduleTemplate) TableName() string { return "schedule_templates" }

// Validate checks the construction invariants of a template.
func (t *ScheduleTemplate) Validate() error {
	if strings.TrimSpace(t.UserID) == "" {
		return invalidItem("user_id is required")
	}
	if strings.TrimSpace(t.Name) == "" {
		return invalidItem("template name is required")
	}
	if !t.Cadence.Valid() {
		return invalidItem("unknown template cadence")
	}
	if len(t.Entries) == 0 {
		return invalidItem("template has no entries")
	}
	for i := range t.Entries {
		if err := t.Entries[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}
