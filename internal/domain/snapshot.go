// Snapshot and template value objects.
//
// ScheduleSnapshot and TemplateEntries are embedded JSON columns: value
// objects serialized into a text field via driver.Valuer / sql.Scanner, the
// same pattern used for RecurrenceRule.
package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// SnapshotItem is one schedule item's scheduling state frozen into a
// candidate snapshot. Only fields the optimizer may move are captured, plus
// the version used for the staleness check.
type SnapshotItem struct {
	ItemID    string       `json:"item_id"`
	Type      ScheduleType `json:"type"`
	Title     string       `json:"title"`
	StartTime time.Time    `json:"start_time"`
	Duration  int          `json:"duration"` // minutes
	Priority  Priority     `json:"priority"`
	Version   int          `json:"version"`
}

// End returns the exclusive end of the snapshot item's interval.
func (s SnapshotItem) End() time.Time {
	return s.StartTime.Add(time.Duration(s.Duration) * time.Minute)
}

// ScheduleSnapshot is an immutable picture of a user's active schedule at
// one instant, stored on optimization candidates as "before" and "after".
type ScheduleSnapshot []SnapshotItem

// Value implements driver.Valuer.
func (s ScheduleSnapshot) Value() (driver.Value, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (s *ScheduleSnapshot) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s = nil
		return nil
	case string:
		if v == "" {
			*s = nil
			return nil
		}
		return json.Unmarshal([]byte(v), s)
	case []byte:
		if len(v) == 0 {
			*s = nil
			return nil
		}
		return json.Unmarshal(v, s)
	default:
		return fmt.Errorf("schedule snapshot: cannot scan %T", src)
	}
}

// TemplateEntry is one item blueprint inside a schedule template. For a
// weekly template, Weekday selects the day within each occurrence week; for
// daily and monthly templates it is ignored. TimeOfDay is a 24h "HH:MM"
// wall-clock time applied in UTC.
type TemplateEntry struct {
	Type        ScheduleType   `json:"type"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Weekday     *time.Weekday  `json:"weekday,omitempty"`
	TimeOfDay   string         `json:"time_of_day"`
	Duration    int            `json:"duration"` // minutes
	Priority    Priority       `json:"priority,omitempty"`
	Recurrence  RecurrenceRule `json:"recurrence,omitempty"`
}

// Validate checks an entry's blueprint fields.
func (e *TemplateEntry) Validate() error {
	if !e.Type.Valid() {
		return invalidItem("template entry has an unknown schedule type")
	}
	if e.Title == "" {
		return invalidItem("template entry title is required")
	}
	if _, err := time.Parse("15:04", e.TimeOfDay); err != nil {
		return invalidItem("template entry time_of_day must be HH:MM")
	}
	if e.Duration < MinDurationMinutes || e.Duration > MaxDurationMinutes {
		return invalidItem("template entry duration must be 5-480 minutes")
	}
	if e.Priority != "" && !e.Priority.Valid() {
		return invalidItem("template entry has an unknown priority")
	}
	if e.Weekday != nil && (*e.Weekday < time.Sunday || *e.Weekday > time.Saturday) {
		return invalidItem("template entry weekday out of range")
	}
	if e.Recurrence.Kind != "" {
		if err := e.Recurrence.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// At returns the entry's wall-clock time applied to the given day (UTC).
func (e *TemplateEntry) At(day time.Time) time.Time {
	t, _ := time.Parse("15:04", e.TimeOfDay)
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC)
}

// TemplateEntries is the JSON-persisted entry list of a template.
type TemplateEntries []TemplateEntry

// Value implements driver.Valuer.
func (t TemplateEntries) Value() (driver.Value, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (t *TemplateEntries) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*t = nil
		return nil
	case string:
		if v == "" {
			*t = nil
			return nil
		}
		return json.Unmarshal([]byte(v), t)
	case []byte:
		if len(v) == 0 {
			*t = nil
			return nil
		}
		return json.Unmarshal(v, t)
	default:
		return fmt.Errorf("template entries: cannot scan %T", src)
	}
}
