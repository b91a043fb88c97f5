// Recurrence rules.
//
// A RecurrenceRule is a tagged variant: the Kind field selects which of the
// remaining fields are meaningful, and Validate rejects inconsistent
// combinations at construction time rather than at expansion time. The rule
// is persisted as a JSON text column via driver.Valuer / sql.Scanner.
package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// RecurrenceKind tags the variant of a recurrence rule.
type RecurrenceKind string

const (
	RecurOnce    RecurrenceKind = "once"
	RecurDaily   RecurrenceKind = "daily"
	RecurWeekly  RecurrenceKind = "weekly"
	RecurMonthly RecurrenceKind = "monthly"
	RecurCustom  RecurrenceKind = "custom"
)

// RecurrenceUnit is the cadence unit of a custom rule.
type RecurrenceUnit string

const (
	UnitDay   RecurrenceUnit = "day"
	UnitWeek  RecurrenceUnit = "week"
	UnitMonth RecurrenceUnit = "month"
)

// RecurrenceRule describes how a schedule item repeats.
//
// Field usage by kind:
//
//	once:    no other fields
//	daily:   Interval (days)
//	weekly:  Interval (weeks), optional Weekdays
//	monthly: Interval (months), DayOfMonth (clamped to short months)
//	custom:  Unit + Interval, optional Weekdays (week unit only),
//	         optional terminal condition: Count or Until (inclusive)
//
// The zero value is not a valid rule; use Once() for non-repeating items.
type RecurrenceRule struct {
	Kind       RecurrenceKind `json:"kind"`
	Interval   int            `json:"interval,omitempty"`
	Weekdays   []time.Weekday `json:"weekdays,omitempty"`
	DayOfMonth int            `json:"day_of_month,omitempty"`
	Unit       RecurrenceUnit `json:"unit,omitempty"`
	Count      *int           `json:"count,omitempty"`
	Until      *time.Time     `json:"until,omitempty"`
}

// Once returns the rule for a non-repeating item.
func Once() RecurrenceRule { return RecurrenceRule{Kind: RecurOnce} }

// Daily returns a rule repeating every n days.
func Daily(n int) RecurrenceRule { return RecurrenceRule{Kind: RecurDaily, Interval: n} }

// Weekly returns a rule repeating every n weeks on the given weekdays. An
// empty weekday set means "same weekday as the item's start".
func Weekly(n int, days ...time.Weekday) RecurrenceRule {
	return RecurrenceRule{Kind: RecurWeekly, Interval: n, Weekdays: days}
}

// Monthly returns a rule repeating every n months on the given day of month.
// Days past the end of a short month clamp to its last day.
func Monthly(n, day int) RecurrenceRule {
	return RecurrenceRule{Kind: RecurMonthly, Interval: n, DayOfMonth: day}
}

// Repeats reports whether the rule produces more than one occurrence.
func (r RecurrenceRule) Repeats() bool { return r.Kind != "" && r.Kind != RecurOnce }

// Validate checks internal consistency of the rule. All violations return an
// error wrapping ErrInvalidRecurrenceRule.
func (r RecurrenceRule) Validate() error {
	switch r.Kind {
	case RecurOnce:
		if r.Interval != 0 || len(r.Weekdays) != 0 || r.DayOfMonth != 0 || r.Unit != "" || r.Count != nil || r.Until != nil {
			return invalidRule("once rules carry no cadence fields")
		}
	case RecurDaily:
		if r.Interval < 1 {
			return invalidRule("daily interval must be >= 1")
		}
		if len(r.Weekdays) != 0 || r.DayOfMonth != 0 || r.Unit != "" {
			return invalidRule("daily rules carry only an interval")
		}
	case RecurWeekly:
		if r.Interval < 1 {
			return invalidRule("weekly interval must be >= 1")
		}
		if r.DayOfMonth != 0 || r.Unit != "" {
			return invalidRule("weekly rules carry no day_of_month or unit")
		}
		if err := validWeekdays(r.Weekdays); err != nil {
			return err
		}
	case RecurMonthly:
		if r.Interval < 1 {
			return invalidRule("monthly interval must be >= 1")
		}
		if r.DayOfMonth < 1 || r.DayOfMonth > 31 {
			return invalidRule("monthly day_of_month must be 1-31")
		}
		if len(r.Weekdays) != 0 {
			return invalidRule("weekday set is not allowed on monthly rules")
		}
		if r.Unit != "" {
			return invalidRule("monthly rules carry no unit")
		}
	case RecurCustom:
		switch r.Unit {
		case UnitDay, UnitWeek, UnitMonth:
		default:
			return invalidRule("custom rules need a unit of day, week, or month")
		}
		if r.Interval < 1 {
			return invalidRule("custom interval must be >= 1")
		}
		if len(r.Weekdays) != 0 && r.Unit != UnitWeek {
			return invalidRule("weekday set requires the week unit")
		}
		if err := validWeekdays(r.Weekdays); err != nil {
			return err
		}
		if r.Count != nil && r.Until != nil {
			return invalidRule("count and until are mutually exclusive")
		}
		if r.Count != nil && *r.Count < 1 {
			return invalidRule("count must be >= 1")
		}
	default:
		return invalidRule(fmt.Sprintf("unknown recurrence kind %q", string(r.Kind)))
	}
	return nil
}

func validWeekdays(days []time.Weekday) error {
	seen := [7]bool{}
	for _, d := range days {
		if d < time.Sunday || d > time.Saturday {
			return invalidRule("weekday out of range")
		}
		if seen[d] {
			return invalidRule("duplicate weekday")
		}
		seen[d] = true
	}
	return nil
}

func invalidRule(detail string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRecurrenceRule, detail)
}

// Value serializes the rule as JSON for storage. Implements driver.Valuer.
func (r RecurrenceRule) Value() (driver.Value, error) {
	if r.Kind == "" {
		r = Once()
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan deserializes a stored JSON rule. Implements sql.Scanner. NULL and
// empty columns scan as a once rule so pre-recurrence rows stay readable.
func (r *RecurrenceRule) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*r = Once()
		return nil
	case string:
		if v == "" {
			*r = Once()
			return nil
		}
		return json.Unmarshal([]byte(v), r)
	case []byte:
		if len(v) == 0 {
			*r = Once()
			return nil
		}
		return json.Unmarshal(v, r)
	default:
		return fmt.Errorf("recurrence rule: cannot scan %T", src)
	}
}
