// Package recurrence expands schedule item recurrence rules into concrete
// occurrence intervals within a bounded time window.
//
// Expansion is a pure function of (rule, base interval, window): calling it
// twice with the same arguments yields the same occurrences, and the result
// is always finite because the window is. Rules are validated before
// expansion; inconsistent rules fail with domain.ErrInvalidRecurrenceRule.
package recurrence

import (
	"sort"
	"time"

	"github.com/mindwell/go-scheduling-backend/internal/domain"
)

// Window is a half-open time range [Start, End). Occurrences are selected by
// their start instant: an occurrence belongs to the window when
// Start <= occ.Start < End.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Occurrence is one concrete [Start, End) interval generated from a rule.
// ItemID names the item it was expanded from, so occurrences of several items
// can be merged into one agenda.
type Occurrence struct {
	ItemID string    `json:"item_id"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
}

// SortOccurrences orders occurrences by start, breaking ties by item ID.
func SortOccurrences(occs []Occurrence) {
	sort.Slice(occs, func(i, j int) bool {
		if occs[i].Start.Equal(occs[j].Start) {
			return occs[i].ItemID < occs[j].ItemID
		}
		return occs[i].Start.Before(occs[j].Start)
	})
}

// Expand returns the occurrences of item within w, ordered by start.
//
// A once rule yields at most one occurrence: the base interval, included
// when it intersects the window at all (not only when its start does) so a
// long activity straddling the window boundary is still reported. Repeating
// rules yield every occurrence whose start falls in [w.Start, w.End),
// advancing from the item's start by the rule's cadence; monthly cadences
// clamp to the last valid day of short months. Custom terminal conditions
// bound the sequence: count limits total occurrences from the rule's origin,
// until (inclusive) cuts it at an instant.
func Expand(item *domain.ScheduleItem, w Window) ([]Occurrence, error) {
	rule := item.Recurrence
	if rule.Kind == "" {
		rule = domain.Once()
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if !w.End.After(w.Start) {
		return nil, nil
	}

	dur := time.Duration(item.Duration) * time.Minute

	if !rule.Repeats() {
		// Intersection, not start-containment: half-open overlap test.
		end := item.StartTime.Add(dur)
		if item.StartTime.Before(w.End) && w.Start.Before(end) {
			return []Occurrence{{ItemID: item.ID, Start: item.StartTime, End: end}}, nil
		}
		return nil, nil
	}

	starts := expandStarts(rule, item.StartTime, w)

	out := make([]Occurrence, 0, len(starts))
	for _, s := range starts {
		out = append(out, Occurrence{ItemID: item.ID, Start: s, End: s.Add(dur)})
	}
	return out, nil
}

// expandStarts walks the rule's start sequence from its origin and collects
// the starts inside w. The walk is bounded by w.End plus any terminal
// condition, so it always terminates.
func expandStarts(rule domain.RecurrenceRule, origin time.Time, w Window) []time.Time {
	var (
		out   []time.Time
		seen  int
		yield = func(t time.Time) bool {
			if rule.Until != nil && t.After(*rule.Until) {
				return false
			}
			seen++
			if rule.Count != nil && seen > *rule.Count {
				return false
			}
			if w.Contains(t) {
				out = append(out, t)
			}
			return t.Before(w.End)
		}
	)

	switch {
	case rule.Kind == domain.RecurDaily,
		rule.Kind == domain.RecurCustom && rule.Unit == domain.UnitDay:
		// Calendar days, not 24h spans, so the wall-clock time survives DST.
		for t := origin; ; t = t.AddDate(0, 0, rule.Interval) {
			if !yield(t) {
				break
			}
		}

	case rule.Kind == domain.RecurWeekly,
		rule.Kind == domain.RecurCustom && rule.Unit == domain.UnitWeek:
		days := rule.Weekdays
		if len(days) == 0 {
			days = []time.Weekday{origin.Weekday()}
		}
		sorted := append([]time.Weekday(nil), days...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		// Anchor on the Sunday-start week containing the origin; each step
		// advances by interval weeks and emits the selected weekdays at the
		// origin's wall-clock time, skipping anything before the origin.
		weekStart := origin.AddDate(0, 0, -int(origin.Weekday()))
	weekly:
		for week := weekStart; ; week = week.AddDate(0, 0, 7*rule.Interval) {
			for _, d := range sorted {
				t := week.AddDate(0, 0, int(d))
				if t.Before(origin) {
					continue
				}
				if !yield(t) {
					break weekly
				}
			}
			if !week.Before(w.End) {
				break
			}
		}

	case rule.Kind == domain.RecurMonthly,
		rule.Kind == domain.RecurCustom && rule.Unit == domain.UnitMonth:
		day := rule.DayOfMonth
		if day == 0 {
			day = origin.Day()
		}
		for n := 0; ; n += rule.Interval {
			t := monthlyOccurrence(origin, n, day)
			if t.Before(origin) {
				continue
			}
			if !yield(t) {
				break
			}
		}
	}

	return out
}

// monthlyOccurrence places the rule's day-of-month n months after the
// origin's month, clamped to the month's last valid day and carrying the
// origin's wall-clock time. AddDate would normalize Feb 31 into March; the
// clamp keeps a day-31 rule inside February.
func monthlyOccurrence(origin time.Time, monthsAhead, day int) time.Time {
	first := time.Date(origin.Year(), origin.Month(), 1, 0, 0, 0, 0, origin.Location())
	month := first.AddDate(0, monthsAhead, 0)
	if last := daysInMonth(month.Year(), month.Month()); day > last {
		day = last
	}
	return time.Date(month.Year(), month.Month(), day,
		origin.Hour(), origin.Minute(), origin.Second(), origin.Nanosecond(), origin.Location())
}

// daysInMonth returns the number of days in the given month.
func daysInMonth(year int, m time.Month) int {
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
