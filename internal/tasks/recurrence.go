package tasks

import (
	"fmt"
	"time"

	"guest-concierge/internal/apperr"
	"guest-concierge/internal/models"
)

// ValidateRecurrence checks a recurrence descriptor.
func ValidateRecurrence(r *models.Recurrence) error {
	if r == nil {
		return nil
	}
	switch r.Kind {
	case models.RecurNone, models.RecurDaily, models.RecurWeekly, models.RecurMonthly:
	case models.RecurEveryNDay:
		if r.Interval < 1 {
			return fmt.Errorf("every_n_days needs interval >= 1: %w", apperr.ErrValidation)
		}
	default:
		return fmt.Errorf("recurrence kind %q: %w", r.Kind, apperr.ErrValidation)
	}
	if r.Interval < 0 || r.MaxOccurrences < 0 {
		return fmt.Errorf("recurrence interval and max occurrences must not be negative: %w", apperr.ErrValidation)
	}
	return nil
}

// OccurrenceDue returns the due time of occurrence k (0 is the anchor) and
// whether that occurrence exists within the recurrence bounds. Monthly
// occurrences fall on the anchor's day, clamped to the last day of shorter
// months.
func OccurrenceDue(anchor time.Time, r models.Recurrence, k int) (time.Time, bool) {
	if k < 0 {
		return time.Time{}, false
	}
	if r.MaxOccurrences > 0 && k >= r.MaxOccurrences {
		return time.Time{}, false
	}
	step := r.Interval
	if step < 1 {
		step = 1
	}

	var due time.Time
	switch r.Kind {
	case models.RecurDaily, models.RecurEveryNDay:
		due = anchor.AddDate(0, 0, k*step)
	case models.RecurWeekly:
		due = anchor.AddDate(0, 0, 7*k*step)
	case models.RecurMonthly:
		due = addMonthsClamped(anchor, k*step)
	default:
		if k != 0 {
			return time.Time{}, false
		}
		due = anchor
	}

	if r.EndDate != nil && due.After(*r.EndDate) {
		return time.Time{}, false
	}
	return due, true
}

func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
