package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"guest-concierge/internal/apperr"
	"guest-concierge/internal/models"
)

// ParseClock parses an "HH:MM" time of day.
func ParseClock(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 || len(parts[0]) == 0 || len(parts[1]) != 2 {
		return 0, 0, fmt.Errorf("trigger time %q is not HH:MM: %w", s, apperr.ErrInvalidConfig)
	}
	hour, err1 := strconv.Atoi(parts[0])
	minute, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("trigger time %q is not HH:MM: %w", s, apperr.ErrInvalidConfig)
	}
	return hour, minute, nil
}

// ComputeSendAt returns when rule fires for booking. Date-based triggers
// use the booking's calendar date shifted by the offset, at the rule's
// trigger time in loc. on_booking_created fires at now. The result is in
// UTC so stored send times compare as instants on every driver.
func ComputeSendAt(rule *models.ScheduleRule, b *models.Booking, loc *time.Location, now time.Time) (time.Time, error) {
	var base time.Time
	offset := rule.OffsetDays
	switch rule.TriggerType {
	case models.TriggerOnBookingCreated:
		return now.UTC(), nil
	case models.TriggerDaysBeforeCheckin:
		base, offset = b.CheckIn, -offset
	case models.TriggerOnCheckinDate:
		base, offset = b.CheckIn, 0
	case models.TriggerDaysAfterCheckin:
		base = b.CheckIn
	case models.TriggerOnCheckoutDate:
		base, offset = b.CheckOut, 0
	case models.TriggerDaysAfterCheckout:
		base = b.CheckOut
	default:
		return time.Time{}, fmt.Errorf("trigger type %q: %w", rule.TriggerType, apperr.ErrInvalidConfig)
	}

	hour, minute, err := ParseClock(rule.TriggerTime)
	if err != nil {
		return time.Time{}, err
	}
	if loc == nil {
		loc = time.UTC
	}
	// Booking dates are calendar dates stored at midnight UTC.
	y, m, d := base.UTC().Date()
	return time.Date(y, m, d+offset, hour, minute, 0, 0, loc).UTC(), nil
}
