package domain

import (
	"fmt"
	"time"

	_ "time/tzdata" // zone data for hosts without a system tz database
)

// DateLayout is the layout of local calendar dates used as dispatch keys.
const DateLayout = "2006-01-02"

func loadLocation(tz string) *time.Location {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LocalDate returns the calendar date of nowUTC in the user's timezone.
func LocalDate(nowUTC time.Time, tz string) string {
	return nowUTC.In(loadLocation(tz)).Format(DateLayout)
}

// IsDue reports whether the user's daily message is due at nowUTC and returns
// the local date the dispatch would be keyed by.
//
// The check compares wall clock minutes rather than instants: a delivery time
// skipped by a forward DST shift becomes due at the first tick after the gap,
// and a repeated wall clock hour is deduplicated by the per-date claim.
func IsDue(u *User, nowUTC time.Time) (bool, string) {
	local := nowUTC.In(loadLocation(u.TZ))
	date := local.Format(DateLayout)
	if !u.Enabled || !u.HasDeliveryTime() {
		return false, date
	}
	// YYYY-MM-DD compares lexically in calendar order.
	if u.LastDispatchedDate != "" && date <= u.LastDispatchedDate {
		return false, date
	}
	localM := local.Hour()*60 + local.Minute()
	return localM >= u.DeliveryMinute, date
}

// NextDelivery returns the UTC instant of the next scheduled delivery after nowUTC.
// A delivery time that does not exist on a given day (DST gap) is normalized
// forward by time.Date.
func NextDelivery(u *User, nowUTC time.Time) (time.Time, bool) {
	if !u.Enabled || !u.HasDeliveryTime() {
		return time.Time{}, false
	}
	loc := loadLocation(u.TZ)
	local := nowUTC.In(loc)
	makeLocalAt := func(base time.Time, mins int) time.Time {
		return time.Date(base.Year(), base.Month(), base.Day(), mins/60, mins%60, 0, 0, loc)
	}

	today := local.Format(DateLayout)
	if u.LastDispatchedDate == "" || today > u.LastDispatchedDate {
		at := makeLocalAt(local, u.DeliveryMinute)
		if at.After(nowUTC) {
			return at.UTC(), true
		}
		// Due but not yet picked up by a tick.
		return nowUTC, true
	}
	tomorrow := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
	return makeLocalAt(tomorrow, u.DeliveryMinute).UTC(), true
}

// BirthInstant converts natal input into the UTC birth instant.
func BirthInstant(b BirthData) (time.Time, error) {
	loc, err := time.LoadLocation(b.TZ)
	if err != nil {
		return time.Time{}, fmt.Errorf("birth timezone: %w", err)
	}
	minute := b.Minute
	if !b.TimeKnown {
		minute = 12 * 60
	}
	lt := time.Date(b.Date.Year(), b.Date.Month(), b.Date.Day(), minute/60, minute%60, 0, 0, loc)
	return lt.UTC(), nil
}
