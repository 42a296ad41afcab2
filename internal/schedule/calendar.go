package schedule

import "time"

// DateOnly truncates t to midnight in its own location.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DateIn returns midnight in loc of t's calendar date, so a date parsed in
// UTC keeps its day when compared against local dates.
func DateIn(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// AddMonths adds calendar months, clamping the day to the last day of the
// target month (Jan 31 + 1 month = Feb 28/29), unlike time.AddDate which
// overflows into the following month.
func AddMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	if last := daysIn(first.Year(), first.Month(), t.Location()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// WholeMonthsBetween counts whole calendar months from 'from' to 'to' using
// calendar fields only. It is negative when 'to' is before 'from'.
func WholeMonthsBetween(from, to time.Time) int {
	fy, fm, fd := from.Date()
	ty, tm, td := to.Date()

	months := (ty*12 + int(tm)) - (fy*12 + int(fm))
	if td < fd {
		months--
	}
	return months
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
