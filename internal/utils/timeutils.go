package utils

import "time"

// Overlap returns the duration shared by [aStart, aEnd) and [bStart, bEnd),
// or zero when the intervals do not intersect.
func Overlap(aStart, aEnd, bStart, bEnd time.Time) time.Duration {
	start := aStart
	if bStart.After(start) {
		start = bStart
	}
	end := aEnd
	if bEnd.Before(end) {
		end = bEnd
	}
	if !start.Before(end) {
		return 0
	}
	return end.Sub(start)
}

// BusinessDuration returns how much of [start, end) falls inside the
// business window [dayStart, dayEnd) hours on weekdays. Used for SLA
// definitions that only count response time during business hours.
func BusinessDuration(start, end time.Time, dayStart, dayEnd int) time.Duration {
	if !start.Before(end) {
		return 0
	}

	var total time.Duration
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
	for day.Before(end) {
		next := day.AddDate(0, 0, 1)
		if wd := day.Weekday(); wd != time.Saturday && wd != time.Sunday {
			windowStart := day.Add(time.Duration(dayStart) * time.Hour)
			windowEnd := day.Add(time.Duration(dayEnd) * time.Hour)
			total += Overlap(start, end, windowStart, windowEnd)
		}
		day = next
	}
	return total
}
