package recurrence

import "time"

// Next returns the first instant strictly after now at which cfg fires.
//
// Candidates are built on calendar days in now's location at cfg.Time,
// seconds zeroed:
//   - daily: the first day, starting today, whose slot is after now
//   - weekly: the first matching weekday whose slot is after now
//   - monthly: the configured day (clamped to the month's length) of the
//     first month, starting this one, whose slot is after now
//
// A slot that does not exist on a day (skipped by a DST transition) is
// passed over, so the result always shows cfg.Time on the wall clock.
//
// It returns an *InvalidScheduleError for malformed rules.
func Next(cfg Config, now time.Time) (time.Time, error) {
	if err := Validate(cfg); err != nil {
		return time.Time{}, err
	}

	switch cfg.Frequency {
	case Daily:
		for offset := 0; ; offset++ {
			if next, ok := dayAt(now, offset, cfg.Time); ok && next.After(now) {
				return next, nil
			}
		}

	case Weekly:
		for offset := (int(cfg.DayOfWeek) - int(now.Weekday()) + 7) % 7; ; offset += 7 {
			if next, ok := dayAt(now, offset, cfg.Time); ok && next.After(now) {
				return next, nil
			}
		}

	case Monthly:
		y, m, _ := now.Date()
		for i := time.Month(0); ; i++ {
			if next, ok := monthDayAt(y, m+i, cfg.DayOfMonth, cfg.Time, now.Location()); ok && next.After(now) {
				return next, nil
			}
		}
	}

	// Validate rejects unknown frequencies; keep the switch exhaustive anyway.
	return time.Time{}, invalid("frequency", cfg.Frequency, "unsupported frequency")
}

// Validate checks field ranges. Selectors of other frequencies are ignored.
func Validate(cfg Config) error {
	if !cfg.Frequency.valid() {
		return invalid("frequency", cfg.Frequency, "want "+FrequencyNames())
	}
	if cfg.Time.Hour < 0 || cfg.Time.Hour > 23 {
		return invalid("time.hour", cfg.Time.Hour, "want 0-23")
	}
	if cfg.Time.Minute < 0 || cfg.Time.Minute > 59 {
		return invalid("time.minute", cfg.Time.Minute, "want 0-59")
	}
	switch cfg.Frequency {
	case Weekly:
		if cfg.DayOfWeek < time.Sunday || cfg.DayOfWeek > time.Saturday {
			return invalid("day_of_week", int(cfg.DayOfWeek), "want 0-6 (0=Sunday)")
		}
	case Monthly:
		if cfg.DayOfMonth < 1 || cfg.DayOfMonth > 31 {
			return invalid("day_of_month", cfg.DayOfMonth, "want 1-31")
		}
	}
	return nil
}

// dayAt returns base's calendar day shifted by offset days, at tod.
func dayAt(base time.Time, offset int, tod TimeOfDay) (time.Time, bool) {
	y, m, d := base.Date()
	return wallTime(y, m, d+offset, tod, base.Location())
}

// monthDayAt returns day of month (y, m) at tod, clamping day to the
// month's length. m may overflow into the next year.
func monthDayAt(y int, m time.Month, day int, tod TimeOfDay, loc *time.Location) (time.Time, bool) {
	first := time.Date(y, m, 1, 0, 0, 0, 0, loc)
	y, m = first.Year(), first.Month()
	if last := daysIn(y, m, loc); day > last {
		day = last
	}
	return wallTime(y, m, day, tod, loc)
}

func daysIn(y int, m time.Month, loc *time.Location) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, loc).Day()
}

// wallTime is time.Date at tod. ok is false when that wall time does not
// exist in loc: time.Date then normalizes across the DST gap, possibly to
// an instant on the previous day.
func wallTime(y int, m time.Month, d int, tod TimeOfDay, loc *time.Location) (t time.Time, ok bool) {
	t = time.Date(y, m, d, tod.Hour, tod.Minute, 0, 0, loc)
	want := time.Date(y, m, d, tod.Hour, tod.Minute, 0, 0, time.UTC)
	got := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC)
	return t, got.Equal(want)
}
