package recurrence

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var reHHMM = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})\s*$`)

// ParseTimeOfDay parses "HH:MM" (24h). "9:05" is accepted.
func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	m := reHHMM.FindStringSubmatch(raw)
	if len(m) != 3 {
		return TimeOfDay{}, invalid("time", raw, "want HH:MM")
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if hh > 23 {
		return TimeOfDay{}, invalid("time.hour", hh, "want 0-23")
	}
	if mm > 59 {
		return TimeOfDay{}, invalid("time.minute", mm, "want 0-59")
	}
	return TimeOfDay{Hour: hh, Minute: mm}, nil
}

// ParseFrequency accepts daily, weekly or monthly in any case.
func ParseFrequency(raw string) (Frequency, error) {
	var f Frequency
	_ = f.UnmarshalText([]byte(raw))
	if !f.valid() {
		return "", invalid("frequency", raw, "want "+FrequencyNames())
	}
	return f, nil
}

// ParseWeekday accepts 0-6 (0=Sunday), full English names or their
// three-letter prefixes.
func ParseWeekday(raw string) (time.Weekday, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n > 6 {
			return 0, invalid("day_of_week", n, "want 0-6 (0=Sunday)")
		}
		return time.Weekday(n), nil
	}
	if len(s) >= 3 {
		for d := time.Sunday; d <= time.Saturday; d++ {
			if strings.HasPrefix(strings.ToLower(d.String()), s) {
				return d, nil
			}
		}
	}
	return 0, invalid("day_of_week", raw, fmt.Sprintf("unknown weekday %q", raw))
}
