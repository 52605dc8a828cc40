package recurrence

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Frequency is the recurrence step of a schedule.
type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

// Frequencies lists the supported frequencies in display order.
var Frequencies = []Frequency{Daily, Weekly, Monthly}

// UnmarshalText normalizes case and whitespace. Unknown values are kept
// as-is so Validate can reject them instead of silently defaulting.
func (f *Frequency) UnmarshalText(b []byte) error {
	*f = Frequency(strings.ToLower(strings.TrimSpace(string(b))))
	return nil
}

func (f Frequency) valid() bool { return slices.Contains(Frequencies, f) }

// FrequencyNames renders Frequencies for messages, e.g. "daily, weekly or monthly".
func FrequencyNames() string {
	names := make([]string, len(Frequencies))
	for i, f := range Frequencies {
		names[i] = string(f)
	}
	if len(names) < 2 {
		return strings.Join(names, "")
	}
	return strings.Join(names[:len(names)-1], ", ") + " or " + names[len(names)-1]
}

const (
	DefaultHour       = 9
	DefaultMinute     = 0
	DefaultDayOfWeek  = time.Monday
	DefaultDayOfMonth = 1
)

// TimeOfDay is a wall-clock time with minute precision.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

func (t TimeOfDay) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Config is a recurrence rule plus the bookkeeping the host keeps next to it.
//
// Only Frequency, Time, DayOfWeek and DayOfMonth are read by Next. Enabled,
// Recipients, LastSent and NextRun belong to the caller.
type Config struct {
	Frequency  Frequency    `json:"frequency"`
	Time       TimeOfDay    `json:"time"`
	DayOfWeek  time.Weekday `json:"day_of_week"`
	DayOfMonth int          `json:"day_of_month"`

	Enabled    bool       `json:"enabled"`
	Recipients []string   `json:"recipients,omitempty"`
	LastSent   *time.Time `json:"last_sent,omitempty"`
	NextRun    *time.Time `json:"next_run,omitempty"`
}

// DefaultConfig returns a config for freq with the default selectors:
// 09:00, Monday, day 1.
func DefaultConfig(freq Frequency) Config {
	return Config{
		Frequency:  freq,
		Time:       TimeOfDay{Hour: DefaultHour, Minute: DefaultMinute},
		DayOfWeek:  DefaultDayOfWeek,
		DayOfMonth: DefaultDayOfMonth,
	}
}

// UnmarshalJSON applies the defaults for fields missing from the document.
func (c *Config) UnmarshalJSON(b []byte) error {
	type plain Config
	p := plain(DefaultConfig(""))
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*c = Config(p)
	return nil
}

// Describe renders the rule part of c for logs and previews.
func (c Config) Describe() string {
	switch c.Frequency {
	case Weekly:
		return fmt.Sprintf("weekly on %s at %s", c.DayOfWeek, c.Time)
	case Monthly:
		return fmt.Sprintf("monthly on day %d at %s", c.DayOfMonth, c.Time)
	default:
		return fmt.Sprintf("%s at %s", c.Frequency, c.Time)
	}
}
