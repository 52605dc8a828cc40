package recurrence

import (
	"time"

	"github.com/robfig/cron/v3"
)

// cronSchedule adapts a Config to cron.Schedule.
type cronSchedule struct {
	cfg Config
}

// Next returns the zero time for a rule that stopped validating, which
// cron treats as "never".
func (s cronSchedule) Next(t time.Time) time.Time {
	next, err := Next(s.cfg, t)
	if err != nil {
		return time.Time{}
	}
	return next
}

// NewCronSchedule validates cfg and returns it as a cron.Schedule.
// Caller-owned fields are dropped so the schedule does not alias them.
func NewCronSchedule(cfg Config) (cron.Schedule, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cronSchedule{cfg: Config{
		Frequency:  cfg.Frequency,
		Time:       cfg.Time,
		DayOfWeek:  cfg.DayOfWeek,
		DayOfMonth: cfg.DayOfMonth,
	}}, nil
}

// Upcoming returns the next n runs after from.
func Upcoming(cfg Config, from time.Time, n int) ([]time.Time, error) {
	sched, err := NewCronSchedule(cfg)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	out := make([]time.Time, 0, n)
	t := from
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		out = append(out, t)
	}
	return out, nil
}
