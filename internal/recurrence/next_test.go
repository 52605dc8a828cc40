package recurrence

import (
	"errors"
	"testing"
	"time"
	_ "time/tzdata"
)

func at(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func weekly(dow time.Weekday) Config {
	c := DefaultConfig(Weekly)
	c.DayOfWeek = dow
	return c
}

func monthly(dom int) Config {
	c := DefaultConfig(Monthly)
	c.DayOfMonth = dom
	return c
}

func TestNextScenarios(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
		now  time.Time
		want time.Time
	}{
		{name: "daily later today", cfg: DefaultConfig(Daily), now: at(2024, time.March, 1, 8, 0), want: at(2024, time.March, 1, 9, 0)},
		{name: "daily passed rolls to tomorrow", cfg: DefaultConfig(Daily), now: at(2024, time.March, 1, 10, 0), want: at(2024, time.March, 2, 9, 0)},
		{name: "daily exactly at slot rolls", cfg: DefaultConfig(Daily), now: at(2024, time.March, 1, 9, 0), want: at(2024, time.March, 2, 9, 0)},
		{name: "daily month end", cfg: DefaultConfig(Daily), now: at(2024, time.February, 29, 23, 59), want: at(2024, time.March, 1, 9, 0)},
		{name: "weekly next monday", cfg: weekly(time.Monday), now: at(2024, time.March, 1, 8, 0), want: at(2024, time.March, 4, 9, 0)},
		{name: "weekly today stands", cfg: weekly(time.Friday), now: at(2024, time.March, 1, 8, 0), want: at(2024, time.March, 1, 9, 0)},
		{name: "weekly today passed rolls a week", cfg: weekly(time.Friday), now: at(2024, time.March, 1, 9, 30), want: at(2024, time.March, 8, 9, 0)},
		{name: "weekly sunday wraps", cfg: weekly(time.Sunday), now: at(2024, time.March, 1, 8, 0), want: at(2024, time.March, 3, 9, 0)},
		{name: "monthly passed rolls to next month", cfg: monthly(1), now: at(2024, time.March, 15, 0, 0), want: at(2024, time.April, 1, 9, 0)},
		{name: "monthly clamps to leap day", cfg: monthly(31), now: at(2024, time.February, 10, 0, 0), want: at(2024, time.February, 29, 9, 0)},
		{name: "monthly clamps non-leap february", cfg: monthly(30), now: at(2023, time.February, 1, 0, 0), want: at(2023, time.February, 28, 9, 0)},
		{name: "monthly clamp then restore", cfg: monthly(31), now: at(2024, time.February, 29, 9, 0), want: at(2024, time.March, 31, 9, 0)},
		{name: "monthly clamps next month", cfg: monthly(31), now: at(2024, time.March, 31, 10, 0), want: at(2024, time.April, 30, 9, 0)},
		{name: "monthly year wrap", cfg: monthly(15), now: at(2024, time.December, 20, 0, 0), want: at(2025, time.January, 15, 9, 0)},
		{name: "seconds are zeroed", cfg: DefaultConfig(Daily), now: time.Date(2024, time.March, 1, 8, 59, 59, 999, time.UTC), want: at(2024, time.March, 1, 9, 0)},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := Next(tt.cfg, tt.now)
			if err != nil {
				t.Fatalf("Next() error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("Next(%s, %s) = %s, want %s", tt.cfg.Describe(), tt.now, got, tt.want)
			}
		})
	}
}

func TestNextProperties(t *testing.T) {
	t.Parallel()
	cfgs := []Config{DefaultConfig(Daily), monthly(28), monthly(31), monthly(1)}
	for d := time.Sunday; d <= time.Saturday; d++ {
		cfgs = append(cfgs, weekly(d))
	}
	late := DefaultConfig(Daily)
	late.Time = TimeOfDay{Hour: 23, Minute: 45}
	cfgs = append(cfgs, late)

	start := at(2023, time.December, 25, 0, 0)
	for _, cfg := range cfgs {
		for i := 0; i < 600; i++ {
			now := start.Add(time.Duration(i) * (7*time.Hour + 13*time.Minute + 17*time.Second))

			got, err := Next(cfg, now)
			if err != nil {
				t.Fatalf("Next(%s) error: %v", cfg.Describe(), err)
			}
			if !got.After(now) {
				t.Fatalf("%s: Next(%s) = %s, not after now", cfg.Describe(), now, got)
			}
			if got.Hour() != cfg.Time.Hour || got.Minute() != cfg.Time.Minute || got.Second() != 0 || got.Nanosecond() != 0 {
				t.Fatalf("%s: Next(%s) = %s, wrong time of day", cfg.Describe(), now, got)
			}
			again, _ := Next(cfg, now)
			if !again.Equal(got) {
				t.Fatalf("%s: not deterministic: %s vs %s", cfg.Describe(), got, again)
			}
			switch cfg.Frequency {
			case Weekly:
				if got.Weekday() != cfg.DayOfWeek {
					t.Fatalf("%s: Next(%s) = %s, wrong weekday", cfg.Describe(), now, got)
				}
			case Monthly:
				if cfg.DayOfMonth <= 28 && got.Day() != cfg.DayOfMonth {
					t.Fatalf("%s: Next(%s) = %s, wrong day", cfg.Describe(), now, got)
				}
			}

			// Just before the slot, the slot itself is next.
			if prev, _ := Next(cfg, got.Add(-time.Second)); !prev.Equal(got) {
				t.Fatalf("%s: Next(%s - 1s) = %s, want %s", cfg.Describe(), got, prev, got)
			}
			// From the slot, exactly one period ahead.
			following, _ := Next(cfg, got)
			if want := onePeriodAfter(cfg, got); !following.Equal(want) {
				t.Fatalf("%s: Next(%s) = %s, want %s", cfg.Describe(), got, following, want)
			}
		}
	}
}

func onePeriodAfter(cfg Config, t time.Time) time.Time {
	switch cfg.Frequency {
	case Daily:
		return t.AddDate(0, 0, 1)
	case Weekly:
		return t.AddDate(0, 0, 7)
	default:
		next, _ := monthDayAt(t.Year(), t.Month()+1, cfg.DayOfMonth, cfg.Time, t.Location())
		return next
	}
}

func TestNextKeepsWallClockAcrossDST(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load tz: %v", err)
	}
	// DST starts 2024-03-10 02:00 local.
	now := time.Date(2024, time.March, 9, 10, 0, 0, 0, loc)
	got, err := Next(DefaultConfig(Daily), now)
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	want := time.Date(2024, time.March, 10, 9, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("Next() = %s, want %s", got, want)
	}
	if got.Sub(now) != 22*time.Hour {
		t.Fatalf("expected a 22h gap across the DST switch, got %s", got.Sub(now))
	}
}

func TestNextUsesLocationOfNow(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("Asia/Jakarta")
	if err != nil {
		t.Fatalf("load tz: %v", err)
	}
	// 2024-03-01 01:30 UTC is 08:30 in Jakarta.
	now := at(2024, time.March, 1, 1, 30).In(loc)
	got, err := Next(DefaultConfig(Daily), now)
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	if !got.Equal(at(2024, time.March, 1, 2, 0)) {
		t.Fatalf("Next() = %s, want 09:00 Jakarta on the same day", got)
	}
}

func TestNextInvalid(t *testing.T) {
	t.Parallel()
	bad := []struct {
		name  string
		cfg   Config
		field string
	}{
		{name: "empty frequency", cfg: Config{}, field: "frequency"},
		{name: "unknown frequency", cfg: DefaultConfig("hourly"), field: "frequency"},
		{name: "hour", cfg: Config{Frequency: Daily, Time: TimeOfDay{Hour: 24}}, field: "time.hour"},
		{name: "minute", cfg: Config{Frequency: Daily, Time: TimeOfDay{Minute: 60}}, field: "time.minute"},
		{name: "negative minute", cfg: Config{Frequency: Daily, Time: TimeOfDay{Minute: -1}}, field: "time.minute"},
		{name: "weekday", cfg: weekly(7), field: "day_of_week"},
		{name: "day of month zero", cfg: monthly(0), field: "day_of_month"},
		{name: "day of month 32", cfg: monthly(32), field: "day_of_month"},
	}
	for _, tt := range bad {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := Next(tt.cfg, at(2024, time.March, 1, 0, 0))
			if !errors.Is(err, ErrInvalidSchedule) {
				t.Fatalf("expected ErrInvalidSchedule, got %v", err)
			}
			var ise *InvalidScheduleError
			if !errors.As(err, &ise) {
				t.Fatalf("expected *InvalidScheduleError, got %T", err)
			}
			if ise.Field != tt.field {
				t.Fatalf("Field = %q, want %q", ise.Field, tt.field)
			}
		})
	}
}

func TestNextIgnoresOtherSelectors(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig(Daily)
	cfg.DayOfWeek = 42
	cfg.DayOfMonth = 99
	if _, err := Next(cfg, at(2024, time.March, 1, 0, 0)); err != nil {
		t.Fatalf("daily rule should ignore weekly/monthly selectors: %v", err)
	}
}

func TestNextDoesNotMutateInput(t *testing.T) {
	t.Parallel()
	sent := at(2024, time.March, 1, 9, 0)
	cfg := monthly(31)
	cfg.Recipients = []string{"a@example.com"}
	cfg.LastSent = &sent
	before := cfg
	if _, err := Next(cfg, at(2024, time.February, 10, 0, 0)); err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	if cfg.DayOfMonth != before.DayOfMonth || cfg.LastSent != before.LastSent || cfg.NextRun != nil || len(cfg.Recipients) != 1 {
		t.Fatalf("input mutated: %+v", cfg)
	}
}

func TestNextSkipsSlotInsideDSTGap(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("America/Santiago")
	if err != nil {
		t.Fatalf("load tz: %v", err)
	}
	// Clocks jump from 2024-09-08 00:00 to 01:00; midnight does not exist.
	now := time.Date(2024, time.September, 7, 23, 30, 0, 0, loc)
	midnight := TimeOfDay{Hour: 0, Minute: 0}

	daily := DefaultConfig(Daily)
	daily.Time = midnight
	sunday := weekly(time.Sunday)
	sunday.Time = midnight
	eighth := monthly(8)
	eighth.Time = midnight

	tests := []struct {
		name string
		cfg  Config
		want time.Time
	}{
		{"daily", daily, time.Date(2024, time.September, 9, 0, 0, 0, 0, loc)},
		{"weekly", sunday, time.Date(2024, time.September, 15, 0, 0, 0, 0, loc)},
		{"monthly", eighth, time.Date(2024, time.October, 8, 0, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		got, err := Next(tt.cfg, now)
		if err != nil {
			t.Fatalf("%s: Next() error: %v", tt.name, err)
		}
		if !got.Equal(tt.want) {
			t.Fatalf("%s: Next() = %s, want %s", tt.name, got, tt.want)
		}
		// An earlier now on the same evening must not yield 23:00 of the
		// 7th, which is where time.Date puts the missing midnight.
		early, _ := Next(tt.cfg, now.Add(-2*time.Hour))
		if !early.Equal(tt.want) {
			t.Fatalf("%s: Next(21:30) = %s, want %s", tt.name, early, tt.want)
		}
	}
}

func TestNextPropertiesAcrossDSTZones(t *testing.T) {
	t.Parallel()
	zones := []struct {
		name  string
		start time.Time
	}{
		{"America/Santiago", time.Date(2024, time.August, 25, 0, 0, 0, 0, time.UTC)},
		{"America/Sao_Paulo", time.Date(2011, time.October, 1, 0, 0, 0, 0, time.UTC)},
		{"Pacific/Apia", time.Date(2011, time.December, 20, 0, 0, 0, 0, time.UTC)},
		{"Australia/Lord_Howe", time.Date(2024, time.September, 25, 0, 0, 0, 0, time.UTC)},
		{"America/New_York", time.Date(2024, time.October, 28, 0, 0, 0, 0, time.UTC)},
	}
	var cfgs []Config
	for _, tod := range []TimeOfDay{{0, 0}, {0, 30}, {1, 45}, {2, 30}, {23, 59}} {
		d := DefaultConfig(Daily)
		d.Time = tod
		cfgs = append(cfgs, d)
		for dow := time.Sunday; dow <= time.Saturday; dow++ {
			w := weekly(dow)
			w.Time = tod
			cfgs = append(cfgs, w)
		}
		for _, dom := range []int{1, 8, 31} {
			m := monthly(dom)
			m.Time = tod
			cfgs = append(cfgs, m)
		}
	}

	for _, z := range zones {
		loc, err := time.LoadLocation(z.name)
		if err != nil {
			t.Fatalf("load tz %s: %v", z.name, err)
		}
		for i := 0; i < 21*24*2; i++ {
			now := z.start.Add(time.Duration(i) * 30 * time.Minute).In(loc)
			for _, cfg := range cfgs {
				got, err := Next(cfg, now)
				if err != nil {
					t.Fatalf("%s %s: Next() error: %v", z.name, cfg.Describe(), err)
				}
				if !got.After(now) {
					t.Fatalf("%s %s: Next(%s) = %s, not after now", z.name, cfg.Describe(), now, got)
				}
				if got.Hour() != cfg.Time.Hour || got.Minute() != cfg.Time.Minute {
					t.Fatalf("%s %s: Next(%s) = %s, wrong time of day", z.name, cfg.Describe(), now, got)
				}
				if cfg.Frequency == Weekly && got.Weekday() != cfg.DayOfWeek {
					t.Fatalf("%s %s: Next(%s) = %s, wrong weekday", z.name, cfg.Describe(), now, got)
				}
			}
		}
	}
}
