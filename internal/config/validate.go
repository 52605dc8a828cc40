package config

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	logx "reportsched/pkg/logx"
)

// Validate checks values the strict decoder cannot. All problems are
// reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if !logx.ValidLevel(cfg.Logging.Level) {
		add("logging.level: unknown level %q", cfg.Logging.Level)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "file", "sqlite", "sqlite3":
	default:
		add("storage.driver: unknown driver %q", cfg.Storage.Driver)
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		add("storage.path: required")
	}
	durations := []struct{ path, raw string }{
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"scheduler.check_interval", cfg.Scheduler.CheckInterval},
		{"scheduler.run_timeout", cfg.Scheduler.RunTimeout},
		{"delivery.retry_base", cfg.Delivery.RetryBase},
		{"delivery.retry_max_delay", cfg.Delivery.RetryMaxDelay},
		{"delivery.send_timeout", cfg.Delivery.SendTimeout},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			errs = append(errs, err)
		}
	}
	if iv, err := ParseDurationField("scheduler.check_interval", cfg.Scheduler.CheckInterval); err == nil && iv > 0 && iv < time.Second {
		add("scheduler.check_interval: must be at least 1s")
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("scheduler.timezone: %v", err)
		}
	}

	d := cfg.Delivery
	if d.RatePerSec < 0 {
		add("delivery.rate_per_sec: must be >= 0")
	}
	if d.RetryMax < 0 {
		add("delivery.retry_max: must be >= 0")
	}
	if strings.TrimSpace(d.SMTP.Host) != "" {
		if _, err := mail.ParseAddress(d.From); err != nil {
			add("delivery.from: %v", err)
		}
	}
	if d.SMTP.Port < 0 || d.SMTP.Port > 65535 {
		add("delivery.smtp.port: out of range")
	}
	if d.Telegram.Enabled && strings.TrimSpace(d.Telegram.Token) == "" {
		add("delivery.telegram.token: required when telegram is enabled")
	}
	return errors.Join(errs...)
}
