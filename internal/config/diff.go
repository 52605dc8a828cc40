package config

import (
	"sort"
	"strings"

	logx "reportsched/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and safe structured
// fields for the reload log. Secrets are reported as "set" flags only.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Storage is only read at startup; report it so operators know a restart is due.
	if strings.TrimSpace(oldCfg.Storage.Driver) != strings.TrimSpace(newCfg.Storage.Driver) ||
		strings.TrimSpace(oldCfg.Storage.Path) != strings.TrimSpace(newCfg.Storage.Path) ||
		strings.TrimSpace(oldCfg.Storage.BusyTimeout) != strings.TrimSpace(newCfg.Storage.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.restart_required", true),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.check_interval", strings.TrimSpace(newCfg.Scheduler.CheckInterval)),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	od, nd := oldCfg.Delivery, newCfg.Delivery
	if od != nd {
		changed = append(changed, "delivery")
		attrs = append(attrs,
			logx.Bool("delivery.dry_run", nd.DryRun),
			logx.Int("delivery.rate_per_sec", nd.RatePerSec),
			logx.Int("delivery.retry_max", nd.RetryMax),
			logx.String("delivery.smtp_host", strings.TrimSpace(nd.SMTP.Host)),
			logx.Bool("delivery.smtp_password_set", nd.SMTP.Password != ""),
			logx.Bool("delivery.telegram_enabled", nd.Telegram.Enabled),
			logx.Bool("delivery.telegram_token_changed", od.Telegram.Token != nd.Telegram.Token),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
