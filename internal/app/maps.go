package app

import (
	"errors"
	"strings"
	"time"

	"reportsched/internal/config"
	"reportsched/internal/delivery"
	"reportsched/internal/dispatcher"
	"reportsched/internal/storage"
	logx "reportsched/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: busy,
	}, nil
}

func mapDispatcherConfig(cfg *config.Config) (dispatcher.Config, error) {
	sc := cfg.Scheduler
	interval, err := config.ParseDurationOrDefault("scheduler.check_interval", sc.CheckInterval, time.Minute)
	if err != nil {
		return dispatcher.Config{}, err
	}
	runTimeout, err := config.ParseDurationOrDefault("scheduler.run_timeout", sc.RunTimeout, 5*time.Minute)
	if err != nil {
		return dispatcher.Config{}, err
	}
	return dispatcher.Config{
		Enabled:       sc.Enabled,
		CheckInterval: interval,
		Timezone:      strings.TrimSpace(sc.Timezone),
		RunTimeout:    runTimeout,
	}, nil
}

func mapDeliveryConfig(cfg *config.Config) (delivery.Config, error) {
	dc := cfg.Delivery
	base, err := config.ParseDurationOrDefault("delivery.retry_base", dc.RetryBase, 500*time.Millisecond)
	if err != nil {
		return delivery.Config{}, err
	}
	maxDelay, err := config.ParseDurationOrDefault("delivery.retry_max_delay", dc.RetryMaxDelay, 30*time.Second)
	if err != nil {
		return delivery.Config{}, err
	}
	sendTimeout, err := config.ParseDurationOrDefault("delivery.send_timeout", dc.SendTimeout, 30*time.Second)
	if err != nil {
		return delivery.Config{}, err
	}
	return delivery.Config{
		DryRun:        dc.DryRun,
		From:          strings.TrimSpace(dc.From),
		RatePerSec:    dc.RatePerSec,
		RetryMax:      dc.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		SendTimeout:   sendTimeout,
		SMTP: delivery.SMTPConfig{
			Host:     strings.TrimSpace(dc.SMTP.Host),
			Port:     dc.SMTP.Port,
			Username: dc.SMTP.Username,
			Password: dc.SMTP.Password,
		},
		Telegram: delivery.TelegramConfig{
			Enabled: dc.Telegram.Enabled,
			Token:   strings.TrimSpace(dc.Telegram.Token),
		},
	}, nil
}

// checkReload rejects a reloaded config the live services could not take.
func checkReload(cfg *config.Config) error {
	_, derr := mapDeliveryConfig(cfg)
	_, serr := mapDispatcherConfig(cfg)
	return errors.Join(derr, serr)
}
