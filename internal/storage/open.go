package storage

import (
	"context"
	"errors"
	"strings"

	"reportsched/internal/report"
	logx "reportsched/pkg/logx"
)

// Store is the persistence API used by the dispatcher and the CLI.
type Store interface {
	ListSchedules(ctx context.Context, f ScheduleFilter) ([]report.ScheduledReport, error)
	GetSchedule(ctx context.Context, id string) (report.ScheduledReport, error)
	PutSchedule(ctx context.Context, r report.ScheduledReport) error
	UpdateSchedule(ctx context.Context, id string, p SchedulePatch) error
	DeleteSchedule(ctx context.Context, id string) error

	PutEntry(ctx context.Context, e report.Entry) error
	ListEntries(ctx context.Context, f EntryFilter) ([]report.Entry, error)

	AppendDelivery(ctx context.Context, d DeliveryRecord) error
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

func validateSchedule(r report.ScheduledReport) error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("schedule id required")
	}
	if strings.TrimSpace(r.TenantID) == "" {
		return errors.New("tenant id required")
	}
	return nil
}
