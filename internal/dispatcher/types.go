package dispatcher

import (
	"context"
	"time"

	"reportsched/internal/report"
	"reportsched/internal/storage"
)

// Config controls the dispatcher.
type Config struct {
	Enabled       bool
	CheckInterval time.Duration
	Timezone      string // IANA TZ, e.g. "Asia/Jakarta"; empty means Local
	RunTimeout    time.Duration
}

// Store is the subset of storage.Store the dispatcher needs.
type Store interface {
	ListSchedules(ctx context.Context, f storage.ScheduleFilter) ([]report.ScheduledReport, error)
	GetSchedule(ctx context.Context, id string) (report.ScheduledReport, error)
	UpdateSchedule(ctx context.Context, id string, p storage.SchedulePatch) error
	ListEntries(ctx context.Context, f storage.EntryFilter) ([]report.Entry, error)
	AppendDelivery(ctx context.Context, d storage.DeliveryRecord) error
}

// Sender delivers a rendered report.
type Sender interface {
	SendEmail(ctx context.Context, to []string, subject, body string) error
}

// RunStats summarizes one CheckDue pass.
type RunStats struct {
	Checked int
	Armed   int
	Sent    int
	Failed  int
	Invalid int
}

const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)
