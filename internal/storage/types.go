package storage

import (
	"errors"
	"fmt"
	"time"

	"reportsched/internal/report"
)

var (
	ErrPersistence = errors.New("persistence failure")
	ErrNotFound    = errors.New("schedule not found")
)

// PersistenceError wraps a backend failure. It matches ErrPersistence.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrPersistence, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (json snapshot + jsonl)
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// ScheduleFilter selects schedules. Zero fields do not filter.
type ScheduleFilter struct {
	TenantID    string
	EnabledOnly bool
	// DueAt keeps schedules whose NextRun is unset or not after DueAt.
	DueAt time.Time
}

func (f ScheduleFilter) Match(r report.ScheduledReport) bool {
	if f.TenantID != "" && r.TenantID != f.TenantID {
		return false
	}
	if f.EnabledOnly && !r.Schedule.Enabled {
		return false
	}
	if !f.DueAt.IsZero() && r.Schedule.NextRun != nil && r.Schedule.NextRun.After(f.DueAt) {
		return false
	}
	return true
}

// SchedulePatch is a partial update. Nil fields are left unchanged.
type SchedulePatch struct {
	NextRun   *time.Time
	LastSent  *time.Time
	Enabled   *bool
	LastError *string
}

// Apply writes the set fields into r and stamps UpdatedAt.
func (p SchedulePatch) Apply(r *report.ScheduledReport, now time.Time) {
	if p.NextRun != nil {
		v := *p.NextRun
		r.Schedule.NextRun = &v
	}
	if p.LastSent != nil {
		v := *p.LastSent
		r.Schedule.LastSent = &v
	}
	if p.Enabled != nil {
		r.Schedule.Enabled = *p.Enabled
	}
	if p.LastError != nil {
		r.LastError = *p.LastError
	}
	r.UpdatedAt = now
}

// EntryFilter selects ledger entries in [From, To). Zero bounds are open.
type EntryFilter struct {
	TenantID string
	From     time.Time
	To       time.Time
}

func (f EntryFilter) Match(e report.Entry) bool {
	if f.TenantID != "" && e.TenantID != f.TenantID {
		return false
	}
	if !f.From.IsZero() && e.At.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.At.Before(f.To) {
		return false
	}
	return true
}

// DeliveryRecord is one line of the delivery log.
// Keep it compact and schema-stable.
type DeliveryRecord struct {
	At         time.Time `json:"at"`
	ReportID   string    `json:"report_id"`
	TenantID   string    `json:"tenant_id"`
	Trigger    string    `json:"trigger"` // "schedule" | "manual"
	Recipients []string  `json:"recipients"`
	Subject    string    `json:"subject"`
	OK         bool      `json:"ok"`
	Error      string    `json:"error,omitempty"`
	TookMS     int64     `json:"took_ms"`
}

func cloneReport(r report.ScheduledReport) report.ScheduledReport {
	out := r
	if r.Schedule.Recipients != nil {
		out.Schedule.Recipients = append([]string(nil), r.Schedule.Recipients...)
	}
	if r.Schedule.NextRun != nil {
		v := *r.Schedule.NextRun
		out.Schedule.NextRun = &v
	}
	if r.Schedule.LastSent != nil {
		v := *r.Schedule.LastSent
		out.Schedule.LastSent = &v
	}
	return out
}
