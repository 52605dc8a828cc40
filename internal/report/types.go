// Package report holds scheduled report definitions and builds their bodies
// from the tenant's financial ledger.
package report

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"reportsched/internal/recurrence"
)

// Kind selects what a report contains.
type Kind string

const (
	KindFinancialSummary Kind = "financial_summary"
)

// ScheduledReport is a report definition with its recurrence schedule.
type ScheduledReport struct {
	ID       string            `json:"id"`
	TenantID string            `json:"tenant_id"`
	Name     string            `json:"name"`
	Kind     Kind              `json:"kind"`
	Subject  string            `json:"subject,omitempty"`
	Schedule recurrence.Config `json:"schedule"`

	// LastError is the most recent failure recorded by the dispatcher.
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewID returns a fresh identifier for reports and ledger entries.
func NewID() string { return uuid.NewString() }

// EntryType distinguishes money in from money out.
type EntryType string

const (
	Income  EntryType = "income"
	Expense EntryType = "expense"
)

// Entry is one ledger row. Amount is always non-negative; Type carries the sign.
type Entry struct {
	ID       string          `json:"id"`
	TenantID string          `json:"tenant_id"`
	At       time.Time       `json:"at"`
	Type     EntryType       `json:"type"`
	Category string          `json:"category,omitempty"`
	Amount   decimal.Decimal `json:"amount"`
	Note     string          `json:"note,omitempty"`
}

// CategoryOrUncategorized returns the trimmed category or "uncategorized".
func (e Entry) CategoryOrUncategorized() string {
	c := strings.TrimSpace(e.Category)
	if c == "" {
		return "uncategorized"
	}
	return c
}

// Period is the half-open interval [From, To).
type Period struct {
	From time.Time
	To   time.Time
}

func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.From) && t.Before(p.To)
}

// PeriodFor returns the window a report triggered at end covers: the
// previous day, 7 days or calendar month.
func PeriodFor(freq recurrence.Frequency, end time.Time) Period {
	switch freq {
	case recurrence.Weekly:
		return Period{From: end.AddDate(0, 0, -7), To: end}
	case recurrence.Monthly:
		return Period{From: monthBefore(end), To: end}
	default:
		return Period{From: end.AddDate(0, 0, -1), To: end}
	}
}

// monthBefore is t one calendar month earlier, clamped to the end of the
// shorter month (Mar 31 -> Feb 29) instead of overflowing like AddDate.
func monthBefore(t time.Time) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m-1, 1, 0, 0, 0, 0, t.Location())
	last := time.Date(first.Year(), first.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
