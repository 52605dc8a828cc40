package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reportsched/internal/recurrence"
	"reportsched/internal/report"
	logx "reportsched/pkg/logx"
)

func drivers() []string { return []string{"file", "sqlite"} }

func openTestStore(t *testing.T, driver string) (Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reports.db")
	st, err := Open(Config{Driver: driver, Path: path, BusyTimeout: time.Second}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st, path
}

func sampleReport(id, tenant string, enabled bool, next *time.Time) report.ScheduledReport {
	cfg := recurrence.DefaultConfig(recurrence.Weekly)
	cfg.Enabled = enabled
	cfg.Recipients = []string{"ops@example.com"}
	cfg.NextRun = next
	return report.ScheduledReport{ID: id, TenantID: tenant, Name: "Weekly " + id, Kind: report.KindFinancialSummary, Schedule: cfg}
}

func ptr[T any](v T) *T { return &v }

func TestScheduleCRUD(t *testing.T) {
	for _, driver := range drivers() {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			st, _ := openTestStore(t, driver)

			base := time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)
			require.NoError(t, st.PutSchedule(ctx, sampleReport("b", "t1", true, ptr(base))))
			require.NoError(t, st.PutSchedule(ctx, sampleReport("a", "t1", true, nil)))
			require.NoError(t, st.PutSchedule(ctx, sampleReport("c", "t1", false, nil)))
			require.NoError(t, st.PutSchedule(ctx, sampleReport("d", "t2", true, ptr(base.Add(time.Hour)))))

			all, err := st.ListSchedules(ctx, ScheduleFilter{})
			require.NoError(t, err)
			require.Len(t, all, 4)
			assert.Equal(t, "a", all[0].ID)

			due, err := st.ListSchedules(ctx, ScheduleFilter{EnabledOnly: true, DueAt: base})
			require.NoError(t, err)
			ids := make([]string, 0, len(due))
			for _, r := range due {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, []string{"a", "b"}, ids)

			t2, err := st.ListSchedules(ctx, ScheduleFilter{TenantID: "t2"})
			require.NoError(t, err)
			require.Len(t, t2, 1)
			assert.Equal(t, "d", t2[0].ID)

			got, err := st.GetSchedule(ctx, "b")
			require.NoError(t, err)
			assert.Equal(t, recurrence.Weekly, got.Schedule.Frequency)
			assert.Equal(t, time.Monday, got.Schedule.DayOfWeek)
			assert.Equal(t, []string{"ops@example.com"}, got.Schedule.Recipients)
			require.NotNil(t, got.Schedule.NextRun)
			assert.True(t, got.Schedule.NextRun.Equal(base))
			assert.False(t, got.CreatedAt.IsZero())

			sent := base.Add(time.Minute)
			next := base.AddDate(0, 0, 7)
			require.NoError(t, st.UpdateSchedule(ctx, "b", SchedulePatch{LastSent: &sent, NextRun: &next, LastError: ptr("")}))
			got, err = st.GetSchedule(ctx, "b")
			require.NoError(t, err)
			assert.True(t, got.Schedule.LastSent.Equal(sent))
			assert.True(t, got.Schedule.NextRun.Equal(next))
			assert.True(t, got.Schedule.Enabled, "unset patch fields stay unchanged")

			due, err = st.ListSchedules(ctx, ScheduleFilter{EnabledOnly: true, DueAt: base})
			require.NoError(t, err)
			assert.Len(t, due, 1, "b is no longer due")

			require.NoError(t, st.UpdateSchedule(ctx, "b", SchedulePatch{Enabled: ptr(false)}))
			got, err = st.GetSchedule(ctx, "b")
			require.NoError(t, err)
			assert.False(t, got.Schedule.Enabled)

			require.NoError(t, st.DeleteSchedule(ctx, "c"))
			_, err = st.GetSchedule(ctx, "c")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, st.DeleteSchedule(ctx, "c"), ErrNotFound)
			assert.ErrorIs(t, st.UpdateSchedule(ctx, "missing", SchedulePatch{}), ErrNotFound)

			assert.Error(t, st.PutSchedule(ctx, report.ScheduledReport{TenantID: "t1"}))
		})
	}
}

func TestPutScheduleKeepsCreatedAt(t *testing.T) {
	for _, driver := range drivers() {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			st, _ := openTestStore(t, driver)

			r := sampleReport("a", "t1", true, nil)
			require.NoError(t, st.PutSchedule(ctx, r))
			first, err := st.GetSchedule(ctx, "a")
			require.NoError(t, err)

			r.Name = "renamed"
			r.CreatedAt = time.Time{}
			require.NoError(t, st.PutSchedule(ctx, r))
			second, err := st.GetSchedule(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, "renamed", second.Name)
			assert.True(t, first.CreatedAt.Equal(second.CreatedAt))
		})
	}
}

func TestEntriesAndDeliveries(t *testing.T) {
	for _, driver := range drivers() {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			st, _ := openTestStore(t, driver)

			from := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
			in := []report.Entry{
				{ID: "e1", TenantID: "t1", At: from, Type: report.Income, Category: "sales", Amount: decimal.RequireFromString("10.25")},
				{ID: "e2", TenantID: "t1", At: from.Add(24 * time.Hour), Type: report.Expense, Amount: decimal.NewFromInt(3)},
				{ID: "e3", TenantID: "t1", At: from.AddDate(0, 0, 7), Type: report.Income, Amount: decimal.NewFromInt(99)},
				{ID: "e4", TenantID: "t2", At: from, Type: report.Income, Amount: decimal.NewFromInt(1)},
			}
			for _, e := range in {
				require.NoError(t, st.PutEntry(ctx, e))
			}
			// Upsert by id.
			in[1].Amount = decimal.NewFromInt(4)
			require.NoError(t, st.PutEntry(ctx, in[1]))

			got, err := st.ListEntries(ctx, EntryFilter{TenantID: "t1", From: from, To: from.AddDate(0, 0, 7)})
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "e1", got[0].ID)
			assert.True(t, got[0].Amount.Equal(decimal.RequireFromString("10.25")))
			assert.True(t, got[1].Amount.Equal(decimal.NewFromInt(4)))

			require.NoError(t, st.AppendDelivery(ctx, DeliveryRecord{ReportID: "a", TenantID: "t1", Trigger: "manual", Recipients: []string{"x@example.com"}, OK: true}))
			require.NoError(t, st.AppendDelivery(ctx, DeliveryRecord{ReportID: "a", TenantID: "t1", Trigger: "schedule", OK: false, Error: "smtp down"}))
		})
	}
}

func TestFileStoreReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reports.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)

	next := time.Date(2024, time.April, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, st.PutSchedule(ctx, sampleReport("a", "t1", true, &next)))
	require.NoError(t, st.PutEntry(ctx, report.Entry{ID: "e1", TenantID: "t1", At: next, Type: report.Income, Amount: decimal.NewFromInt(5)}))
	require.NoError(t, st.PutEntry(ctx, report.Entry{ID: "e1", TenantID: "t1", At: next, Type: report.Income, Amount: decimal.NewFromInt(6)}))
	require.NoError(t, st.Close())

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	got, err := st.GetSchedule(ctx, "a")
	require.NoError(t, err)
	assert.True(t, got.Schedule.NextRun.Equal(next))

	entries, err := st.ListEntries(ctx, EntryFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Amount.Equal(decimal.NewFromInt(6)))
}

func TestListReturnsCopies(t *testing.T) {
	ctx := context.Background()
	st, _ := openTestStore(t, "file")
	next := time.Date(2024, time.April, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, st.PutSchedule(ctx, sampleReport("a", "t1", true, &next)))

	list, err := st.ListSchedules(ctx, ScheduleFilter{})
	require.NoError(t, err)
	list[0].Schedule.Recipients[0] = "mutated"
	*list[0].Schedule.NextRun = time.Time{}

	got, err := st.GetSchedule(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", got.Schedule.Recipients[0])
	assert.True(t, got.Schedule.NextRun.Equal(next))
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "mongo", Path: "x"}, logx.Nop())
	assert.Error(t, err)
	_, err = Open(Config{Driver: "file"}, logx.Nop())
	assert.Error(t, err)
}

func TestPersistenceError(t *testing.T) {
	err := persistErr("op", errors.New("disk full"))
	assert.ErrorIs(t, err, ErrPersistence)
	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "op", pe.Op)
	assert.Nil(t, persistErr("op", nil))
}
