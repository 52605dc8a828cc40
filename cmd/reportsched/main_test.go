package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"reportsched/internal/app"
	"reportsched/internal/storage"
)

func TestRunNext(t *testing.T) {
	t.Parallel()

	cases := []struct {
		args []string
		want string
	}{
		{[]string{"-frequency", "daily", "-time", "09:00", "-now", "2024-03-10T08:00:00Z"}, "2024-03-10T09:00:00Z"},
		{[]string{"-frequency", "weekly", "-day-of-week", "mon", "-now", "2024-03-06T10:00:00Z"}, "2024-03-11T09:00:00Z"},
		{[]string{"-frequency", "monthly", "-day-of-month", "31", "-now", "2024-02-10T10:00:00Z"}, "2024-02-29T09:00:00Z"},
		{[]string{"-frequency", "daily", "-now", "2024-03-10T08:00:00Z", "-tz", "Asia/Jakarta"}, "2024-03-11T09:00:00+07:00"},
	}
	for _, tc := range cases {
		var out bytes.Buffer
		if err := runNext(&out, tc.args); err != nil {
			t.Fatalf("runNext(%v): %v", tc.args, err)
		}
		if got := strings.TrimSpace(out.String()); got != tc.want {
			t.Fatalf("runNext(%v)=%q want %q", tc.args, got, tc.want)
		}
	}
}

func TestRunNextCount(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	if err := runNext(&out, []string{"-frequency", "monthly", "-day-of-month", "31", "-now", "2024-01-31T10:00:00Z", "-n", "3"}); err != nil {
		t.Fatalf("runNext: %v", err)
	}
	want := "2024-02-29T09:00:00Z\n2024-03-31T09:00:00Z\n2024-04-30T09:00:00Z"
	if got := strings.TrimSpace(out.String()); got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestRunNextRejectsBadRule(t *testing.T) {
	t.Parallel()

	for _, args := range [][]string{
		{"-frequency", "hourly"},
		{"-time", "25:00"},
		{"-frequency", "monthly", "-day-of-month", "0"},
		{"-day-of-week", "funday"},
	} {
		var out bytes.Buffer
		if err := runNext(&out, args); err == nil {
			t.Fatalf("runNext(%v) accepted a bad rule", args)
		}
	}
}

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	body := "logging:\n  level: error\n" +
		"storage:\n  driver: file\n  path: " + filepath.Join(dir, "reports.json") + "\n" +
		"scheduler:\n  timezone: Asia/Jakarta\n" +
		"delivery:\n  dry_run: true\n"
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestScheduleLifecycleCommands(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfgPath := writeTestConfig(t)

	var out bytes.Buffer
	if err := runAdd(ctx, &out, []string{"-config", cfgPath, "-tenant", "t1", "-frequency", "weekly", "-day-of-week", "fri", "-to", "ops@example.com"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	id := strings.TrimSpace(out.String())
	if id == "" {
		t.Fatal("add printed no id")
	}

	enabled := func() bool {
		t.Helper()
		var got bool
		err := withComponents(ctx, cfgPath, func(c *app.Components) error {
			r, err := c.Store.GetSchedule(ctx, id)
			got = r.Schedule.Enabled
			return err
		})
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		return got
	}
	if !enabled() {
		t.Fatal("new schedule should be enabled")
	}
	if err := runSetEnabled(ctx, []string{"-config", cfgPath, "-id", id}, false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if enabled() {
		t.Fatal("disable did not persist")
	}
	if err := runSetEnabled(ctx, []string{"-config", cfgPath, "-id", id}, true); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if !enabled() {
		t.Fatal("enable did not persist")
	}

	if err := runDelete(ctx, []string{"-config", cfgPath, "-id", id}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := runDelete(ctx, []string{"-config", cfgPath, "-id", id}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("second delete err=%v want ErrNotFound", err)
	}
	if err := runSetEnabled(ctx, []string{"-config", cfgPath, "-id", id}, true); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("enable deleted err=%v want ErrNotFound", err)
	}
	if err := runDelete(ctx, []string{"-config", cfgPath}); err == nil {
		t.Fatal("delete without -id accepted")
	}
}

func TestEntryAndImportCommands(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfgPath := writeTestConfig(t)

	var out bytes.Buffer
	if err := runEntry(ctx, &out, []string{"-config", cfgPath, "-tenant", "t1", "-type", "income", "-amount", "1500.25", "-at", "2024-03-05", "-category", "sales"}); err != nil {
		t.Fatalf("entry: %v", err)
	}
	if strings.TrimSpace(out.String()) == "" {
		t.Fatal("entry printed no id")
	}
	if err := runEntry(ctx, &out, []string{"-config", cfgPath, "-tenant", "t1", "-type", "refund", "-amount", "1"}); err == nil {
		t.Fatal("entry accepted an unknown type")
	}

	csvPath := filepath.Join(t.TempDir(), "ledger.csv")
	csvBody := "at,type,amount,category\n" +
		"2024-03-06,expense,200.10,rent\n" +
		"2024-03-07T10:00:00+07:00,income,99,sales\n"
	if err := os.WriteFile(csvPath, []byte(csvBody), 0o600); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	out.Reset()
	if err := runImport(ctx, &out, []string{"-config", cfgPath, "-tenant", "t1", "-file", csvPath}); err != nil {
		t.Fatalf("import: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "imported 2 entries" {
		t.Fatalf("import output=%q", got)
	}

	var n int
	err := withComponents(ctx, cfgPath, func(c *app.Components) error {
		list, err := c.Store.ListEntries(ctx, storage.EntryFilter{TenantID: "t1"})
		n = len(list)
		for _, e := range list {
			// Date-only values are read in the scheduler timezone.
			if e.Category == "rent" && e.At.UTC().Hour() != 17 {
				t.Errorf("rent entry at %s, want midnight Asia/Jakarta", e.At)
			}
		}
		return err
	})
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if n != 3 {
		t.Fatalf("stored %d entries want 3", n)
	}
}
