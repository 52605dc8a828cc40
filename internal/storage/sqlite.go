package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"reportsched/internal/report"
	logx "reportsched/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	now func() time.Time
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, persistErr("mkdir", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, persistErr("open", err)
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, now: time.Now}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, persistErr("migrate", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) ListSchedules(ctx context.Context, f ScheduleFilter) ([]report.ScheduledReport, error) {
	var (
		q    strings.Builder
		args []any
	)
	q.WriteString(`SELECT doc FROM schedules WHERE 1=1`)
	if f.TenantID != "" {
		q.WriteString(` AND tenant_id = ?`)
		args = append(args, f.TenantID)
	}
	if f.EnabledOnly {
		q.WriteString(` AND enabled = 1`)
	}
	if !f.DueAt.IsZero() {
		q.WriteString(` AND (next_run IS NULL OR next_run <= ?)`)
		args = append(args, f.DueAt.UnixMilli())
	}
	q.WriteString(` ORDER BY id`)

	rows, err := s.db.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, persistErr("list schedules", err)
	}
	defer rows.Close()

	var out []report.ScheduledReport
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, persistErr("list schedules", err)
		}
		var r report.ScheduledReport
		if err := json.Unmarshal([]byte(doc), &r); err != nil {
			return nil, persistErr("decode schedule", err)
		}
		// next_run is stored at millisecond precision; re-check against the document.
		if f.Match(r) {
			out = append(out, r)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list schedules", err)
	}
	return out, nil
}

func (s *sqliteStore) GetSchedule(ctx context.Context, id string) (report.ScheduledReport, error) {
	return s.getSchedule(ctx, s.db, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *sqliteStore) getSchedule(ctx context.Context, q queryer, id string) (report.ScheduledReport, error) {
	var doc string
	err := q.QueryRowContext(ctx, `SELECT doc FROM schedules WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return report.ScheduledReport{}, ErrNotFound
	}
	if err != nil {
		return report.ScheduledReport{}, persistErr("get schedule", err)
	}
	var r report.ScheduledReport
	if err := json.Unmarshal([]byte(doc), &r); err != nil {
		return report.ScheduledReport{}, persistErr("decode schedule", err)
	}
	return r, nil
}

func (s *sqliteStore) PutSchedule(ctx context.Context, r report.ScheduledReport) error {
	if err := validateSchedule(r); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("put schedule", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now()
	prev, err := s.getSchedule(ctx, tx, r.ID)
	switch {
	case err == nil:
		r.CreatedAt = prev.CreatedAt
	case errors.Is(err, ErrNotFound):
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
	default:
		return err
	}
	r.UpdatedAt = now

	if err := s.writeSchedule(ctx, tx, r); err != nil {
		return persistErr("put schedule", err)
	}
	return persistErr("put schedule", tx.Commit())
}

func (s *sqliteStore) UpdateSchedule(ctx context.Context, id string, p SchedulePatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("update schedule", err)
	}
	defer func() { _ = tx.Rollback() }()

	r, err := s.getSchedule(ctx, tx, id)
	if err != nil {
		return err
	}
	p.Apply(&r, s.now())
	if err := s.writeSchedule(ctx, tx, r); err != nil {
		return persistErr("update schedule", err)
	}
	return persistErr("update schedule", tx.Commit())
}

func (s *sqliteStore) writeSchedule(ctx context.Context, tx *sql.Tx, r report.ScheduledReport) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return err
	}
	var next any
	if r.Schedule.NextRun != nil {
		next = r.Schedule.NextRun.UnixMilli()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO schedules(id, tenant_id, enabled, next_run, doc) VALUES(?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET tenant_id=excluded.tenant_id, enabled=excluded.enabled,
		 next_run=excluded.next_run, doc=excluded.doc`,
		r.ID, r.TenantID, r.Schedule.Enabled, next, string(doc),
	)
	return err
}

func (s *sqliteStore) DeleteSchedule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return persistErr("delete schedule", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistErr("delete schedule", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) PutEntry(ctx context.Context, e report.Entry) error {
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("entry id required")
	}
	doc, err := json.Marshal(e)
	if err != nil {
		return persistErr("put entry", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entries(id, tenant_id, at, doc) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET tenant_id=excluded.tenant_id, at=excluded.at, doc=excluded.doc`,
		e.ID, e.TenantID, e.At.UnixMilli(), string(doc),
	)
	return persistErr("put entry", err)
}

func (s *sqliteStore) ListEntries(ctx context.Context, f EntryFilter) ([]report.Entry, error) {
	var (
		q    strings.Builder
		args []any
	)
	q.WriteString(`SELECT doc FROM entries WHERE 1=1`)
	if f.TenantID != "" {
		q.WriteString(` AND tenant_id = ?`)
		args = append(args, f.TenantID)
	}
	if !f.From.IsZero() {
		q.WriteString(` AND at >= ?`)
		args = append(args, f.From.UnixMilli())
	}
	if !f.To.IsZero() {
		q.WriteString(` AND at <= ?`)
		args = append(args, f.To.UnixMilli())
	}
	q.WriteString(` ORDER BY at, id`)

	rows, err := s.db.QueryContext(ctx, q.String(), args...)
	if err != nil {
		return nil, persistErr("list entries", err)
	}
	defer rows.Close()

	out := make([]report.Entry, 0)
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, persistErr("list entries", err)
		}
		var e report.Entry
		if err := json.Unmarshal([]byte(doc), &e); err != nil {
			return nil, persistErr("decode entry", err)
		}
		if f.Match(e) {
			out = append(out, e)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list entries", err)
	}
	return out, nil
}

func (s *sqliteStore) AppendDelivery(ctx context.Context, d DeliveryRecord) error {
	if d.At.IsZero() {
		d.At = s.now()
	}
	rcpt, err := json.Marshal(d.Recipients)
	if err != nil {
		return persistErr("append delivery", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO deliveries(at, report_id, tenant_id, trigger_kind, recipients, subject, ok, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		d.At.Format(time.RFC3339Nano), d.ReportID, d.TenantID, d.Trigger, string(rcpt), d.Subject,
		d.OK, nullStr(d.Error), d.TookMS,
	)
	return persistErr("append delivery", err)
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
