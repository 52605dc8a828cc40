package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"reportsched/internal/report"
	logx "reportsched/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.schedules.json    (snapshot, rewritten on every change)
//   - <prefix>.entries.jsonl     (append-only ledger)
//   - <prefix>.deliveries.jsonl  (append-only delivery log)
//
// Everything except the delivery log is held in memory.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	schedulesPath string
	schedules     map[string]report.ScheduledReport

	entriesFile *os.File
	entries     []report.Entry

	deliveriesFile *os.File

	now func() time.Time
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, persistErr("mkdir", err)
	}

	s := &fileStore{
		log:           log,
		schedulesPath: prefix + ".schedules.json",
		schedules:     map[string]report.ScheduledReport{},
		now:           time.Now,
	}
	if err := loadSnapshot(s.schedulesPath, s.schedules); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, persistErr("load schedules", err)
	}

	entriesPath := prefix + ".entries.jsonl"
	entries, err := replayEntries(entriesPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, persistErr("load entries", err)
	}
	s.entries = entries

	ef, err := os.OpenFile(entriesPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, persistErr("open entries", err)
	}
	df, err := os.OpenFile(prefix+".deliveries.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = ef.Close()
		return nil, persistErr("open deliveries", err)
	}
	s.entriesFile = ef
	s.deliveriesFile = df

	log.Debug("file store opened", logx.String("prefix", prefix), logx.Int("schedules", len(s.schedules)), logx.Int("entries", len(s.entries)))
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.entriesFile != nil {
		err1 = s.entriesFile.Close()
		s.entriesFile = nil
	}
	if s.deliveriesFile != nil {
		err2 = s.deliveriesFile.Close()
		s.deliveriesFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) ListSchedules(ctx context.Context, f ScheduleFilter) ([]report.ScheduledReport, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]report.ScheduledReport, 0, len(s.schedules))
	for _, r := range s.schedules {
		if f.Match(r) {
			out = append(out, cloneReport(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fileStore) GetSchedule(ctx context.Context, id string) (report.ScheduledReport, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.schedules[id]
	if !ok {
		return report.ScheduledReport{}, ErrNotFound
	}
	return cloneReport(r), nil
}

func (s *fileStore) PutSchedule(ctx context.Context, r report.ScheduledReport) error {
	_ = ctx
	if err := validateSchedule(r); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if prev, ok := s.schedules[r.ID]; ok {
		r.CreatedAt = prev.CreatedAt
	} else if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	old, had := s.schedules[r.ID]
	s.schedules[r.ID] = cloneReport(r)
	if err := s.writeSnapshotLocked(); err != nil {
		s.restoreLocked(r.ID, old, had)
		return persistErr("put schedule", err)
	}
	return nil
}

func (s *fileStore) UpdateSchedule(ctx context.Context, id string, p SchedulePatch) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.schedules[id]
	if !ok {
		return ErrNotFound
	}
	r := cloneReport(old)
	p.Apply(&r, s.now())
	s.schedules[id] = r
	if err := s.writeSnapshotLocked(); err != nil {
		s.restoreLocked(id, old, true)
		return persistErr("update schedule", err)
	}
	return nil
}

func (s *fileStore) DeleteSchedule(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.schedules[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.schedules, id)
	if err := s.writeSnapshotLocked(); err != nil {
		s.restoreLocked(id, old, true)
		return persistErr("delete schedule", err)
	}
	return nil
}

func (s *fileStore) restoreLocked(id string, old report.ScheduledReport, had bool) {
	if had {
		s.schedules[id] = old
	} else {
		delete(s.schedules, id)
	}
}

func (s *fileStore) PutEntry(ctx context.Context, e report.Entry) error {
	_ = ctx
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("entry id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entriesFile == nil {
		return persistErr("put entry", errors.New("entries file closed"))
	}
	if err := json.NewEncoder(s.entriesFile).Encode(e); err != nil {
		return persistErr("put entry", err)
	}
	s.entries = upsertEntry(s.entries, e)
	return nil
}

func (s *fileStore) ListEntries(ctx context.Context, f EntryFilter) ([]report.Entry, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]report.Entry, 0)
	for _, e := range s.entries {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

func (s *fileStore) AppendDelivery(ctx context.Context, d DeliveryRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deliveriesFile == nil {
		return persistErr("append delivery", errors.New("deliveries file closed"))
	}
	if d.At.IsZero() {
		d.At = s.now()
	}
	if err := json.NewEncoder(s.deliveriesFile).Encode(d); err != nil {
		return persistErr("append delivery", err)
	}
	return nil
}

func (s *fileStore) writeSnapshotLocked() error {
	list := make([]report.ScheduledReport, 0, len(s.schedules))
	for _, r := range s.schedules {
		list = append(list, r)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	tmp := s.schedulesPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(list); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.schedulesPath)
}

func loadSnapshot(path string, out map[string]report.ScheduledReport) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var list []report.ScheduledReport
	if err := json.NewDecoder(f).Decode(&list); err != nil {
		return err
	}
	for _, r := range list {
		out[r.ID] = r
	}
	return nil
}

// replayEntries reads the ledger journal; later lines with the same id win.
func replayEntries(path string) ([]report.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []report.Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var e report.Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		if e.ID == "" {
			continue
		}
		out = upsertEntry(out, e)
	}
	return out, sc.Err()
}

func upsertEntry(list []report.Entry, e report.Entry) []report.Entry {
	for i := range list {
		if list[i].ID == e.ID {
			list[i] = e
			return list
		}
	}
	return append(list, e)
}
