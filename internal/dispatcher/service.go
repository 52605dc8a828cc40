package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"reportsched/internal/delivery"
	"reportsched/internal/recurrence"
	"reportsched/internal/report"
	"reportsched/internal/storage"
	logx "reportsched/pkg/logx"
)

const (
	defaultCheckInterval = time.Minute
	defaultRunTimeout    = 5 * time.Minute
)

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	loc    *time.Location
	store  Store
	sender Sender
	clock  func() time.Time

	c      *cron.Cron
	runCtx context.Context
}

type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.clock = now
		}
	}
}

func New(cfg Config, store Store, sender Sender, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:    log.With(logx.String("comp", "dispatcher")),
		store:  store,
		sender: sender,
		clock:  time.Now,
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
	return s
}

// Enabled reports the current config flag.
func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config; a running cron is restarted when the interval,
// timezone or enabled flag changes.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	old := s.cfg
	s.applyLocked(cfg)
	cur := s.cfg
	if s.runCtx == nil || (old.CheckInterval == cur.CheckInterval && old.Timezone == cur.Timezone && old.Enabled == cur.Enabled) {
		s.mu.Unlock()
		return
	}
	c := s.c
	s.c = nil
	s.mu.Unlock()

	// A running check needs s.mu, so drain outside the lock.
	waitCron(context.Background(), c)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx != nil && s.c == nil && s.cfg.Enabled {
		s.startCronLocked()
	}
	s.log.Info("dispatcher reconfigured", logx.Bool("enabled", s.cfg.Enabled), logx.Duration("interval", s.cfg.CheckInterval), logx.String("tz", s.loc.String()))
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = defaultCheckInterval
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = defaultRunTimeout
	}
	cfg.Timezone = strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg
	s.loc = s.loadLocation(cfg.Timezone)
}

func (s *Service) loadLocation(tz string) *time.Location {
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Start begins periodic checks. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx != nil {
		return
	}
	s.runCtx = ctx
	if !s.cfg.Enabled {
		s.log.Info("dispatcher disabled")
		return
	}
	s.startCronLocked()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Duration("interval", s.cfg.CheckInterval))
}

func (s *Service) startCronLocked() {
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	spec := "@every " + s.cfg.CheckInterval.String()
	if _, err := s.c.AddFunc(spec, s.tick); err != nil {
		s.log.Error("failed to register check job", logx.String("spec", spec), logx.Err(err))
	}
	s.c.Start()
}

// Stop waits for a running check to finish or ctx to expire.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.runCtx = nil
	s.mu.Unlock()

	waitCron(ctx, c)
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func waitCron(ctx context.Context, c *cron.Cron) {
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

func (s *Service) tick() {
	s.mu.Lock()
	parent := s.runCtx
	timeout := s.cfg.RunTimeout
	s.mu.Unlock()
	if parent == nil {
		return
	}

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	start := time.Now()
	st, err := s.CheckDue(ctx)
	fields := []logx.Field{
		logx.Int("checked", st.Checked),
		logx.Int("armed", st.Armed),
		logx.Int("sent", st.Sent),
		logx.Int("failed", st.Failed),
		logx.Int("invalid", st.Invalid),
		logx.Duration("took", time.Since(start)),
	}
	switch {
	case err != nil:
		s.log.Error("check failed", append(fields, logx.Err(err))...)
	case st.Checked > 0:
		s.log.Info("check done", fields...)
	default:
		s.log.Trace("check done", fields...)
	}
}

func (s *Service) now() time.Time {
	s.mu.Lock()
	loc := s.loc
	s.mu.Unlock()
	return s.clock().In(loc)
}

// CheckDue arms unarmed schedules and fires the due ones. Delivery and
// schedule errors are counted and recorded per report; the returned error
// carries store failures only.
func (s *Service) CheckDue(ctx context.Context) (RunStats, error) {
	var st RunStats
	now := s.now()

	list, err := s.store.ListSchedules(ctx, storage.ScheduleFilter{EnabledOnly: true, DueAt: now})
	if err != nil {
		return st, err
	}

	var errs []error
	for _, r := range list {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		st.Checked++

		if r.Schedule.NextRun == nil {
			err := s.arm(ctx, r, now)
			switch {
			case err == nil:
				st.Armed++
			case errors.Is(err, recurrence.ErrInvalidSchedule):
				st.Invalid++
			default:
				errs = append(errs, err)
			}
			continue
		}

		err := s.fire(ctx, r, now, TriggerSchedule)
		switch {
		case err == nil:
			st.Sent++
		case errors.Is(err, recurrence.ErrInvalidSchedule):
			st.Invalid++
		case errors.Is(err, delivery.ErrDelivery):
			st.Failed++
		default:
			st.Failed++
			errs = append(errs, err)
		}
	}
	return st, errors.Join(errs...)
}

// arm stores the first occurrence after now without sending.
func (s *Service) arm(ctx context.Context, r report.ScheduledReport, now time.Time) error {
	next, err := recurrence.Next(r.Schedule, now)
	if err != nil {
		s.recordInvalid(ctx, r, err)
		return err
	}
	if err := s.store.UpdateSchedule(ctx, r.ID, storage.SchedulePatch{NextRun: &next}); err != nil {
		return fmt.Errorf("arm %s: %w", r.ID, err)
	}
	s.log.Info("schedule armed", logx.String("report", r.ID), logx.String("rule", r.Schedule.Describe()), logx.Time("next_run", next))
	return nil
}

// SendNow delivers a report immediately, whatever its due state.
func (s *Service) SendNow(ctx context.Context, id string) error {
	r, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return err
	}
	return s.fire(ctx, r, s.now(), TriggerManual)
}

func (s *Service) fire(ctx context.Context, r report.ScheduledReport, now time.Time, trigger string) error {
	log := s.log.With(logx.String("report", r.ID), logx.String("tenant", r.TenantID), logx.String("trigger", trigger))

	next, err := recurrence.Next(r.Schedule, now)
	if err != nil {
		s.recordInvalid(ctx, r, err)
		return err
	}

	period := report.PeriodFor(r.Schedule.Frequency, now)
	entries, err := s.store.ListEntries(ctx, storage.EntryFilter{TenantID: r.TenantID, From: period.From, To: period.To})
	if err != nil {
		return fmt.Errorf("load entries for %s: %w", r.ID, err)
	}
	subject, body := report.Render(r, report.Summarize(entries, period))

	start := time.Now()
	sendErr := s.sender.SendEmail(ctx, r.Schedule.Recipients, subject, body)
	rec := storage.DeliveryRecord{
		At:         now,
		ReportID:   r.ID,
		TenantID:   r.TenantID,
		Trigger:    trigger,
		Recipients: append([]string(nil), r.Schedule.Recipients...),
		Subject:    subject,
		OK:         sendErr == nil,
		TookMS:     time.Since(start).Milliseconds(),
	}

	if sendErr != nil {
		rec.Error = sendErr.Error()
		log.Warn("report delivery failed", logx.Err(sendErr), logx.Int("recipients", len(r.Schedule.Recipients)))
		s.appendDelivery(ctx, log, rec)
		msg := sendErr.Error()
		if err := s.store.UpdateSchedule(ctx, r.ID, storage.SchedulePatch{LastError: &msg}); err != nil {
			log.Warn("failed to record delivery error", logx.Err(err))
		}
		return sendErr
	}

	empty := ""
	if err := s.store.UpdateSchedule(ctx, r.ID, storage.SchedulePatch{LastSent: &now, NextRun: &next, LastError: &empty}); err != nil {
		// Delivered but not recorded: the next tick will send again.
		log.Error("report sent but schedule update failed", logx.Err(err))
		s.appendDelivery(ctx, log, rec)
		return fmt.Errorf("update %s: %w", r.ID, err)
	}
	s.appendDelivery(ctx, log, rec)
	log.Info("report sent", logx.Int("recipients", len(r.Schedule.Recipients)), logx.Int("entries", len(entries)), logx.Time("next_run", next))
	return nil
}

func (s *Service) recordInvalid(ctx context.Context, r report.ScheduledReport, err error) {
	s.log.Warn("invalid schedule", logx.String("report", r.ID), logx.Err(err))
	msg := err.Error()
	if uerr := s.store.UpdateSchedule(ctx, r.ID, storage.SchedulePatch{LastError: &msg}); uerr != nil {
		s.log.Warn("failed to record schedule error", logx.String("report", r.ID), logx.Err(uerr))
	}
}

func (s *Service) appendDelivery(ctx context.Context, log logx.Logger, rec storage.DeliveryRecord) {
	if err := s.store.AppendDelivery(ctx, rec); err != nil {
		log.Warn("failed to append delivery record", logx.Err(err))
	}
}

// Preview returns the next n runs of a stored schedule, counted from now.
func (s *Service) Preview(ctx context.Context, id string, n int) ([]time.Time, error) {
	r, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	return recurrence.Upcoming(r.Schedule, s.now(), n)
}
