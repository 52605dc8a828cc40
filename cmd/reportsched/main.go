// Command reportsched runs the scheduled-report daemon and offers a few
// operator subcommands against the same store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"
	_ "time/tzdata"

	"reportsched/internal/app"
	"reportsched/internal/config"
	"reportsched/internal/recurrence"
	"reportsched/internal/report"
	"reportsched/internal/storage"
	logx "reportsched/pkg/logx"
)

const usage = `usage: reportsched <command> [flags]

commands:
  run      run the scheduler daemon
  next     compute the next run of a rule (no config needed)
  list     list stored schedules
  add      store a new scheduled report
  send     send a stored report now
  preview  show upcoming runs of a stored report
  enable   enable a stored report
  disable  disable a stored report
  delete   delete a stored report
  entry    record one ledger entry
  import   import ledger entries from CSV (header: at,type,amount[,category,note,id])
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	switch cmd {
	case "run":
		err = runDaemon(ctx, args)
	case "next":
		err = runNext(os.Stdout, args)
	case "list":
		err = runList(ctx, os.Stdout, args)
	case "add":
		err = runAdd(ctx, os.Stdout, args)
	case "send":
		err = runSend(ctx, args)
	case "preview":
		err = runPreview(ctx, os.Stdout, args)
	case "enable", "disable":
		err = runSetEnabled(ctx, args, cmd == "enable")
	case "delete":
		err = runDelete(ctx, args)
	case "entry":
		err = runEntry(ctx, os.Stdout, args)
	case "import":
		err = runImport(ctx, os.Stdout, args)
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		logx.NewConsole("info").Error("command failed", logx.String("cmd", cmd), logx.Err(err))
		os.Exit(1)
	}
}

func configFlag(fs *flag.FlagSet) *string {
	return fs.String("config", "./config.yaml", "path to config (json or yaml, see config.example.yaml)")
}

func runDaemon(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	cfgPath := configFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := app.New(*cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		return err
	}
	return a.Err()
}

// ruleFlags binds the recurrence flags shared by next and add.
type ruleFlags struct {
	frequency, at, dow string
	dom                int
}

func (r *ruleFlags) bind(fs *flag.FlagSet) {
	fs.StringVar(&r.frequency, "frequency", "weekly", recurrence.FrequencyNames())
	fs.StringVar(&r.at, "time", "09:00", "time of day, HH:MM")
	fs.StringVar(&r.dow, "day-of-week", "monday", "weekday for weekly rules (name or 0-6, 0=Sunday)")
	fs.IntVar(&r.dom, "day-of-month", recurrence.DefaultDayOfMonth, "day for monthly rules (1-31, clamped to month end)")
}

func (r *ruleFlags) config() (recurrence.Config, error) {
	freq, err := recurrence.ParseFrequency(r.frequency)
	if err != nil {
		return recurrence.Config{}, err
	}
	cfg := recurrence.DefaultConfig(freq)
	if cfg.Time, err = recurrence.ParseTimeOfDay(r.at); err != nil {
		return recurrence.Config{}, err
	}
	if cfg.DayOfWeek, err = recurrence.ParseWeekday(r.dow); err != nil {
		return recurrence.Config{}, err
	}
	cfg.DayOfMonth = r.dom
	return cfg, recurrence.Validate(cfg)
}

func runNext(w io.Writer, args []string) error {
	fs := flag.NewFlagSet("next", flag.ContinueOnError)
	var rf ruleFlags
	rf.bind(fs)
	nowRaw := fs.String("now", "", "reference instant, RFC3339 (default: current time)")
	tz := fs.String("tz", "", "IANA timezone for the computation (default: Local, or the offset of -now)")
	count := fs.Int("n", 1, "number of runs to print")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := rf.config()
	if err != nil {
		return err
	}
	now := time.Now()
	if *nowRaw != "" {
		if now, err = time.Parse(time.RFC3339, *nowRaw); err != nil {
			return fmt.Errorf("-now: %w", err)
		}
	}
	if *tz != "" {
		loc, err := time.LoadLocation(*tz)
		if err != nil {
			return fmt.Errorf("-tz: %w", err)
		}
		now = now.In(loc)
	}

	runs, err := recurrence.Upcoming(cfg, now, *count)
	if err != nil {
		return err
	}
	for _, t := range runs {
		fmt.Fprintln(w, t.Format(time.RFC3339))
	}
	return nil
}

// withComponents loads the config and builds the service graph for a
// one-shot command.
func withComponents(ctx context.Context, cfgPath string, fn func(c *app.Components) error) error {
	return withConfig(ctx, cfgPath, func(_ *config.Config, c *app.Components) error { return fn(c) })
}

func withConfig(ctx context.Context, cfgPath string, fn func(cfg *config.Config, c *app.Components) error) error {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return err
	}
	log := logx.NewConsole(cfg.Logging.Level)
	comps, err := app.Build(cfg, log)
	if err != nil {
		return err
	}
	defer comps.Close()
	return fn(cfg, comps)
}

func runList(ctx context.Context, w io.Writer, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	cfgPath := configFlag(fs)
	tenant := fs.String("tenant", "", "only this tenant")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return withComponents(ctx, *cfgPath, func(c *app.Components) error {
		list, err := c.Store.ListSchedules(ctx, storage.ScheduleFilter{TenantID: *tenant})
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTENANT\tNAME\tRULE\tENABLED\tNEXT RUN\tLAST SENT\tLAST ERROR")
		for _, r := range list {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\t%s\t%s\n",
				r.ID, r.TenantID, r.Name, r.Schedule.Describe(), r.Schedule.Enabled,
				fmtTime(r.Schedule.NextRun), fmtTime(r.Schedule.LastSent), r.LastError)
		}
		return tw.Flush()
	})
}

func fmtTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func runAdd(ctx context.Context, w io.Writer, args []string) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	cfgPath := configFlag(fs)
	var rf ruleFlags
	rf.bind(fs)
	tenant := fs.String("tenant", "", "tenant id (required)")
	name := fs.String("name", "Financial summary", "report name")
	subject := fs.String("subject", "", "mail subject (default: name and date)")
	to := fs.String("to", "", "comma separated recipients: emails or telegram:<chat_id>")
	disabled := fs.Bool("disabled", false, "store the schedule disabled")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*tenant) == "" {
		return errors.New("-tenant is required")
	}

	sched, err := rf.config()
	if err != nil {
		return err
	}
	sched.Enabled = !*disabled
	for _, r := range strings.Split(*to, ",") {
		if r = strings.TrimSpace(r); r != "" {
			sched.Recipients = append(sched.Recipients, r)
		}
	}

	r := report.ScheduledReport{
		ID:       report.NewID(),
		TenantID: strings.TrimSpace(*tenant),
		Name:     strings.TrimSpace(*name),
		Kind:     report.KindFinancialSummary,
		Subject:  strings.TrimSpace(*subject),
		Schedule: sched,
	}
	return withComponents(ctx, *cfgPath, func(c *app.Components) error {
		if err := c.Store.PutSchedule(ctx, r); err != nil {
			return err
		}
		fmt.Fprintln(w, r.ID)
		return nil
	})
}

func runSend(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	cfgPath := configFlag(fs)
	id := fs.String("id", "", "report id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("-id is required")
	}
	return withComponents(ctx, *cfgPath, func(c *app.Components) error {
		return c.Dispatcher.SendNow(ctx, *id)
	})
}

func runPreview(ctx context.Context, w io.Writer, args []string) error {
	fs := flag.NewFlagSet("preview", flag.ContinueOnError)
	cfgPath := configFlag(fs)
	id := fs.String("id", "", "report id (required)")
	n := fs.Int("n", 5, "number of runs")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("-id is required")
	}
	return withComponents(ctx, *cfgPath, func(c *app.Components) error {
		runs, err := c.Dispatcher.Preview(ctx, *id, *n)
		if err != nil {
			return err
		}
		for _, t := range runs {
			fmt.Fprintln(w, t.Format(time.RFC3339))
		}
		return nil
	})
}

// idFlag parses a command whose only input besides -config is -id.
func idFlag(name string, args []string) (cfgPath, id string, err error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	p := configFlag(fs)
	fs.StringVar(&id, "id", "", "report id (required)")
	if err := fs.Parse(args); err != nil {
		return "", "", err
	}
	if strings.TrimSpace(id) == "" {
		return "", "", errors.New("-id is required")
	}
	return *p, strings.TrimSpace(id), nil
}

func runSetEnabled(ctx context.Context, args []string, enabled bool) error {
	name := "disable"
	if enabled {
		name = "enable"
	}
	cfgPath, id, err := idFlag(name, args)
	if err != nil {
		return err
	}
	return withComponents(ctx, cfgPath, func(c *app.Components) error {
		return c.Store.UpdateSchedule(ctx, id, storage.SchedulePatch{Enabled: &enabled})
	})
}

func runDelete(ctx context.Context, args []string) error {
	cfgPath, id, err := idFlag("delete", args)
	if err != nil {
		return err
	}
	return withComponents(ctx, cfgPath, func(c *app.Components) error {
		return c.Store.DeleteSchedule(ctx, id)
	})
}

func runEntry(ctx context.Context, w io.Writer, args []string) error {
	fs := flag.NewFlagSet("entry", flag.ContinueOnError)
	cfgPath := configFlag(fs)
	id := fs.String("id", "", "entry id (default: generated; reusing an id replaces the entry)")
	tenant := fs.String("tenant", "", "tenant id (required)")
	typ := fs.String("type", "", "income or expense (required)")
	amount := fs.String("amount", "", "non-negative decimal amount (required)")
	at := fs.String("at", "", "RFC3339 time or YYYY-MM-DD in the scheduler timezone (default: now)")
	category := fs.String("category", "", "category")
	note := fs.String("note", "", "free-text note")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return withConfig(ctx, *cfgPath, func(cfg *config.Config, c *app.Components) error {
		when := *at
		if strings.TrimSpace(when) == "" {
			when = time.Now().Format(time.RFC3339)
		}
		e, err := report.NewEntry(*id, *tenant, when, *typ, *amount, *category, *note, location(cfg))
		if err != nil {
			return err
		}
		if err := c.Store.PutEntry(ctx, e); err != nil {
			return err
		}
		fmt.Fprintln(w, e.ID)
		return nil
	})
}

func runImport(ctx context.Context, w io.Writer, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	cfgPath := configFlag(fs)
	tenant := fs.String("tenant", "", "tenant id (required)")
	file := fs.String("file", "", "CSV file, - for stdin (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("-file is required")
	}
	var in io.Reader = os.Stdin
	if *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	return withConfig(ctx, *cfgPath, func(cfg *config.Config, c *app.Components) error {
		entries, err := report.ReadEntriesCSV(in, *tenant, location(cfg))
		if err != nil {
			return err
		}
		for i, e := range entries {
			if err := c.Store.PutEntry(ctx, e); err != nil {
				return fmt.Errorf("entry %d of %d: %w", i+1, len(entries), err)
			}
		}
		fmt.Fprintf(w, "imported %d entries\n", len(entries))
		return nil
	})
}

// location is the scheduler timezone; config validation already rejected
// unknown names.
func location(cfg *config.Config) *time.Location {
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	return time.Local
}
