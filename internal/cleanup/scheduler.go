package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/robfig/cron/v3"

	"github.com/muliwe/botmon/internal/config"
)

// DefaultSchedule runs the cleanup every day at 03:00:00 UTC
const DefaultSchedule = "0 0 3 * * *"

// cronLogger adapts a pterm logger to cron.Logger
type cronLogger struct {
	l *pterm.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, c.l.Args(keysAndValues...))
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, c.l.Args(append(keysAndValues, "error", err)...))
}

// Scheduler runs a Cleaner periodically
type Scheduler struct {
	cron    *cron.Cron
	cleaner *Cleaner
	log     *pterm.Logger
	spec    string
	entry   cron.EntryID
}

// NewScheduler registers the cleaner on spec. An empty spec uses
// DefaultSchedule. Both five and six field specs are accepted.
func NewScheduler(cleaner *Cleaner, spec string, l *pterm.Logger) (*Scheduler, error) {
	if l == nil {
		l = cleaner.log
	}
	if spec == "" {
		spec = DefaultSchedule
	}

	cl := cronLogger{l: l}
	s := &Scheduler{
		cron: cron.New(
			cron.WithParser(cron.NewParser(config.CronFields)),
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(
				cron.Recover(cl),
				cron.SkipIfStillRunning(cl),
			),
		),
		cleaner: cleaner,
		log:     l,
		spec:    spec,
	}

	id, err := s.cron.AddFunc(spec, s.run)
	if err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", spec, err)
	}
	s.entry = id
	return s, nil
}

func (s *Scheduler) run() {
	if _, err := s.cleaner.Clean(context.Background()); err != nil {
		s.log.Error("Cleanup failed", s.log.Args("dir", s.cleaner.Dir(), "error", err))
	}
}

// Start starts the scheduler in its own goroutine
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("Cleanup scheduler started", s.log.Args("schedule", s.spec, "next", s.Next()))
}

// Next returns the next planned run, or the zero time before Start
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// Stop stops the scheduler and waits for a running cleanup until ctx is done
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info("Cleanup scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
