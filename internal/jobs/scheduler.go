// Package jobs runs background work on cron schedules.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ErrUnknownJob is returned by Run for an unregistered name.
var ErrUnknownJob = errors.New("unknown job")

// Func is the body of a job.
type Func func(ctx context.Context) error

type job struct {
	name     string
	schedule string
	fn       Func
}

// Scheduler keeps named jobs and runs them on their schedule or on demand.
type Scheduler struct {
	jobs    map[string]job
	log     zerolog.Logger
	timeout time.Duration
	cron    *cron.Cron
}

// NewScheduler creates a Scheduler. Each run is bounded by timeout.
func NewScheduler(log zerolog.Logger, timeout time.Duration) *Scheduler {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &Scheduler{jobs: make(map[string]job), log: log, timeout: timeout}
}

// Register adds a job. An empty schedule makes it runnable only on demand.
func (s *Scheduler) Register(name, schedule string, fn Func) {
	s.jobs[name] = job{name: name, schedule: schedule, fn: fn}
}

// Names lists the registered jobs.
func (s *Scheduler) Names() []string {
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes one job now and returns its error.
func (s *Scheduler) Run(ctx context.Context, name string) error {
	j, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(ctx, j)
}

func (s *Scheduler) run(ctx context.Context, j job) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	log := s.log.With().Str("job", j.name).Logger()
	ctx = log.WithContext(ctx)

	started := time.Now()
	log.Info().Msg("job started")
	err := j.fn(ctx)
	elapsed := time.Since(started)
	if err != nil {
		log.Error().Err(err).Dur("elapsed", elapsed).Msg("job failed")
		return err
	}
	log.Info().Dur("elapsed", elapsed).Msg("job finished")
	return nil
}

// Start schedules every job with a schedule. A run that is still going when
// its next tick fires is skipped. Job errors are logged only.
func (s *Scheduler) Start() error {
	logger := cronLogger{log: s.log}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(
		cron.Recover(logger),
		cron.SkipIfStillRunning(logger),
	))
	for _, name := range s.Names() {
		j := s.jobs[name]
		if j.schedule == "" {
			continue
		}
		if _, err := c.AddFunc(j.schedule, func() { _ = s.run(context.Background(), j) }); err != nil {
			return fmt.Errorf("scheduling %s (%q): %w", j.name, j.schedule, err)
		}
		s.log.Info().Str("job", j.name).Str("schedule", j.schedule).Msg("job scheduled")
	}
	c.Start()
	s.cron = c
	return nil
}

// Stop stops scheduling and waits for running jobs up to ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.log.Warn().Msg("jobs still running at shutdown")
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
