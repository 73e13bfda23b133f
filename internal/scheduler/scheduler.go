// Package scheduler fires dispatch sweeps on a cron schedule for the
// long-running serve mode.
//
// Schedules use the standard five-field cron syntax or descriptors such as
// "@every 1m" and "@hourly". A tick that arrives while the previous sweep
// is still running is skipped. Each sweep is bounded by the run timeout.
// Stop lets an in-flight sweep finish its due set. Canceling a sweep only
// stops it from taking further reminders; what it processed is committed.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/medcia/medreminder/internal/services"
)

// Runner performs one sweep. *services.Dispatcher satisfies it.
type Runner interface {
	Run(ctx context.Context) (*services.Report, error)
}

var parser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule validates a schedule expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	s, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid DISPATCH_SCHEDULE %q: %w", expr, err)
	}
	return s, nil
}

// Scheduler owns the cron loop.
type Scheduler struct {
	runner  Runner
	timeout time.Duration
	logger  zerolog.Logger

	cron  *cronlib.Cron
	job   cronlib.Job
	entry cronlib.EntryID

	// ctx parents every sweep; cancel is only used when Stop gives up.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
}

// New parses expr and prepares the loop. timeout <= 0 leaves sweeps
// unbounded.
func New(expr string, runner Runner, timeout time.Duration, logger zerolog.Logger) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.New("scheduler: runner is required")
	}
	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}

	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		runner:  runner,
		timeout: timeout,
		logger:  logger,
		cron:    cronlib.New(cronlib.WithParser(parser), cronlib.WithLogger(cl)),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.job = cronlib.NewChain(cronlib.Recover(cl), cronlib.SkipIfStillRunning(cl)).Then(cronlib.FuncJob(s.fire))
	s.entry = s.cron.Schedule(sched, s.job)
	return s, nil
}

// Start launches the loop in its own goroutine. It is a no-op when already
// started.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.logger.Info().Time("next", s.Next()).Msg("dispatch scheduler started")
}

// Next returns the next planned sweep, or the zero time before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// Stop halts the loop and waits for an in-flight sweep. When ctx ends first
// the sweep is canceled and ctx's error returned.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop().Done()
	select {
	case <-done:
		s.logger.Info().Msg("dispatch scheduler stopped")
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		s.logger.Warn().Msg("dispatch scheduler stopped with a canceled sweep")
		return ctx.Err()
	}
}

// fire runs one sweep. Errors are logged; the loop keeps going.
func (s *Scheduler) fire() {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	_, err := s.runner.Run(ctx)
	switch {
	case err == nil:
	case errors.Is(err, services.ErrRunInProgress):
		s.logger.Info().Msg("scheduled sweep skipped: another run holds the claim")
	default:
		s.logger.Error().Err(err).Msg("scheduled sweep failed")
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Str("component", "cron").Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Str("component", "cron").Msg(msg)
}
