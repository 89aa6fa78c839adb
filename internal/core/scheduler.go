package core

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultErrorThreshold is the consecutive-failure count at which the sweep
// evicts a task.
const DefaultErrorThreshold = 30

// DefaultTimezone applies to specs that do not carry their own zone when the
// deployment configures none.
const DefaultTimezone = "Europe/Paris"

// schedulerParser accepts six-field specs so the clock can tick on second
// boundaries.
var schedulerParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// SchedulerOptions tune the tick/eviction loop. Zero values fall back to
// minute precision, the default timezone and the default error threshold.
type SchedulerOptions struct {
	Precision       Precision
	DefaultTimezone string
	ErrorThreshold  int64
	// OnEvicted is called after the sweep removed a task, for notification
	// purposes. May be nil.
	OnEvicted func(entity TaskEntity)
}

// Scheduler drives the periodic tick (select, trigger, persist) and the
// eviction sweep over one cron clock. The two callbacks are serialized by
// runMu and never overlap; the tick's internal work fans out on the shared
// pool but the callback blocks until the whole batch is persisted, so at
// most one tick is in flight at a time.
type Scheduler struct {
	crontab  *Crontab
	executor *TaskExecutor
	pool     *Pool
	logger   *slog.Logger

	precision       Precision
	defaultTimezone string
	errorThreshold  int64
	onEvicted       func(entity TaskEntity)

	cron      *cron.Cron
	runMu     sync.Mutex
	runCtx    context.Context
	runCancel context.CancelFunc
}

func NewScheduler(crontab *Crontab, executor *TaskExecutor, pool *Pool, logger *slog.Logger, opts SchedulerOptions) *Scheduler {
	if opts.Precision == "" {
		opts.Precision = PrecisionMinute
	}
	if opts.DefaultTimezone == "" {
		opts.DefaultTimezone = DefaultTimezone
	}
	if opts.ErrorThreshold <= 0 {
		opts.ErrorThreshold = DefaultErrorThreshold
	}
	return &Scheduler{
		crontab:         crontab,
		executor:        executor,
		pool:            pool,
		logger:          logger,
		precision:       opts.Precision,
		defaultTimezone: opts.DefaultTimezone,
		errorThreshold:  opts.ErrorThreshold,
		onEvicted:       opts.OnEvicted,
	}
}

// Start launches the clock. Cron specs land the tick exactly on the boundary
// of the precision unit; at minute precision the sweep runs on second 30,
// half a period out of phase with the tick.
func (s *Scheduler) Start(ctx context.Context) error {
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.cron = cron.New(cron.WithParser(schedulerParser), cron.WithLocation(time.UTC))

	tickSpec, sweepSpec := "0 * * * * *", "30 * * * * *"
	if s.precision == PrecisionSecond {
		tickSpec, sweepSpec = "* * * * * *", "* * * * * *"
	}
	if _, err := s.cron.AddFunc(tickSpec, s.checkedTick); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(sweepSpec, s.checkedSweep); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("started crontab scheduler",
		"precision", string(s.precision),
		"error_threshold", s.errorThreshold,
		"workers", s.pool.Size())
	return nil
}

// Stop requests graceful termination and waits up to grace for in-flight
// callbacks. If the clock does not die it forces cancellation of the run
// context and waits once more; failing that, the condition is reported as an
// error rather than swallowed.
func (s *Scheduler) Stop(grace time.Duration) error {
	if s.cron == nil {
		return nil
	}
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		s.runCancel()
		s.logger.Info("stopped crontab scheduler")
		return nil
	case <-time.After(grace):
	}

	s.logger.Warn("scheduler has not stopped on gentle request, forcing")
	s.runCancel()
	select {
	case <-stopCtx.Done():
		s.logger.Info("stopped crontab scheduler after forced cancellation")
		return nil
	case <-time.After(grace):
	}

	err := errors.New("unable to stop scheduler")
	s.logger.Error("GRAVE -- unable to stop scheduler")
	return err
}

// checkedTick is the outermost boundary for expected tick errors: everything
// is caught and logged so the next tick still runs.
func (s *Scheduler) checkedTick() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("tick panicked", "panic", r)
		}
	}()
	s.logger.Debug("tick")
	s.tick(s.runCtx)
}

func (s *Scheduler) tick(ctx context.Context) {
	selector := NewDateTimeTaskSelector(time.Now().UTC(), s.precision, s.defaultTimezone, s.logger)
	selectable := s.crontab.Selectable(selector, s.pool)
	if len(selectable) == 0 {
		return
	}
	executed := s.executor.Execute(ctx, selectable)
	for _, entity := range executed {
		if err := s.crontab.Update(ctx, entity, entity.Task); err != nil {
			s.logger.Error("error persisting task execution", "task", entity.ID, "err", err)
		}
	}
}

func (s *Scheduler) checkedSweep() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("eviction sweep panicked", "panic", r)
		}
	}()
	s.sweep(s.runCtx)
}

// sweep evicts tasks whose consecutive-failure count crossed the threshold.
func (s *Scheduler) sweep(ctx context.Context) {
	for _, entity := range s.crontab.Tasks() {
		if entity.Task.ErrorCount < s.errorThreshold {
			continue
		}
		s.logger.Info("task has reached the error threshold, removing from crontab",
			"task", entity.ID, "threshold", s.errorThreshold, "error_count", entity.Task.ErrorCount)
		if err := s.crontab.Delete(ctx, entity); err != nil {
			s.logger.Error("error cleaning failed task", "task", entity.ID, "err", err)
			continue
		}
		if s.onEvicted != nil {
			s.onEvicted(entity)
		}
	}
}
