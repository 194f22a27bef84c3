package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ifuryst/postpilot/internal/models"
	"github.com/ifuryst/postpilot/internal/repository"
	"github.com/ifuryst/postpilot/internal/service/publisher"
)

// ErrInvalidInterval is returned for intervals outside the allowed range.
var ErrInvalidInterval = errors.New("invalid post interval")

const stopTimeout = 5 * time.Second

// Runner performs publication runs.
type Runner interface {
	Run(ctx context.Context) (publisher.State, error)
	Abort()
}

// ScheduleStore is the part of the repository the scheduler reads its
// trigger from.
type ScheduleStore interface {
	GetIntervalMinutes(ctx context.Context) (int, error)
	SetIntervalMinutes(ctx context.Context, minutes int) error
	GetActiveSchedule(ctx context.Context) (*models.Schedule, error)
}

type SchedulerStatus struct {
	IsRunning bool       `json:"is_running"`
	NextRun   *time.Time `json:"next_run"`
	Trigger   string     `json:"trigger"`
}

// Scheduler owns the single recurring trigger that starts publication runs.
type Scheduler struct {
	store  ScheduleStore
	runner Runner
	loc    *time.Location
	logger *zap.Logger

	mu       sync.Mutex
	cron     *cron.Cron
	entryID  cron.EntryID
	job      cron.Job
	schedule cron.Schedule
	trigger  string
	stopRuns context.CancelFunc

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
}

func NewScheduler(store ScheduleStore, runner Runner, loc *time.Location, logger *zap.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:      store,
		runner:     runner,
		loc:        loc,
		logger:     logger.Named("scheduler"),
		baseCtx:    ctx,
		baseCancel: cancel,
	}
}

// Start installs the trigger. Calling Start on a running scheduler is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return nil
	}

	sched, trigger, err := s.resolveTrigger(ctx)
	if err != nil {
		return err
	}

	cronLogger := cronLogAdapter{s.logger.Sugar()}
	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	runCtx, stopRuns := context.WithCancel(s.baseCtx)
	s.job = cron.FuncJob(func() { s.fire(runCtx) })
	s.stopRuns = stopRuns
	s.entryID = c.Schedule(sched, s.job)
	s.schedule = sched
	s.trigger = trigger
	s.cron = c
	c.Start()

	s.logger.Info("Scheduler started", zap.String("trigger", trigger))
	return nil
}

// Stop removes the trigger and aborts a run in progress, including one
// started by PostNow. On a stopped scheduler only the abort applies.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	if c == nil {
		s.mu.Unlock()
		s.runner.Abort()
		s.logger.Debug("Scheduler already stopped")
		return
	}
	c.Remove(s.entryID)
	stopRuns := s.stopRuns
	s.cron = nil
	s.entryID = 0
	s.job = nil
	s.schedule = nil
	s.trigger = ""
	s.stopRuns = nil
	s.mu.Unlock()

	done := c.Stop()
	stopRuns()
	s.runner.Abort()

	select {
	case <-done.Done():
	case <-time.After(stopTimeout):
		s.logger.Warn("Timed out waiting for the scheduled run to stop")
	}
	s.logger.Info("Scheduler stopped")
}

// UpdateInterval validates and stores the interval and, when running,
// replaces the trigger.
func (s *Scheduler) UpdateInterval(ctx context.Context, minutes int) error {
	if err := validateIntervalMinutes(minutes); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInterval, err)
	}
	if err := s.store.SetIntervalMinutes(ctx, minutes); err != nil {
		return err
	}
	s.logger.Info("Post interval updated", zap.Int("minutes", minutes))
	return s.Reschedule(ctx)
}

// Reschedule swaps the trigger for the one currently configured. The old
// entry is removed before the new one is added, so the two never both fire.
func (s *Scheduler) Reschedule(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return nil
	}
	sched, trigger, err := s.resolveTrigger(ctx)
	if err != nil {
		return err
	}
	s.cron.Remove(s.entryID)
	s.entryID = s.cron.Schedule(sched, s.job)
	s.schedule = sched
	s.trigger = trigger

	s.logger.Info("Trigger replaced", zap.String("trigger", trigger))
	return nil
}

// PostNow starts a run outside the timer. The run waits for any run in
// progress. The returned channel receives the final state.
func (s *Scheduler) PostNow() <-chan publisher.State {
	result := make(chan publisher.State, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		state, err := s.runner.Run(s.baseCtx)
		if err != nil {
			s.logger.Warn("Immediate run did not start", zap.Error(err))
		}
		result <- state
	}()
	return result
}

func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := SchedulerStatus{Trigger: s.trigger}
	if s.cron == nil || s.entryID == 0 {
		return status
	}
	status.IsRunning = true

	next := s.cron.Entry(s.entryID).Next
	if next.IsZero() && s.schedule != nil {
		next = s.schedule.Next(time.Now().In(s.loc))
	}
	if !next.IsZero() {
		status.NextRun = &next
	}
	return status
}

// Close stops the scheduler and cancels immediate runs.
func (s *Scheduler) Close() {
	s.Stop()
	s.baseCancel()
	s.wg.Wait()
}

func (s *Scheduler) fire(ctx context.Context) {
	s.logger.Info("Scheduled run triggered")
	state, err := s.runner.Run(ctx)
	if err != nil {
		s.logger.Warn("Scheduled run did not start", zap.Error(err))
		return
	}
	s.logger.Info("Scheduled run finished", zap.String("state", string(state)))
}

// resolveTrigger prefers the active schedule and falls back to the stored
// interval.
func (s *Scheduler) resolveTrigger(ctx context.Context) (cron.Schedule, string, error) {
	active, err := s.store.GetActiveSchedule(ctx)
	switch {
	case err == nil:
		sched, trigger, buildErr := BuildSchedule(active, s.loc)
		if buildErr == nil {
			return sched, trigger, nil
		}
		s.logger.Warn("Active schedule is invalid, using the interval",
			zap.Uint("schedule_id", active.ID), zap.Error(buildErr))
	case !errors.Is(err, repository.ErrNotFound):
		return nil, "", fmt.Errorf("failed to load active schedule: %w", err)
	}

	minutes, err := s.store.GetIntervalMinutes(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load interval: %w", err)
	}
	if err := validateIntervalMinutes(minutes); err != nil {
		s.logger.Warn("Stored interval is out of range, using the default",
			zap.Int("minutes", minutes), zap.Error(err))
		minutes = models.DefaultIntervalMinutes
	}
	return IntervalSchedule(minutes), fmt.Sprintf("every %d minutes", minutes), nil
}

// cronLogAdapter routes cron's logging into zap.
type cronLogAdapter struct {
	log *zap.SugaredLogger
}

func (a cronLogAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.log.Debugw(msg, keysAndValues...)
}

func (a cronLogAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	a.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
