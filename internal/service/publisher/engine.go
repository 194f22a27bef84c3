package publisher

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/ifuryst/postpilot/internal/models"
	"github.com/ifuryst/postpilot/internal/service/content"
)

var ErrRunInProgress = errors.New("a publication run is already in progress")

type Options struct {
	MaxAttempts int
	RetryDelay  time.Duration
	MinDelay    time.Duration
	MaxDelay    time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxAttempts: 3,
		RetryDelay:  5 * time.Second,
		MinDelay:    30 * time.Second,
		MaxDelay:    120 * time.Second,
	}
}

// Engine performs publication runs: one pass over every active destination
// in insertion order. At most one run executes at a time.
type Engine struct {
	repo    Repository
	content ContentProvider
	gateway Gateway
	opts    Options
	logger  *zap.Logger

	sem    *semaphore.Weighted
	status *statusTracker

	mu      sync.Mutex
	nextID  uint64
	cancels map[uint64]context.CancelFunc

	now    func() time.Time
	jitter func(low, high time.Duration) time.Duration
}

func NewEngine(repo Repository, provider ContentProvider, gateway Gateway, opts Options, logger *zap.Logger) *Engine {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Engine{
		repo:    repo,
		content: provider,
		gateway: gateway,
		opts:    opts,
		logger:  logger.Named("publisher"),
		sem:     semaphore.NewWeighted(1),
		status:  newStatusTracker(time.Now),
		cancels: make(map[uint64]context.CancelFunc),
		now:     time.Now,
		jitter:  randomDelay,
	}
}

// Run waits for any run in progress to finish, then runs once. The run is
// abortable from the moment Run is called, including while it waits.
func (e *Engine) Run(ctx context.Context) (State, error) {
	ctx, cancel := context.WithCancel(ctx)
	id := e.register(cancel)
	defer e.unregister(id)

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return StateIdle, fmt.Errorf("waiting for publication run: %w", err)
	}
	defer e.sem.Release(1)
	if err := ctx.Err(); err != nil {
		return StateIdle, fmt.Errorf("publication run cancelled: %w", err)
	}
	return e.runOnce(ctx), nil
}

// Abort cancels the run in progress and any run waiting to start. Records
// committed so far are kept.
func (e *Engine) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, cancel := range e.cancels {
		cancel()
	}
}

func (e *Engine) register(cancel context.CancelFunc) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	e.cancels[e.nextID] = cancel
	return e.nextID
}

func (e *Engine) unregister(id uint64) {
	e.mu.Lock()
	cancel := e.cancels[id]
	delete(e.cancels, id)
	e.mu.Unlock()
	cancel()
}

func (e *Engine) Status() Status {
	return e.status.snapshot()
}

func (e *Engine) Busy() bool {
	return e.status.snapshot().IsPublishing
}

// ResetStatus returns the status to idle. It refuses while publishing.
func (e *Engine) ResetStatus() error {
	if !e.status.resetIfIdle() {
		return ErrRunInProgress
	}
	return nil
}

func (e *Engine) runOnce(ctx context.Context) State {
	e.status.begin()
	e.logger.Info("Publication run started")

	state := e.execute(ctx)

	e.status.update(func(s *Status) {
		s.State = state
		s.IsPublishing = false
		s.CurrentGroup = ""
		s.CurrentStep = finalStep(state, len(s.Errors))
	})
	final := e.status.snapshot()
	e.logger.Info("Publication run finished",
		zap.String("state", string(state)),
		zap.Int("total", final.TotalGroups),
		zap.Int("completed", final.CompletedGroups),
		zap.Int("succeeded", final.SucceededGroups),
		zap.Int("errors", len(final.Errors)))
	return state
}

func (e *Engine) execute(ctx context.Context) (state State) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Publication run panicked", zap.Any("panic", r))
			e.status.addError(SystemDestination, fmt.Sprintf("critical error: %v", r))
			state = StateCriticalError
		}
	}()

	e.status.update(func(s *Status) { s.CurrentStep = "Loading destinations" })
	dests, err := e.repo.ListActiveDestinations(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return StateAborted
		}
		e.logger.Error("Failed to list destinations", zap.Error(err))
		e.status.addError(SystemDestination, fmt.Sprintf("critical error: %v", err))
		return StateCriticalError
	}
	if len(dests) == 0 {
		e.logger.Warn("No destinations to publish to")
		return StateCompleted
	}

	total := len(dests)
	e.status.update(func(s *Status) {
		s.State = StateRunning
		s.TotalGroups = total
		s.CurrentStep = fmt.Sprintf("Publishing to %d destinations", total)
	})

	post := e.content.Resolve(ctx)

	for i, dest := range dests {
		if ctx.Err() != nil {
			return StateAborted
		}

		name := dest.DisplayName()
		e.status.update(func(s *Status) {
			s.CurrentGroup = name
			s.CurrentStep = fmt.Sprintf("Posting %d/%d: %s", i+1, total, name)
		})

		result := e.publishOne(ctx, dest, post)
		if result == nil {
			return StateAborted
		}
		e.status.update(func(s *Status) {
			s.CompletedGroups++
			if result.Success {
				s.SucceededGroups++
			}
		})

		if i < total-1 {
			delay := e.jitter(e.opts.MinDelay, e.opts.MaxDelay)
			e.status.update(func(s *Status) {
				s.CurrentStep = fmt.Sprintf("Waiting %s before next destination", delay.Round(time.Second))
			})
			if !sleep(ctx, delay) {
				return StateAborted
			}
		}
	}
	return StateCompleted
}

// publishOne delivers the post to dest with bounded retries and records the
// outcome. It returns nil when the run was aborted before an outcome was
// known; nothing is recorded in that case.
func (e *Engine) publishOne(ctx context.Context, dest models.Destination, post content.Post) (result *PublishResult) {
	name := dest.DisplayName()
	logger := e.logger.With(zap.String("destination", dest.ChatID), zap.String("title", name))
	// Writes after a confirmed outcome must land even if the run is aborted.
	store := context.WithoutCancel(ctx)

	attempts := 0
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic while publishing: %v", r)
			logger.Error("Publishing panicked", zap.Any("panic", r))
			e.recordFailure(store, dest, attempts, err)
			result = &PublishResult{Destination: dest.ChatID, Attempts: attempts, Error: err}
		}
	}()

	msg := Message{
		Text:      e.content.Render(post.Text, dest.ChatID, dest.Title),
		ImagePath: post.ImagePath,
	}

	err := retry.Do(
		func() error {
			attempts++
			return e.gateway.Send(ctx, dest.Target(), msg)
		},
		retry.Attempts(uint(e.opts.MaxAttempts)),
		retry.Delay(e.opts.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("Delivery failed, retrying",
				zap.Uint("attempt", n+1),
				zap.Bool("permanent", IsPermanent(err)),
				zap.Error(err))
		}),
	)

	if err == nil {
		now := e.now()
		if err := e.repo.MarkPublished(store, dest.ChatID, now); err != nil {
			logger.Error("Failed to mark destination published", zap.Error(err))
		}
		e.appendHistory(store, &models.PublicationRecord{
			DestinationID:     dest.ChatID,
			DestinationTitle:  dest.Title,
			DestinationHandle: dest.Handle,
			Status:            models.PublicationSuccess,
			PublishedAt:       now,
			RetryCount:        attempts,
		})
		logger.Info("Post delivered", zap.Int("attempts", attempts))
		return &PublishResult{Destination: dest.ChatID, Success: true, Attempts: attempts, PublishedAt: now}
	}

	if ctx.Err() != nil {
		logger.Info("Delivery interrupted by abort", zap.Int("attempts", attempts))
		return nil
	}

	e.recordFailure(store, dest, attempts, err)
	return &PublishResult{Destination: dest.ChatID, Attempts: attempts, Error: err}
}

// recordFailure writes the error history row, reports the error in the
// status and prunes the destination.
func (e *Engine) recordFailure(ctx context.Context, dest models.Destination, attempts int, cause error) {
	name := dest.DisplayName()
	msg := cause.Error()
	e.appendHistory(ctx, &models.PublicationRecord{
		DestinationID:     dest.ChatID,
		DestinationTitle:  dest.Title,
		DestinationHandle: dest.Handle,
		Status:            models.PublicationError,
		ErrorMessage:      &msg,
		PublishedAt:       e.now(),
		RetryCount:        attempts,
	})
	e.status.addError(name, fmt.Sprintf("failed to publish to %s after %d attempts: %s", name, attempts, msg))

	removed, err := e.repo.RemoveDestination(ctx, dest.ChatID)
	if err != nil {
		e.logger.Error("Failed to remove unreachable destination",
			zap.String("destination", dest.ChatID), zap.Error(err))
		return
	}
	e.logger.Warn("Destination removed after failed delivery",
		zap.String("destination", dest.ChatID),
		zap.Bool("removed", removed),
		zap.Bool("permanent", IsPermanent(cause)),
		zap.Int("attempts", attempts),
		zap.Error(cause))
}

func (e *Engine) appendHistory(ctx context.Context, record *models.PublicationRecord) {
	if err := e.repo.AppendHistory(ctx, record); err != nil {
		e.logger.Error("Failed to append publication history",
			zap.String("destination", record.DestinationID), zap.Error(err))
	}
}

func finalStep(state State, errCount int) string {
	switch state {
	case StateCompleted:
		if errCount == 0 {
			return "Completed"
		}
		return fmt.Sprintf("Completed with %d errors", errCount)
	case StateAborted:
		return "Aborted"
	case StateCriticalError:
		return "Critical error"
	default:
		return string(state)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// randomDelay returns a uniform duration in [low, high].
func randomDelay(low, high time.Duration) time.Duration {
	if high <= low {
		return low
	}
	return low + rand.N(high-low+1)
}
