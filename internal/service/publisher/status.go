package publisher

import (
	"math"
	"sync"
	"time"
)

type State string

const (
	StateIdle          State = "idle"
	StateInitializing  State = "initializing"
	StateRunning       State = "running"
	StateCompleted     State = "completed"
	StateAborted       State = "aborted"
	StateCriticalError State = "critical_error"
)

// SystemDestination names run level errors in the status.
const SystemDestination = "SYSTEM"

type RunError struct {
	Destination string    `json:"group"`
	Error       string    `json:"error"`
	Time        time.Time `json:"time"`
}

// Status is a snapshot of the current or last run.
type Status struct {
	State           State      `json:"state"`
	IsPublishing    bool       `json:"is_publishing"`
	CurrentStep     string     `json:"current_step"`
	TotalGroups     int        `json:"total_groups"`
	CompletedGroups int        `json:"completed_groups"`
	SucceededGroups int        `json:"succeeded_groups"`
	CurrentGroup    string     `json:"current_group"`
	StartTime       *time.Time `json:"start_time"`
	LastUpdate      *time.Time `json:"last_update"`
	Errors          []RunError `json:"errors"`
	ProgressPercent float64    `json:"progress_percent"`
}

// statusTracker guards the run status. Readers always get a deep copy.
type statusTracker struct {
	mu     sync.RWMutex
	status Status
	now    func() time.Time
}

func newStatusTracker(now func() time.Time) *statusTracker {
	return &statusTracker{
		status: Status{State: StateIdle, Errors: []RunError{}},
		now:    now,
	}
}

func (t *statusTracker) snapshot() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := t.status
	s.Errors = append([]RunError{}, t.status.Errors...)
	if t.status.StartTime != nil {
		start := *t.status.StartTime
		s.StartTime = &start
	}
	if t.status.LastUpdate != nil {
		last := *t.status.LastUpdate
		s.LastUpdate = &last
	}
	if s.TotalGroups > 0 {
		s.ProgressPercent = math.Round(float64(s.CompletedGroups)/float64(s.TotalGroups)*1000) / 10
	}
	return s
}

func (t *statusTracker) update(fn func(s *Status)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.status)
	now := t.now()
	t.status.LastUpdate = &now
}

func (t *statusTracker) begin() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.status = Status{
		State:        StateInitializing,
		IsPublishing: true,
		CurrentStep:  "Initializing",
		StartTime:    &now,
		LastUpdate:   &now,
		Errors:       []RunError{},
	}
}

func (t *statusTracker) addError(destination, msg string) {
	t.update(func(s *Status) {
		s.Errors = append(s.Errors, RunError{Destination: destination, Error: msg, Time: t.now()})
	})
}

// resetIfIdle clears the last run unless one is in progress.
func (t *statusTracker) resetIfIdle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.IsPublishing {
		return false
	}
	t.status = Status{State: StateIdle, Errors: []RunError{}}
	return true
}
