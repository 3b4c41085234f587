package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hephaestus-forge/hephaestus/pkg/auth"
	"github.com/hephaestus-forge/hephaestus/pkg/telemetry"
)

var (
	// ErrNotFound means the task id is unknown (or already collected).
	ErrNotFound = errors.New("task not found")
	// ErrAccessDenied means the caller may not observe the task.
	ErrAccessDenied = errors.New("access to task denied")
	// ErrAtCapacity means the registry is full even after collecting
	// expired terminal tasks.
	ErrAtCapacity = errors.New("task registry at capacity")
)

// TimeoutError reports an expired wait deadline.
type TimeoutError struct {
	TaskID string
	After  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %s did not complete within %s", e.TaskID, e.After)
}

// Options bound the manager. Zero values take the documented defaults.
type Options struct {
	Capacity       int           // max concurrent + retained tasks, default 100
	Retention      time.Duration // how long terminal tasks stay visible, default 1h
	DefaultTimeout time.Duration // per-task execution deadline, default 5m
}

func (o Options) withDefaults() Options {
	if o.Capacity <= 0 {
		o.Capacity = 100
	}
	if o.Retention <= 0 {
		o.Retention = time.Hour
	}
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = 5 * time.Minute
	}
	return o
}

// Manager owns the task registry. The mutex brackets pure state updates
// only; execution and waits never hold it.
type Manager struct {
	opts    Options
	emitter *telemetry.Emitter

	mu    sync.Mutex
	tasks map[string]*task
}

// NewManager creates a Manager with the given bounds.
func NewManager(opts Options, emitter *telemetry.Emitter) *Manager {
	return &Manager{
		opts:    opts.withDefaults(),
		emitter: emitter,
		tasks:   make(map[string]*task),
	}
}

// DefaultTimeout exposes the per-task deadline for adapters that need to
// bound request waits and stream deadlines to it.
func (m *Manager) DefaultTimeout() time.Duration {
	return m.opts.DefaultTimeout
}

// CreateOptions customise a single task.
type CreateOptions struct {
	Timeout       time.Duration // falls back to the manager default
	Principal     *auth.Principal
	RequiredRoles []auth.Role
}

// Create registers a task and launches fn in its own goroutine. It fails
// when name is empty or the registry is full after a GC pass.
func (m *Manager) Create(ctx context.Context, name string, fn Func, opts CreateOptions) (string, error) {
	if name == "" {
		return "", fmt.Errorf("task name must not be empty")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = m.opts.DefaultTimeout
	}

	id := uuid.New().String()
	execCtx, cancel := context.WithCancel(context.Background())

	t := &task{
		id:            id,
		name:          name,
		state:         StatePending,
		createdAt:     time.Now().UTC(),
		cancel:        cancel,
		requiredRoles: opts.RequiredRoles,
	}
	if opts.Principal != nil {
		t.principalID = opts.Principal.Name
	}

	m.mu.Lock()
	if len(m.tasks) >= m.opts.Capacity {
		m.collectLocked(m.opts.Retention)
	}
	if len(m.tasks) >= m.opts.Capacity {
		m.mu.Unlock()
		cancel()
		return "", ErrAtCapacity
	}
	m.tasks[id] = t
	m.mu.Unlock()

	if m.emitter != nil {
		_ = m.emitter.Emit(ctx, "task.created", map[string]any{
			"task_id": id, "name": name, "principal": t.principalID,
		})
	}

	go m.run(execCtx, id, fn, timeout)
	return id, nil
}

// run executes fn with the task timeout and records the terminal state.
func (m *Manager) run(ctx context.Context, id string, fn Func, timeout time.Duration) {
	m.setState(id, StateRunning)

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	report := func(p float64) {
		_ = m.UpdateProgress(id, p)
	}

	type outcome struct {
		result map[string]any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := fn(execCtx, report)
		done <- outcome{result, err}
	}()

	select {
	case out := <-done:
		switch {
		case out.err == nil:
			m.finish(id, StateCompleted, out.result, "")
		case errors.Is(out.err, context.Canceled) && errors.Is(ctx.Err(), context.Canceled):
			m.finish(id, StateFailed, nil, "Task cancelled")
		case errors.Is(out.err, context.DeadlineExceeded) && errors.Is(execCtx.Err(), context.DeadlineExceeded):
			m.finish(id, StateFailed, nil, fmt.Sprintf("Task timed out after %s", timeout))
		default:
			m.finish(id, StateFailed, nil, out.err.Error())
		}
	case <-execCtx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			m.finish(id, StateFailed, nil, "Task cancelled")
		} else {
			m.finish(id, StateFailed, nil, fmt.Sprintf("Task timed out after %s", timeout))
		}
	}
}

func (m *Manager) setState(id string, state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.state.Terminal() {
		return
	}
	t.state = state
}

// finish records a terminal state exactly once.
func (m *Manager) finish(id string, state State, result map[string]any, errMsg string) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok || t.state.Terminal() {
		m.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	t.state = state
	t.completedAt = &now
	t.result = result
	t.err = errMsg
	if state == StateCompleted {
		t.progress = 1.0
	}
	t.cancel()
	m.mu.Unlock()

	if m.emitter != nil {
		_ = m.emitter.Emit(context.Background(), "task.completed", map[string]any{
			"task_id": id, "state": string(state), "error": errMsg,
		})
	}
}

// Status returns a snapshot after checking the caller's access.
func (m *Manager) Status(id string, p *auth.Principal) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	if !t.accessibleBy(p) {
		return Snapshot{}, ErrAccessDenied
	}
	return t.snapshot(), nil
}

// UpdateProgress sets the task's progress, range-checked to [0,1].
// Progress on terminal tasks is ignored.
func (m *Manager) UpdateProgress(id string, progress float64) error {
	if progress < 0 || progress > 1 {
		return fmt.Errorf("progress %v out of range [0,1]", progress)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if t.state.Terminal() {
		return nil
	}
	t.progress = progress
	return nil
}

// Cancel requests cancellation of the task's execution. The transition to
// failed happens when the execution observes the cancelled context.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	cancel := t.cancel
	terminal := t.state.Terminal()
	m.mu.Unlock()

	if !terminal {
		cancel()
	}
	return nil
}

// WaitForCompletion polls the task until it reaches a terminal state or
// the deadline expires. The poll never holds the registry lock.
func (m *Manager) WaitForCompletion(ctx context.Context, id string, pollInterval, timeout time.Duration, p *auth.Principal) (Snapshot, error) {
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}
	if timeout <= 0 {
		timeout = m.opts.DefaultTimeout
	}
	deadline := time.Now().Add(timeout)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		snap, err := m.Status(id, p)
		if err != nil {
			return Snapshot{}, err
		}
		if snap.State.Terminal() {
			return snap, nil
		}
		if time.Now().After(deadline) {
			return snap, &TimeoutError{TaskID: id, After: timeout}
		}
		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-ticker.C:
		}
	}
}

// CleanupCompleted drops terminal tasks older than maxAge and returns the
// number removed.
func (m *Manager) CleanupCompleted(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collectLocked(maxAge)
}

func (m *Manager) collectLocked(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, t := range m.tasks {
		if t.state.Terminal() && t.completedAt != nil && t.completedAt.Before(cutoff) {
			delete(m.tasks, id)
			removed++
		}
	}
	return removed
}
