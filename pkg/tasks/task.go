// Package tasks implements the bounded asynchronous task manager: a
// registry of background executions with timeouts, cancellation, polling,
// and role-scoped access.
package tasks

import (
	"context"
	"time"

	"github.com/hephaestus-forge/hephaestus/pkg/auth"
)

// State is the lifecycle phase of a task. Terminal states are write-once.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether the state is absorbing.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Func is the unit of work a task executes. It must honour ctx
// cancellation; report may be called to publish progress in [0,1].
type Func func(ctx context.Context, report func(float64)) (map[string]any, error)

// task is the internal mutable record. All fields are guarded by the
// manager's mutex; Snapshot copies them out.
type task struct {
	id            string
	name          string
	state         State
	progress      float64
	result        map[string]any
	err           string
	createdAt     time.Time
	completedAt   *time.Time
	cancel        context.CancelFunc
	principalID   string
	requiredRoles []auth.Role
}

// Snapshot is an immutable view of a task's state.
type Snapshot struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	State         State          `json:"status"`
	Progress      float64        `json:"progress"`
	Result        map[string]any `json:"result,omitempty"`
	Error         string         `json:"error,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	PrincipalID   string         `json:"principal_id,omitempty"`
	RequiredRoles []auth.Role    `json:"required_roles,omitempty"`
}

func (t *task) snapshot() Snapshot {
	snap := Snapshot{
		ID:          t.id,
		Name:        t.name,
		State:       t.state,
		Progress:    t.progress,
		Error:       t.err,
		CreatedAt:   t.createdAt,
		PrincipalID: t.principalID,
	}
	if t.result != nil {
		snap.Result = make(map[string]any, len(t.result))
		for k, v := range t.result {
			snap.Result[k] = v
		}
	}
	if t.completedAt != nil {
		ts := *t.completedAt
		snap.CompletedAt = &ts
	}
	if len(t.requiredRoles) > 0 {
		snap.RequiredRoles = append([]auth.Role(nil), t.requiredRoles...)
	}
	return snap
}

// accessibleBy reports whether the principal may observe the task: the
// creator always may; anyone else needs every required role.
func (t *task) accessibleBy(p *auth.Principal) bool {
	if t.principalID == "" && len(t.requiredRoles) == 0 {
		return true
	}
	if p == nil {
		return false
	}
	if t.principalID != "" && t.principalID == p.Name {
		return true
	}
	if len(t.requiredRoles) == 0 {
		return false
	}
	for _, role := range t.requiredRoles {
		if !p.HasRole(role) {
			return false
		}
	}
	return true
}
