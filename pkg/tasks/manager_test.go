package tasks_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hephaestus-forge/hephaestus/pkg/auth"
	"github.com/hephaestus-forge/hephaestus/pkg/tasks"
)

func newManager(opts tasks.Options) *tasks.Manager {
	return tasks.NewManager(opts, nil)
}

func principalWith(name string, roles ...auth.Role) *auth.Principal {
	return &auth.Principal{Name: name, Roles: roles}
}

func TestCreateRunsToCompletion(t *testing.T) {
	m := newManager(tasks.Options{})
	owner := principalWith("svc-a@example.com", auth.RoleCleanup)

	id, err := m.Create(context.Background(), "demo", func(ctx context.Context, report func(float64)) (map[string]any, error) {
		report(0.5)
		return map[string]any{"answer": 42}, nil
	}, tasks.CreateOptions{Principal: owner})
	require.NoError(t, err)

	snap, err := m.WaitForCompletion(context.Background(), id, 10*time.Millisecond, time.Second, owner)
	require.NoError(t, err)
	assert.Equal(t, tasks.StateCompleted, snap.State)
	assert.Equal(t, 1.0, snap.Progress, "completed tasks report full progress")
	assert.Empty(t, snap.Error)
	assert.Equal(t, 42, snap.Result["answer"])
	assert.NotNil(t, snap.CompletedAt)
}

func TestCreateRejectsEmptyName(t *testing.T) {
	m := newManager(tasks.Options{})
	_, err := m.Create(context.Background(), "", nil, tasks.CreateOptions{})
	assert.Error(t, err)
}

func TestFailedTaskCarriesError(t *testing.T) {
	m := newManager(tasks.Options{})
	id, err := m.Create(context.Background(), "boom", func(ctx context.Context, report func(float64)) (map[string]any, error) {
		return nil, errors.New("tool exploded")
	}, tasks.CreateOptions{})
	require.NoError(t, err)

	snap, err := m.WaitForCompletion(context.Background(), id, 10*time.Millisecond, time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, tasks.StateFailed, snap.State)
	assert.Equal(t, "tool exploded", snap.Error)
}

func TestCancelMarksTaskFailed(t *testing.T) {
	m := newManager(tasks.Options{})
	started := make(chan struct{})
	id, err := m.Create(context.Background(), "long", func(ctx context.Context, report func(float64)) (map[string]any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}, tasks.CreateOptions{})
	require.NoError(t, err)

	<-started
	require.NoError(t, m.Cancel(id))

	snap, err := m.WaitForCompletion(context.Background(), id, 10*time.Millisecond, time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, tasks.StateFailed, snap.State)
	assert.Equal(t, "Task cancelled", snap.Error)
}

func TestTimeoutMarksTaskFailed(t *testing.T) {
	m := newManager(tasks.Options{DefaultTimeout: 50 * time.Millisecond})
	id, err := m.Create(context.Background(), "slow", func(ctx context.Context, report func(float64)) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, tasks.CreateOptions{})
	require.NoError(t, err)

	snap, err := m.WaitForCompletion(context.Background(), id, 10*time.Millisecond, time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, tasks.StateFailed, snap.State)
	assert.Contains(t, snap.Error, "Task timed out")
}

func TestWaitForCompletionTimesOut(t *testing.T) {
	m := newManager(tasks.Options{})
	id, err := m.Create(context.Background(), "stuck", func(ctx context.Context, report func(float64)) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, tasks.CreateOptions{})
	require.NoError(t, err)

	_, err = m.WaitForCompletion(context.Background(), id, 10*time.Millisecond, 50*time.Millisecond, nil)
	var timeoutErr *tasks.TimeoutError
	assert.ErrorAs(t, err, &timeoutErr)
}

func TestCapacityEnforcedAfterGC(t *testing.T) {
	m := newManager(tasks.Options{Capacity: 2, Retention: time.Hour})
	block := make(chan struct{})
	defer close(block)

	fn := func(ctx context.Context, report func(float64)) (map[string]any, error) {
		<-block
		return nil, nil
	}
	_, err := m.Create(context.Background(), "a", fn, tasks.CreateOptions{})
	require.NoError(t, err)
	_, err = m.Create(context.Background(), "b", fn, tasks.CreateOptions{})
	require.NoError(t, err)

	_, err = m.Create(context.Background(), "c", fn, tasks.CreateOptions{})
	assert.ErrorIs(t, err, tasks.ErrAtCapacity)
}

func TestAccessControl(t *testing.T) {
	m := newManager(tasks.Options{})
	owner := principalWith("svc-owner@example.com", auth.RoleGuardRails)

	id, err := m.Create(context.Background(), "guarded", func(ctx context.Context, report func(float64)) (map[string]any, error) {
		return nil, nil
	}, tasks.CreateOptions{
		Principal:     owner,
		RequiredRoles: []auth.Role{auth.RoleGuardRails, auth.RoleCleanup},
	})
	require.NoError(t, err)

	// Creator always sees the task, even without the required roles.
	_, err = m.Status(id, owner)
	assert.NoError(t, err)

	// Another principal needs every required role.
	_, err = m.Status(id, principalWith("svc-other@example.com", auth.RoleGuardRails))
	assert.ErrorIs(t, err, tasks.ErrAccessDenied)

	_, err = m.Status(id, principalWith("svc-ops@example.com", auth.RoleGuardRails, auth.RoleCleanup))
	assert.NoError(t, err)
}

func TestUpdateProgressBounds(t *testing.T) {
	m := newManager(tasks.Options{})
	block := make(chan struct{})
	id, err := m.Create(context.Background(), "p", func(ctx context.Context, report func(float64)) (map[string]any, error) {
		<-block
		return nil, nil
	}, tasks.CreateOptions{})
	require.NoError(t, err)

	assert.NoError(t, m.UpdateProgress(id, 0.25))
	assert.Error(t, m.UpdateProgress(id, -0.1))
	assert.Error(t, m.UpdateProgress(id, 1.5))
	assert.ErrorIs(t, m.UpdateProgress("missing", 0.5), tasks.ErrNotFound)

	close(block)
	snap, err := m.WaitForCompletion(context.Background(), id, 10*time.Millisecond, time.Second, nil)
	require.NoError(t, err)

	// Terminal states are write-once; late progress updates are ignored.
	require.NoError(t, m.UpdateProgress(id, 0.1))
	after, err := m.Status(id, nil)
	require.NoError(t, err)
	assert.Equal(t, snap.Progress, after.Progress)
}

func TestCleanupCompletedDropsOldTasks(t *testing.T) {
	m := newManager(tasks.Options{})
	id, err := m.Create(context.Background(), "short", func(ctx context.Context, report func(float64)) (map[string]any, error) {
		return nil, nil
	}, tasks.CreateOptions{})
	require.NoError(t, err)

	_, err = m.WaitForCompletion(context.Background(), id, 10*time.Millisecond, time.Second, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, m.CleanupCompleted(0))
	_, err = m.Status(id, nil)
	assert.ErrorIs(t, err, tasks.ErrNotFound)
}
