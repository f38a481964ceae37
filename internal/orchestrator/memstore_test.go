package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"carepath/internal/types"
)

// MemoryStore is an in-memory TaskStore, SubjectStore and LeaseStore with the
// same guarded-update semantics as the PostgreSQL repositories.
type MemoryStore struct {
	mu       sync.Mutex
	policy   types.RetryPolicy
	Now      func() time.Time
	seq      int
	tasks    map[string]*types.RegistrationTask
	subjects map[string]*types.Profile
	leases   map[string]types.Lease

	ListErr           error
	MarkCompletedHook func(taskID string) error
	Writes            int
}

func NewMemoryStore(policy types.RetryPolicy) *MemoryStore {
	return &MemoryStore{
		policy:   policy,
		Now:      time.Now,
		tasks:    make(map[string]*types.RegistrationTask),
		subjects: make(map[string]*types.Profile),
		leases:   make(map[string]types.Lease),
	}
}

// AddSubject registers a subject in payment_pending.
func (m *MemoryStore) AddSubject(id string, role types.Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects[id] = &types.Profile{ID: id, Role: role, RegistrationStatus: types.RegistrationPaymentPending}
}

// AddTask seeds a pending task and returns its ID. Creation timestamps are
// strictly increasing in insertion order.
func (m *MemoryStore) AddTask(subjectID string, tt types.TaskType) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	id := fmt.Sprintf("task-%d", m.seq)
	created := time.Date(2026, 1, 1, 0, 0, m.seq, 0, time.UTC)
	m.tasks[id] = &types.RegistrationTask{
		ID:        id,
		SubjectID: subjectID,
		TaskType:  tt,
		Status:    types.TaskStatusPending,
		Priority:  tt.DefaultPriority(),
		CreatedAt: created,
		UpdatedAt: created,
	}
	return id
}

// Task returns a copy of the task.
func (m *MemoryStore) Task(id string) types.RegistrationTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.tasks[id]
}

// Subject returns a copy of the subject profile.
func (m *MemoryStore) Subject(id string) types.Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.subjects[id]
}

// SetTaskState forces a task into a given state.
func (m *MemoryStore) SetTaskState(id string, status types.TaskStatus, retryCount int, next *time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tasks[id]
	t.Status = status
	t.RetryCount = retryCount
	t.NextRetryAt = next
}

func (m *MemoryStore) ListPendingTasks(_ context.Context, subjectID string) ([]types.RegistrationTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	var out []types.RegistrationTask
	for _, t := range m.tasks {
		if t.SubjectID == subjectID && t.Status == types.TaskStatusPending {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) MarkCompleted(_ context.Context, taskID string, expectedRetryCount int, result *types.TaskResult) error {
	if m.MarkCompletedHook != nil {
		if err := m.MarkCompletedHook(taskID); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok || t.Status != types.TaskStatusPending || t.RetryCount != expectedRetryCount {
		return types.NewAppError(types.ErrCodeConflictConcurrent, "task was modified by another run", nil)
	}
	m.Writes++
	t.Status = types.TaskStatusCompleted
	t.Result = result
	t.ErrorDetails = nil
	t.NextRetryAt = nil
	t.UpdatedAt = m.Now()
	return nil
}

func (m *MemoryStore) MarkFailed(_ context.Context, taskID string, taskErr types.TaskError, currentRetryCount int) (types.TaskStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok || t.Status != types.TaskStatusPending || t.RetryCount != currentRetryCount {
		return "", types.NewAppError(types.ErrCodeConflictConcurrent, "task was modified by another run", nil)
	}
	m.Writes++
	now := m.Now()
	next := m.policy.OnFailure(currentRetryCount, now)
	taskErr.Attempt = next.RetryCount
	t.Status = next.Status
	t.RetryCount = next.RetryCount
	t.NextRetryAt = &next.NextRetryAt
	t.ErrorDetails = &taskErr
	t.UpdatedAt = now
	return next.Status, nil
}

func (m *MemoryStore) CountPending(_ context.Context, subjectID string) (int, error) {
	return m.count(subjectID, types.TaskStatusPending), nil
}

func (m *MemoryStore) CountFailed(_ context.Context, subjectID string) (int, error) {
	return m.count(subjectID, types.TaskStatusFailed), nil
}

func (m *MemoryStore) count(subjectID string, status types.TaskStatus) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tasks {
		if t.SubjectID == subjectID && t.Status == status {
			n++
		}
	}
	return n
}

func (m *MemoryStore) MarkFullyRegistered(_ context.Context, subjectID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subjects[subjectID]
	if !ok {
		return false, types.NewAppError(types.ErrCodeNotFoundProfile, "profile not found", nil)
	}
	if s.RegistrationStatus == types.RegistrationFullyRegistered {
		return false, nil
	}
	s.RegistrationStatus = types.RegistrationFullyRegistered
	s.RegistrationCompletedAt = &at
	return true, nil
}

func (m *MemoryStore) GetRegistrationStatus(_ context.Context, subjectID string) (types.RegistrationStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subjects[subjectID]
	if !ok {
		return "", types.NewAppError(types.ErrCodeNotFoundProfile, "profile not found", nil)
	}
	return s.RegistrationStatus, nil
}

func (m *MemoryStore) Acquire(_ context.Context, key, holder string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Now()
	if l, ok := m.leases[key]; ok && l.ExpiresAt.After(now) {
		return false, nil
	}
	m.leases[key] = types.Lease{Key: key, Holder: holder, ExpiresAt: now.Add(ttl)}
	return true, nil
}

func (m *MemoryStore) Release(_ context.Context, key, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.leases[key]; ok && l.Holder == holder {
		delete(m.leases, key)
	}
	return nil
}

// LeaseHeld reports whether key is currently leased.
func (m *MemoryStore) LeaseHeld(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.leases[key]
	return ok
}

// ManualClock is a manually advanced clock safe for concurrent reads.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock() *ManualClock {
	return &ManualClock{now: time.Date(2026, 4, 10, 8, 0, 0, 0, time.UTC)}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
