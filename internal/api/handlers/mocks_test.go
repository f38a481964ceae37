package handlers

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"carepath/internal/external"
	"carepath/internal/types"
)

const (
	testSubjectID = "5b0e9d4c-0c3f-4a53-9a57-2f5d1d2f4e11"
	testTaskID    = "8f4c2d7e-1b3a-4c5d-9e6f-7a8b9c0d1e2f"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockProcessor struct {
	summary *types.RunSummary
	err     error
	calls   []types.TriggerRequest
}

func (m *mockProcessor) Process(_ context.Context, req types.TriggerRequest) (*types.RunSummary, error) {
	m.calls = append(m.calls, req)
	return m.summary, m.err
}

type mockTaskAdmin struct {
	tasks      []types.RegistrationTask
	listErr    error
	task       *types.RegistrationTask
	getErr     error
	requeueErr error
	requeued   []string
}

func (m *mockTaskAdmin) ListTasks(context.Context, string) ([]types.RegistrationTask, error) {
	return m.tasks, m.listErr
}

func (m *mockTaskAdmin) GetTask(context.Context, string) (*types.RegistrationTask, error) {
	return m.task, m.getErr
}

func (m *mockTaskAdmin) Requeue(_ context.Context, taskID string) error {
	m.requeued = append(m.requeued, taskID)
	return m.requeueErr
}

type enqueueCall struct {
	SubjectID string
	Source    types.TriggerSource
}

type mockEnqueuer struct {
	mu    sync.Mutex
	calls []enqueueCall
	err   error
}

func (m *mockEnqueuer) Enqueue(_ context.Context, subjectID string, source types.TriggerSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, enqueueCall{SubjectID: subjectID, Source: source})
	return m.err
}

type mockVerifier struct {
	event *external.PaymentEvent
	err   error
}

func (m *mockVerifier) Verify([]byte, string) (*external.PaymentEvent, error) {
	return m.event, m.err
}

type seedCall struct {
	SubjectID string
	Types     []types.TaskType
}

type mockSeeder struct {
	calls   []seedCall
	created int
	err     error
}

func (m *mockSeeder) EnsureTasks(_ context.Context, subjectID string, taskTypes []types.TaskType) (int, error) {
	m.calls = append(m.calls, seedCall{SubjectID: subjectID, Types: taskTypes})
	return m.created, m.err
}
