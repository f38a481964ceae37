package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carepath/internal/types"
)

func newTestService(t *testing.T, store *MemoryStore, handlers ...Handler) *Service {
	t.Helper()
	runner := newTestRunner(t, store, RunnerConfig{HandlerTimeout: time.Second}, handlers...)
	checker := NewConvergenceChecker(store, store, ConvergencePolicy{}, types.NopLogger{}, nil)
	svc := NewService(runner, checker, store, 2*time.Minute, types.NopLogger{}, nil)
	svc.holderID = func() string { return "run-1" }
	return svc
}

func TestService_Validation(t *testing.T) {
	svc := newTestService(t, NewMemoryStore(types.DefaultRetryPolicy))

	tests := []struct {
		name string
		req  types.TriggerRequest
		code types.ErrorCode
	}{
		{"missing subject", types.TriggerRequest{}, types.ErrCodeValidationMissingField},
		{"blank subject", types.TriggerRequest{SubjectID: "   "}, types.ErrCodeValidationMissingField},
		{"not a uuid", types.TriggerRequest{SubjectID: "U1"}, types.ErrCodeValidationInvalidSubjectID},
		{"bad source", types.TriggerRequest{SubjectID: subjectA, Source: "cron"}, types.ErrCodeValidationInvalidSource},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Process(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.code, types.CodeOf(err))
			assert.Equal(t, 400, types.CodeOf(err).HTTPStatus())
		})
	}
}

func TestService_NoPendingTasks(t *testing.T) {
	store := NewMemoryStore(types.DefaultRetryPolicy)
	store.AddSubject(subjectA, types.RolePatient)
	svc := newTestService(t, store)

	summary, err := svc.Process(context.Background(), types.TriggerRequest{SubjectID: subjectA})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.ProcessedTasks)
	assert.Equal(t, 0, summary.SuccessfulTasks)
	assert.Equal(t, 0, summary.FailedTasks)
	assert.NotNil(t, summary.TaskResults)
	assert.False(t, store.LeaseHeld(LeaseKey(subjectA)), "lease released after run")
}

func TestService_SummaryCountsAndConvergence(t *testing.T) {
	store := NewMemoryStore(types.DefaultRetryPolicy)
	store.AddSubject(subjectA, types.RolePatient)
	store.AddTask(subjectA, types.TaskAssignCareTeam)
	store.AddTask(subjectA, types.TaskCreateChatRoom)
	store.AddTask(subjectA, types.TaskSendWelcomeNotification)

	svc := newTestService(t, store,
		succeeding(types.TaskAssignCareTeam, careTeamResult()),
		succeeding(types.TaskCreateChatRoom, roomResult()),
		failing(types.TaskSendWelcomeNotification, errors.New("smtp down")),
	)

	summary, err := svc.Process(context.Background(), types.TriggerRequest{SubjectID: subjectA, Source: types.TriggerSourcePayment})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.ProcessedTasks)
	assert.Equal(t, 2, summary.SuccessfulTasks)
	assert.Equal(t, 1, summary.FailedTasks)
	assert.Len(t, summary.TaskResults, 3)
	assert.False(t, summary.Converged)
	assert.Equal(t, types.RegistrationPaymentPending, summary.RegistrationStatus)
}

func TestService_IdempotentRerun(t *testing.T) {
	store := NewMemoryStore(types.DefaultRetryPolicy)
	store.AddSubject(subjectA, types.RolePatient)
	store.AddTask(subjectA, types.TaskAssignCareTeam)
	assign := succeeding(types.TaskAssignCareTeam, careTeamResult())
	svc := newTestService(t, store, assign)

	first, err := svc.Process(context.Background(), types.TriggerRequest{SubjectID: subjectA})
	require.NoError(t, err)
	assert.Equal(t, 1, first.ProcessedTasks)
	assert.True(t, first.Converged)
	stamp := *store.Subject(subjectA).RegistrationCompletedAt
	writes := store.Writes

	second, err := svc.Process(context.Background(), types.TriggerRequest{SubjectID: subjectA})
	require.NoError(t, err)
	assert.Equal(t, 0, second.ProcessedTasks)
	assert.True(t, second.Converged)
	assert.Equal(t, int32(1), assign.calls.Load())
	assert.Equal(t, writes, store.Writes)
	assert.True(t, store.Subject(subjectA).RegistrationCompletedAt.Equal(stamp))
}

func TestService_LeaseHeldIsNoop(t *testing.T) {
	store := NewMemoryStore(types.DefaultRetryPolicy)
	store.AddSubject(subjectA, types.RolePatient)
	id := store.AddTask(subjectA, types.TaskAssignCareTeam)
	assign := succeeding(types.TaskAssignCareTeam, careTeamResult())
	svc := newTestService(t, store, assign)

	ok, err := store.Acquire(context.Background(), LeaseKey(subjectA), "other-run", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	summary, err := svc.Process(context.Background(), types.TriggerRequest{SubjectID: subjectA})
	require.NoError(t, err)
	assert.Equal(t, types.RunSkipLeaseHeld, summary.Skipped)
	assert.Equal(t, 0, summary.ProcessedTasks)
	assert.Equal(t, int32(0), assign.calls.Load())
	assert.Equal(t, types.TaskStatusPending, store.Task(id).Status)
	assert.True(t, store.LeaseHeld(LeaseKey(subjectA)), "foreign lease must not be released")
}

func TestService_RunErrorPropagates(t *testing.T) {
	store := NewMemoryStore(types.DefaultRetryPolicy)
	store.ListErr = types.NewAppError(types.ErrCodeInternalDB, "connection refused", nil)
	svc := newTestService(t, store)

	_, err := svc.Process(context.Background(), types.TriggerRequest{SubjectID: subjectA})
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
	assert.False(t, store.LeaseHeld(LeaseKey(subjectA)))
}

func TestService_RetrySourceHonorsBackoff(t *testing.T) {
	store := NewMemoryStore(types.DefaultRetryPolicy)
	store.AddSubject(subjectA, types.RolePatient)
	id := store.AddTask(subjectA, types.TaskCreateChatRoom)
	later := time.Now().Add(time.Hour)
	store.SetTaskState(id, types.TaskStatusPending, 1, &later)
	svc := newTestService(t, store, succeeding(types.TaskCreateChatRoom, roomResult()))

	summary, err := svc.Process(context.Background(), types.TriggerRequest{SubjectID: subjectA, Source: types.TriggerSourceRetry})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.ProcessedTasks)
	assert.Equal(t, 1, summary.DeferredTasks)
	assert.False(t, summary.Converged)

	summary, err = svc.Process(context.Background(), types.TriggerRequest{SubjectID: subjectA, Source: types.TriggerSourcePayment})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ProcessedTasks)
	assert.True(t, summary.Converged)
}
