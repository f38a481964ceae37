package orchestrator

import (
	"context"
	"time"

	"carepath/internal/types"
)

// TaskStore is the persistence contract the runner and convergence checker
// depend on. Mutations must be atomic single-task updates that fail with
// conflict_concurrent_modification when the task is no longer pending at
// the expected retry count.
type TaskStore interface {
	ListPendingTasks(ctx context.Context, subjectID string) ([]types.RegistrationTask, error)
	MarkCompleted(ctx context.Context, taskID string, expectedRetryCount int, result *types.TaskResult) error
	MarkFailed(ctx context.Context, taskID string, taskErr types.TaskError, currentRetryCount int) (types.TaskStatus, error)
	CountPending(ctx context.Context, subjectID string) (int, error)
	CountFailed(ctx context.Context, subjectID string) (int, error)
}

// SubjectStore owns the subject's aggregate registration status.
type SubjectStore interface {
	// MarkFullyRegistered writes only if the subject is not already fully
	// registered and reports whether it changed anything.
	MarkFullyRegistered(ctx context.Context, subjectID string, at time.Time) (bool, error)
	GetRegistrationStatus(ctx context.Context, subjectID string) (types.RegistrationStatus, error)
}

// LeaseStore grants TTL-bounded exclusive leases.
type LeaseStore interface {
	Acquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, holder string) error
}

// OutcomeKind classifies a task attempt for metrics.
type OutcomeKind string

const (
	OutcomeSucceeded OutcomeKind = "succeeded"
	OutcomeSkipped   OutcomeKind = "skipped"
	OutcomeRetrying  OutcomeKind = "retrying"
	OutcomeTerminal  OutcomeKind = "terminal"
	OutcomeConflict  OutcomeKind = "conflict"
	OutcomeCancelled OutcomeKind = "cancelled"
)

// Metrics receives orchestration telemetry. Implementations are called from
// concurrent task goroutines and must not fail the run.
type Metrics interface {
	RecordTaskOutcome(ctx context.Context, taskType types.TaskType, kind OutcomeKind)
	RecordRun(ctx context.Context, source types.TriggerSource, processed, failed int, elapsed time.Duration)
	RecordConvergence(ctx context.Context)
}

// NopMetrics discards all telemetry.
type NopMetrics struct{}

func (NopMetrics) RecordTaskOutcome(context.Context, types.TaskType, OutcomeKind)          {}
func (NopMetrics) RecordRun(context.Context, types.TriggerSource, int, int, time.Duration) {}
func (NopMetrics) RecordConvergence(context.Context)                                       {}
