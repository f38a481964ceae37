package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"carepath/internal/types"
)

const taskColumns = `id, subject_id, task_type, status, priority, retry_count,
	next_retry_at, error_details, result_payload, created_at, updated_at`

// TaskRepository persists RegistrationTask rows in registration_tasks.
//
// Every mutation is a single-row UPDATE guarded by the row's current status
// and retry_count, so two runners racing on the same task cannot both record
// an outcome. A guard miss is reported as conflict_concurrent_modification.
type TaskRepository struct {
	db     DBTX
	policy types.RetryPolicy
	now    func() time.Time
}

// NewTaskRepository creates a TaskRepository applying policy to failed attempts.
func NewTaskRepository(db DBTX, policy types.RetryPolicy) *TaskRepository {
	return &TaskRepository{db: db, policy: policy, now: time.Now}
}

// ListPendingTasks returns the subject's pending tasks, highest priority first
// and oldest first within a priority.
func (r *TaskRepository) ListPendingTasks(ctx context.Context, subjectID string) ([]types.RegistrationTask, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+taskColumns+`
		 FROM registration_tasks
		 WHERE subject_id = $1 AND status = 'pending'
		 ORDER BY priority DESC, created_at ASC`,
		subjectID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list pending tasks", err)
	}
	return collectTasks(rows)
}

// ListTasks returns every task of the subject regardless of status.
func (r *TaskRepository) ListTasks(ctx context.Context, subjectID string) ([]types.RegistrationTask, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+taskColumns+`
		 FROM registration_tasks
		 WHERE subject_id = $1
		 ORDER BY priority DESC, created_at ASC`,
		subjectID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list tasks", err)
	}
	return collectTasks(rows)
}

// GetTask fetches a single task by ID.
func (r *TaskRepository) GetTask(ctx context.Context, taskID string) (*types.RegistrationTask, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM registration_tasks WHERE id = $1`,
		taskID,
	)
	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundTask, "task not found", err)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to fetch task", err)
	}
	return task, nil
}

// MarkCompleted records a successful attempt. The stored error is cleared.
func (r *TaskRepository) MarkCompleted(ctx context.Context, taskID string, expectedRetryCount int, result *types.TaskResult) error {
	if err := result.Validate(); err != nil {
		return types.NewAppError(types.ErrCodeValidationInvalidPayload, "invalid task result", err)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE registration_tasks
		 SET status = 'completed', result_payload = $3, error_details = NULL,
		     next_retry_at = NULL, updated_at = $4
		 WHERE id = $1 AND retry_count = $2 AND status = 'pending'`,
		taskID,
		expectedRetryCount,
		*result,
		r.now().UTC(),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark task completed", err)
	}
	if tag.RowsAffected() == 0 {
		return concurrentModification(taskID, expectedRetryCount)
	}
	return nil
}

// MarkFailed records a failed attempt made at currentRetryCount and returns
// the task's resulting status.
func (r *TaskRepository) MarkFailed(ctx context.Context, taskID string, taskErr types.TaskError, currentRetryCount int) (types.TaskStatus, error) {
	now := r.now().UTC()
	next := r.policy.OnFailure(currentRetryCount, now)
	taskErr.Attempt = next.RetryCount
	if taskErr.OccurredAt.IsZero() {
		taskErr.OccurredAt = now
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE registration_tasks
		 SET status = $3, retry_count = $4, next_retry_at = $5,
		     error_details = $6, updated_at = $7
		 WHERE id = $1 AND retry_count = $2 AND status = 'pending'`,
		taskID,
		currentRetryCount,
		string(next.Status),
		next.RetryCount,
		next.NextRetryAt,
		taskErr,
		now,
	)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to mark task failed", err)
	}
	if tag.RowsAffected() == 0 {
		return "", concurrentModification(taskID, currentRetryCount)
	}
	return next.Status, nil
}

// CountPending returns the number of the subject's tasks still pending.
func (r *TaskRepository) CountPending(ctx context.Context, subjectID string) (int, error) {
	return r.countByStatus(ctx, subjectID, types.TaskStatusPending)
}

// CountFailed returns the number of the subject's terminally failed tasks.
func (r *TaskRepository) CountFailed(ctx context.Context, subjectID string) (int, error) {
	return r.countByStatus(ctx, subjectID, types.TaskStatusFailed)
}

func (r *TaskRepository) countByStatus(ctx context.Context, subjectID string, status types.TaskStatus) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM registration_tasks WHERE subject_id = $1 AND status = $2`,
		subjectID,
		string(status),
	).Scan(&n)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count tasks", err)
	}
	return n, nil
}

// EnsureTasks seeds one pending task per type for the subject. Types that
// already have a row are left untouched. Returns the number of rows created.
func (r *TaskRepository) EnsureTasks(ctx context.Context, subjectID string, taskTypes []types.TaskType) (int, error) {
	now := r.now().UTC()
	created := 0
	for _, tt := range taskTypes {
		tag, err := r.db.Exec(ctx,
			`INSERT INTO registration_tasks
			   (id, subject_id, task_type, status, priority, retry_count, created_at, updated_at)
			 VALUES ($1, $2, $3, 'pending', $4, 0, $5, $5)
			 ON CONFLICT (subject_id, task_type) DO NOTHING`,
			uuid.NewString(),
			subjectID,
			string(tt),
			tt.DefaultPriority(),
			now,
		)
		if err != nil {
			return created, types.NewAppError(types.ErrCodeInternalDB, "failed to seed registration task", err)
		}
		created += int(tag.RowsAffected())
	}
	return created, nil
}

// Requeue returns a terminally failed task to pending with a fresh retry
// budget. It is the only operation that lowers retry_count.
func (r *TaskRepository) Requeue(ctx context.Context, taskID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE registration_tasks
		 SET status = 'pending', retry_count = 0, next_retry_at = NULL, updated_at = $2
		 WHERE id = $1 AND status = 'failed'`,
		taskID,
		r.now().UTC(),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to requeue task", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppErrorWithDetails(types.ErrCodeConflictTaskState,
			"only failed tasks can be requeued", nil, map[string]any{"task_id": taskID})
	}
	return nil
}

// ListSubjectsDue returns subjects owning at least one pending task whose
// next_retry_at has passed, oldest due first.
func (r *TaskRepository) ListSubjectsDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT subject_id
		 FROM registration_tasks
		 WHERE status = 'pending' AND next_retry_at IS NOT NULL AND next_retry_at <= $1
		 GROUP BY subject_id
		 ORDER BY MIN(next_retry_at) ASC
		 LIMIT $2`,
		now.UTC(),
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list due subjects", err)
	}
	defer rows.Close()

	var subjects []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan due subject", err)
		}
		subjects = append(subjects, id)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate due subjects", err)
	}
	return subjects, nil
}

func concurrentModification(taskID string, retryCount int) error {
	return types.NewAppErrorWithDetails(types.ErrCodeConflictConcurrent,
		"task was modified by another run", nil,
		map[string]any{"task_id": taskID, "expected_retry_count": retryCount})
}

func collectTasks(rows pgx.Rows) ([]types.RegistrationTask, error) {
	defer rows.Close()

	var tasks []types.RegistrationTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan task", err)
		}
		tasks = append(tasks, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate tasks", err)
	}
	return tasks, nil
}

func scanTask(row pgx.Row) (*types.RegistrationTask, error) {
	var (
		t         types.RegistrationTask
		taskType  string
		status    string
		errorRaw  []byte
		resultRaw []byte
	)
	err := row.Scan(
		&t.ID,
		&t.SubjectID,
		&taskType,
		&status,
		&t.Priority,
		&t.RetryCount,
		&t.NextRetryAt,
		&errorRaw,
		&resultRaw,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.TaskType = types.TaskType(taskType)
	t.Status = types.TaskStatus(status)

	if t.ErrorDetails, err = types.DecodeTaskError(errorRaw); err != nil {
		return nil, err
	}
	if t.Result, err = types.DecodeTaskResult(resultRaw); err != nil {
		return nil, err
	}
	return &t, nil
}
