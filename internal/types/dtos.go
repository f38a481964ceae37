package types

import "time"

// TriggerRequest is the input of the trigger surface.
type TriggerRequest struct {
	SubjectID string        `json:"subjectId" validate:"required,uuid"`
	Source    TriggerSource `json:"source,omitempty" validate:"omitempty,oneof=payment resync retry"`
}

// RunSummary is the structured result of one trigger invocation.
// It is returned to callers and never persisted.
type RunSummary struct {
	SubjectID          string             `json:"subjectId"`
	ProcessedTasks     int                `json:"processedTasks"`
	SuccessfulTasks    int                `json:"successfulTasks"`
	FailedTasks        int                `json:"failedTasks"`
	TaskResults        []TaskOutcome      `json:"taskResults"`
	DeferredTasks      int                `json:"deferredTasks,omitempty"`
	Converged          bool               `json:"converged"`
	RegistrationStatus RegistrationStatus `json:"registrationStatus,omitempty"`
	Skipped            RunSkipReason      `json:"skipped,omitempty"`
}

// TaskOutcome is the per-task entry of a RunSummary.
type TaskOutcome struct {
	TaskID     string      `json:"taskId"`
	TaskType   TaskType    `json:"taskType"`
	Success    bool        `json:"success"`
	Result     *TaskResult `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`
	ErrorCode  ErrorCode   `json:"errorCode,omitempty"`
	Status     TaskStatus  `json:"status"`
	RetryCount int         `json:"retryCount"`
}

// TaskListResponse is the admin diagnostic view of a subject's tasks.
type TaskListResponse struct {
	SubjectID string             `json:"subjectId"`
	Tasks     []RegistrationTask `json:"tasks"`
}

// OnboardingMessage is the queue payload asking a worker to run the trigger
// surface for one subject.
type OnboardingMessage struct {
	SubjectID  string        `json:"subject_id"`
	Source     TriggerSource `json:"source"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
	TraceID    string        `json:"trace_id,omitempty"`
}
