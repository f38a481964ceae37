// Package handlers contains the HTTP handlers of the onboarding service.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"carepath/internal/core"
	"carepath/internal/types"
)

// Processor runs the trigger surface for one subject.
type Processor interface {
	Process(ctx context.Context, req types.TriggerRequest) (*types.RunSummary, error)
}

// TaskAdmin is the operator view over the task store.
type TaskAdmin interface {
	ListTasks(ctx context.Context, subjectID string) ([]types.RegistrationTask, error)
	GetTask(ctx context.Context, taskID string) (*types.RegistrationTask, error)
	Requeue(ctx context.Context, taskID string) error
}

// Enqueuer schedules an asynchronous run for a subject.
type Enqueuer interface {
	Enqueue(ctx context.Context, subjectID string, source types.TriggerSource) error
}

// RegistrationHandler serves the trigger endpoint and the operator endpoints
// over a subject's tasks.
type RegistrationHandler struct {
	processor Processor
	tasks     TaskAdmin
	queue     Enqueuer
	validator *core.Validator
	logger    *slog.Logger
}

// NewRegistrationHandler creates a RegistrationHandler. queue may be nil, in
// which case a requeued task waits for the next trigger.
func NewRegistrationHandler(processor Processor, tasks TaskAdmin, queue Enqueuer, validator *core.Validator, logger *slog.Logger) *RegistrationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if validator == nil {
		validator = core.NewValidator()
	}
	return &RegistrationHandler{
		processor: processor,
		tasks:     tasks,
		queue:     queue,
		validator: validator,
		logger:    logger,
	}
}

// RegisterRoutes mounts the trigger endpoint under /v1.
func (h *RegistrationHandler) RegisterRoutes(r chi.Router) {
	r.Post("/registration/process", h.Process)
}

// RegisterAdminRoutes mounts the operator endpoints under /v1/admin.
func (h *RegistrationHandler) RegisterAdminRoutes(r chi.Router) {
	r.Get("/subjects/{subjectId}/tasks", h.ListTasks)
	r.Post("/tasks/{taskId}/requeue", h.Requeue)
}

// Process handles POST /v1/registration/process.
//
// Partial task failure is still a 200: the per-task outcome is in the
// summary. Only malformed input and an unusable store produce errors.
func (h *RegistrationHandler) Process(w http.ResponseWriter, r *http.Request) {
	var req types.TriggerRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	req.SubjectID = strings.TrimSpace(req.SubjectID)
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	summary, err := h.processor.Process(r.Context(), req)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "registration run failed",
			"subject_id", req.SubjectID,
			"request_id", types.GetRequestID(r.Context()),
			"error", err,
		)
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, summary)
}

// ListTasks handles GET /v1/admin/subjects/{subjectId}/tasks.
func (h *RegistrationHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectId")
	if _, err := uuid.Parse(subjectID); err != nil {
		core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidSubjectID,
			"subjectId must be a UUID", err, map[string]any{"field": "subjectId"}))
		return
	}

	tasks, err := h.tasks.ListTasks(r.Context(), subjectID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []types.RegistrationTask{}
	}
	core.JSON(w, r, http.StatusOK, types.TaskListResponse{SubjectID: subjectID, Tasks: tasks})
}

type requeueResponse struct {
	TaskID    string           `json:"taskId"`
	SubjectID string           `json:"subjectId"`
	Status    types.TaskStatus `json:"status"`
	Enqueued  bool             `json:"enqueued"`
}

// Requeue handles POST /v1/admin/tasks/{taskId}/requeue. Only a failed task
// can be requeued; its retry budget starts over. The subject is then queued
// for a resync run when a queue is configured.
func (h *RegistrationHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")
	ctx := r.Context()

	task, err := h.tasks.GetTask(ctx, taskID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.tasks.Requeue(ctx, taskID); err != nil {
		core.Error(w, r, err)
		return
	}
	h.logger.InfoContext(ctx, "task requeued by operator",
		"task_id", taskID,
		"subject_id", task.SubjectID,
		"task_type", string(task.TaskType),
		"previous_retry_count", task.RetryCount,
	)

	resp := requeueResponse{TaskID: taskID, SubjectID: task.SubjectID, Status: types.TaskStatusPending}
	if h.queue != nil {
		if err := h.queue.Enqueue(ctx, task.SubjectID, types.TriggerSourceResync); err != nil {
			h.logger.WarnContext(ctx, "requeued task could not be enqueued",
				"task_id", taskID,
				"subject_id", task.SubjectID,
				"error", err,
			)
		} else {
			resp.Enqueued = true
		}
	}
	core.JSON(w, r, http.StatusOK, resp)
}
