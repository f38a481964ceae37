package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"carepath/internal/types"
)

const tracerName = "carepath/internal/orchestrator"

// storeWriteTimeout bounds outcome writes, which run detached from the
// caller's cancellation so a finished attempt is always recorded.
const storeWriteTimeout = 10 * time.Second

// RunnerConfig tunes task execution.
type RunnerConfig struct {
	// HandlerTimeout bounds a single handler call. Zero disables the bound.
	HandlerTimeout time.Duration
	// MaxParallel caps concurrent handlers. Zero runs every task at once.
	MaxParallel int
}

// RunResult is what one pass of the runner did for a subject.
type RunResult struct {
	Outcomes []types.TaskOutcome
	// Deferred counts pending tasks left alone because their backoff has not
	// elapsed.
	Deferred int
}

// Succeeded returns the number of successful outcomes.
func (r *RunResult) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Success {
			n++
		}
	}
	return n
}

// Runner executes a subject's pending tasks.
type Runner struct {
	store    TaskStore
	registry *Registry
	cfg      RunnerConfig
	logger   types.Logger
	metrics  Metrics
	tracer   trace.Tracer
	now      func() time.Time
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithRunnerMetrics sets the metrics sink.
func WithRunnerMetrics(m Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithTracer overrides the global OpenTelemetry tracer.
func WithTracer(t trace.Tracer) RunnerOption {
	return func(r *Runner) { r.tracer = t }
}

// WithRunnerClock overrides time.Now.
func WithRunnerClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates a Runner.
func NewRunner(store TaskStore, registry *Registry, cfg RunnerConfig, logger types.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		store:    store,
		registry: registry,
		cfg:      cfg,
		logger:   logger,
		metrics:  NopMetrics{},
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes every pending task of the subject concurrently and waits for
// all of them to settle. A failing or hung task never cancels its siblings.
// When honorBackoff is set, tasks whose nextRetryAt is in the future are
// skipped and counted as deferred.
//
// The returned error is non-nil only when the pending tasks could not be
// listed; individual task failures are reported in the outcomes.
func (r *Runner) Run(ctx context.Context, subjectID string, honorBackoff bool) (*RunResult, error) {
	pending, err := r.store.ListPendingTasks(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list pending tasks: %w", err)
	}

	result := &RunResult{}
	now := r.now()
	due := pending[:0:0]
	for _, t := range pending {
		if honorBackoff && !t.DueAt(now) {
			result.Deferred++
			continue
		}
		due = append(due, t)
	}
	if len(due) == 0 {
		result.Outcomes = []types.TaskOutcome{}
		return result, nil
	}

	// Each goroutine owns one slot; no locking needed.
	outcomes := make([]types.TaskOutcome, len(due))

	var g errgroup.Group
	if r.cfg.MaxParallel > 0 {
		g.SetLimit(r.cfg.MaxParallel)
	}
	for i, task := range due {
		g.Go(func() error {
			outcomes[i] = r.execute(ctx, subjectID, task)
			// Failures are isolated per task and never reach the group.
			return nil
		})
	}
	_ = g.Wait()

	result.Outcomes = outcomes
	return result, nil
}

func (r *Runner) execute(ctx context.Context, subjectID string, task types.RegistrationTask) types.TaskOutcome {
	ctx, span := r.tracer.Start(ctx, "orchestrator.task.execute",
		trace.WithAttributes(
			attribute.String("task.id", task.ID),
			attribute.String("task.type", string(task.TaskType)),
			attribute.String("subject.id", subjectID),
			attribute.Int("task.retry_count", task.RetryCount),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	log := r.logger.With("subject_id", subjectID, "task_id", task.ID,
		"task_type", string(task.TaskType), "retry_count", task.RetryCount)

	started := r.now()
	result, handleErr := r.invoke(ctx, subjectID, task)
	if handleErr == nil {
		if vErr := result.Validate(); vErr != nil {
			handleErr = types.NewAppError(types.ErrCodeValidationInvalidPayload, "handler returned an invalid result", vErr)
		}
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeWriteTimeout)
	defer cancel()

	outcome := types.TaskOutcome{
		TaskID:     task.ID,
		TaskType:   task.TaskType,
		Status:     task.Status,
		RetryCount: task.RetryCount,
	}

	if handleErr == nil {
		if err := r.store.MarkCompleted(writeCtx, task.ID, task.RetryCount, result); err != nil {
			return r.recordWriteFailure(ctx, span, log, outcome, err)
		}
		kind := OutcomeSucceeded
		if result.Skipped {
			kind = OutcomeSkipped
		}
		r.metrics.RecordTaskOutcome(ctx, task.TaskType, kind)
		span.SetStatus(codes.Ok, "")
		log.Info("task completed", "skipped", result.Skipped, "elapsed_ms", r.now().Sub(started).Milliseconds())

		outcome.Success = true
		outcome.Result = result
		outcome.Status = types.TaskStatusCompleted
		return outcome
	}

	span.RecordError(handleErr)
	span.SetStatus(codes.Error, handleErr.Error())

	// The run itself was abandoned (caller cancelled or its own deadline
	// passed). That is not an attempt: the task stays pending at the same
	// retry count. Only the per-handler deadline counts against the task.
	if ctx.Err() != nil {
		r.metrics.RecordTaskOutcome(ctx, task.TaskType, OutcomeCancelled)
		log.Warn("run cancelled before task settled, attempt not recorded", "error", handleErr)
		outcome.Error = ctx.Err().Error()
		outcome.ErrorCode = types.ErrCodeInternalRunCancelled
		return outcome
	}

	code := types.CodeOf(handleErr)
	status, err := r.store.MarkFailed(writeCtx, task.ID, types.TaskError{
		Code:       code,
		Message:    handleErr.Error(),
		OccurredAt: r.now().UTC(),
	}, task.RetryCount)
	if err != nil {
		log.Error("task failed", "error", handleErr, "error_code", string(code))
		return r.recordWriteFailure(ctx, span, log, outcome, err)
	}

	kind := OutcomeRetrying
	if status == types.TaskStatusFailed {
		kind = OutcomeTerminal
		log.Error("task failed permanently", "error", handleErr, "error_code", string(code))
	} else {
		log.Warn("task failed, will retry", "error", handleErr, "error_code", string(code))
	}
	r.metrics.RecordTaskOutcome(ctx, task.TaskType, kind)

	outcome.Error = handleErr.Error()
	outcome.ErrorCode = code
	outcome.Status = status
	outcome.RetryCount = task.RetryCount + 1
	return outcome
}

// invoke runs the handler under the per-handler timeout. The handler runs on
// its own goroutine so one that ignores its context still cannot hold the run
// past the deadline. A panic is converted into an error for this task alone.
func (r *Runner) invoke(ctx context.Context, subjectID string, task types.RegistrationTask) (*types.TaskResult, error) {
	h, ok := r.registry.Lookup(task.TaskType)
	if !ok {
		return nil, types.NewAppError(types.ErrCodeInternalNoHandler,
			fmt.Sprintf("no handler registered for %q", task.TaskType), nil)
	}

	if r.cfg.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.HandlerTimeout)
		defer cancel()
	}

	type handled struct {
		result *types.TaskResult
		err    error
	}
	done := make(chan handled, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- handled{err: types.NewAppError(types.ErrCodeInternalHandlerPanic,
					fmt.Sprintf("handler panicked: %v", p), nil)}
			}
		}()
		res, err := h.Handle(ctx, subjectID, task)
		done <- handled{result: res, err: err}
	}()

	var out handled
	select {
	case out = <-done:
	case <-ctx.Done():
		out = handled{err: ctx.Err()}
	}

	if out.err != nil {
		if errors.Is(out.err, context.DeadlineExceeded) {
			return nil, types.NewAppError(types.ErrCodeUpstreamTimeout, "handler timed out", out.err)
		}
		return nil, out.err
	}
	if out.result == nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "handler returned no result", nil)
	}
	return out.result, nil
}

func (r *Runner) recordWriteFailure(ctx context.Context, span trace.Span, log types.Logger, outcome types.TaskOutcome, err error) types.TaskOutcome {
	span.RecordError(err)
	code := types.CodeOf(err)
	if code == types.ErrCodeConflictConcurrent {
		r.metrics.RecordTaskOutcome(ctx, outcome.TaskType, OutcomeConflict)
		log.Warn("task outcome not recorded, task changed concurrently", "error", err)
	} else {
		log.Error("failed to record task outcome", "error", err)
	}
	outcome.Success = false
	outcome.Error = err.Error()
	outcome.ErrorCode = code
	return outcome
}
