package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"carepath/internal/types"
)

// releaseTimeout bounds the lease release, which runs even if the caller's
// context is already cancelled.
const releaseTimeout = 5 * time.Second

// LeaseKey returns the lease key guarding a subject's runs.
func LeaseKey(subjectID string) string {
	return "subject:" + subjectID
}

// Service is the trigger surface: it validates the request, serializes runs
// per subject with a lease, executes pending tasks and checks convergence.
type Service struct {
	runner   *Runner
	checker  *ConvergenceChecker
	leases   LeaseStore
	leaseTTL time.Duration
	logger   types.Logger
	metrics  Metrics
	now      func() time.Time
	holderID func() string
}

// NewService creates a Service.
func NewService(runner *Runner, checker *ConvergenceChecker, leases LeaseStore, leaseTTL time.Duration, logger types.Logger, metrics Metrics) *Service {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Service{
		runner:   runner,
		checker:  checker,
		leases:   leases,
		leaseTTL: leaseTTL,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
		holderID: uuid.NewString,
	}
}

// Process runs the subject's pending tasks and returns a summary.
//
// Partial task failure is not an error: it is reported in the summary. An
// error is returned only for invalid input or when the run could not be
// carried out at all (store unavailable). If another run holds the subject's
// lease, Process returns immediately with Skipped set.
func (s *Service) Process(ctx context.Context, req types.TriggerRequest) (*types.RunSummary, error) {
	subjectID, source, err := normalize(req)
	if err != nil {
		return nil, err
	}

	runID := s.holderID()
	ctx = types.WithRunID(ctx, runID)
	log := s.logger.With("subject_id", subjectID, "run_id", runID, "source", string(source))

	key := LeaseKey(subjectID)
	acquired, err := s.leases.Acquire(ctx, key, runID, s.leaseTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		log.Info("run already in progress for subject, skipping")
		return &types.RunSummary{
			SubjectID:   subjectID,
			TaskResults: []types.TaskOutcome{},
			Skipped:     types.RunSkipLeaseHeld,
		}, nil
	}
	defer func() {
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := s.leases.Release(relCtx, key, runID); err != nil {
			log.Warn("failed to release subject lease, it will expire", "error", err)
		}
	}()

	started := s.now()
	run, err := s.runner.Run(ctx, subjectID, source.HonorsBackoff())
	if err != nil {
		log.Error("run aborted", "error", err)
		return nil, err
	}

	summary := &types.RunSummary{
		SubjectID:       subjectID,
		ProcessedTasks:  len(run.Outcomes),
		SuccessfulTasks: run.Succeeded(),
		TaskResults:     run.Outcomes,
		DeferredTasks:   run.Deferred,
	}
	summary.FailedTasks = summary.ProcessedTasks - summary.SuccessfulTasks

	conv, err := s.checker.Check(ctx, subjectID)
	if err != nil {
		log.Error("convergence check failed", "error", err)
		return nil, err
	}
	summary.Converged = conv.Converged
	summary.RegistrationStatus = conv.Status

	elapsed := s.now().Sub(started)
	s.metrics.RecordRun(ctx, source, summary.ProcessedTasks, summary.FailedTasks, elapsed)
	log.Info("run finished",
		"processed", summary.ProcessedTasks,
		"succeeded", summary.SuccessfulTasks,
		"failed", summary.FailedTasks,
		"deferred", summary.DeferredTasks,
		"converged", summary.Converged,
		"elapsed_ms", elapsed.Milliseconds(),
	)
	return summary, nil
}

func normalize(req types.TriggerRequest) (string, types.TriggerSource, error) {
	subjectID := strings.TrimSpace(req.SubjectID)
	if subjectID == "" {
		return "", "", types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
			"subjectId is required", nil, map[string]any{"field": "subjectId"})
	}
	if _, err := uuid.Parse(subjectID); err != nil {
		return "", "", types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidSubjectID,
			"subjectId must be a UUID", err, map[string]any{"field": "subjectId"})
	}

	source := req.Source
	switch source {
	case "":
		source = types.TriggerSourceResync
	case types.TriggerSourcePayment, types.TriggerSourceResync, types.TriggerSourceRetry:
	default:
		return "", "", types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidSource,
			"source must be one of payment, resync, retry", nil, map[string]any{"field": "source"})
	}
	return subjectID, source, nil
}
