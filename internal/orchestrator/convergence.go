package orchestrator

import (
	"context"
	"fmt"
	"time"

	"carepath/internal/types"
)

// ConvergencePolicy decides when a subject counts as fully registered.
type ConvergencePolicy struct {
	// RequireAllCompleted blocks convergence while any task is terminally
	// failed. When false, a subject converges as soon as nothing is pending,
	// even if some tasks exhausted their retries.
	RequireAllCompleted bool
}

// ConvergenceResult reports one convergence check.
type ConvergenceResult struct {
	Pending int
	Failed  int
	// Converged is true when the subject is fully registered after the check.
	Converged bool
	// Transitioned is true only for the check that performed the write.
	Transitioned bool
	Status       types.RegistrationStatus
}

// ConvergenceChecker flips a subject to fully_registered once its tasks have
// stopped being pending. It is the only writer of that transition.
type ConvergenceChecker struct {
	tasks    TaskStore
	subjects SubjectStore
	policy   ConvergencePolicy
	logger   types.Logger
	metrics  Metrics
	now      func() time.Time
}

// NewConvergenceChecker creates a ConvergenceChecker.
func NewConvergenceChecker(tasks TaskStore, subjects SubjectStore, policy ConvergencePolicy, logger types.Logger, metrics Metrics) *ConvergenceChecker {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &ConvergenceChecker{
		tasks:    tasks,
		subjects: subjects,
		policy:   policy,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Check is safe to call any number of times. Once the subject is fully
// registered, later checks leave registrationCompletedAt untouched.
func (c *ConvergenceChecker) Check(ctx context.Context, subjectID string) (*ConvergenceResult, error) {
	pending, err := c.tasks.CountPending(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("count pending tasks: %w", err)
	}
	res := &ConvergenceResult{Pending: pending}

	ready := pending == 0
	if ready && c.policy.RequireAllCompleted {
		if res.Failed, err = c.tasks.CountFailed(ctx, subjectID); err != nil {
			return nil, fmt.Errorf("count failed tasks: %w", err)
		}
		ready = res.Failed == 0
	}

	if !ready {
		if res.Status, err = c.subjects.GetRegistrationStatus(ctx, subjectID); err != nil {
			return nil, fmt.Errorf("read registration status: %w", err)
		}
		res.Converged = res.Status == types.RegistrationFullyRegistered
		return res, nil
	}

	changed, err := c.subjects.MarkFullyRegistered(ctx, subjectID, c.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("mark fully registered: %w", err)
	}
	res.Converged = true
	res.Transitioned = changed
	res.Status = types.RegistrationFullyRegistered
	if changed {
		c.metrics.RecordConvergence(ctx)
		c.logger.Info("subject fully registered", "subject_id", subjectID)
	}
	return res, nil
}
