// Package main is the scheduled Lambda that re-enqueues subjects whose failed
// tasks have reached their next retry time. It never runs handlers itself;
// the onboarding worker picks the messages up with source "retry".
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"carepath/internal/app"
	"carepath/internal/config"
	"carepath/internal/db"
	"carepath/internal/telemetry"
	"carepath/internal/types"
)

const (
	jobType = "retry_sweep"
	lockKey = "job:retry-sweeper"

	// SQS SendMessageBatch accepts at most 10 entries.
	enqueueChunk = 10
)

// LeaseLocker guards against overlapping sweeps.
type LeaseLocker interface {
	Acquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, holder string) error
}

// JobHistorian records sweep executions.
type JobHistorian interface {
	Start(ctx context.Context, jobType string) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, err error) error
}

// DueLister finds subjects with retries due.
type DueLister interface {
	ListSubjectsDue(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// BatchEnqueuer publishes onboarding messages in batches. It returns the
// subject IDs that SQS rejected.
type BatchEnqueuer interface {
	EnqueueBatch(ctx context.Context, subjectIDs []string, source types.TriggerSource) ([]string, error)
}

// Handler runs one sweep per scheduled invocation.
type Handler struct {
	Locks      LeaseLocker
	JobHistory JobHistorian
	Due        DueLister
	Queue      BatchEnqueuer
	Config     config.SweeperConfig
	WorkerID   string
	Logger     *slog.Logger

	// Now is overridable in tests.
	Now func() time.Time
}

// Handle is invoked by the EventBridge schedule.
func (h *Handler) Handle(ctx context.Context, event events.CloudWatchEvent) error {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now().UTC()
	if h.Now != nil {
		now = h.Now().UTC()
	}

	logger.InfoContext(ctx, "retry sweeper invoked",
		"event_id", event.ID,
		"worker_id", h.WorkerID,
		"reference_time", now.Format(time.RFC3339),
	)

	acquired, err := h.Locks.Acquire(ctx, lockKey, h.WorkerID, h.Config.LockTTL)
	if err != nil {
		return fmt.Errorf("acquiring sweep lease: %w", err)
	}
	if !acquired {
		logger.InfoContext(ctx, "sweep lease held by another worker, skipping")
		return nil
	}
	defer func() {
		// Release on a fresh context so a cancelled invocation still frees the lease.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := h.Locks.Release(releaseCtx, lockKey, h.WorkerID); err != nil {
			logger.WarnContext(ctx, "failed to release sweep lease", "error", err)
		}
	}()

	jobID, err := h.JobHistory.Start(ctx, jobType)
	if err != nil {
		logger.ErrorContext(ctx, "failed to start job history", "error", err)
		jobID = 0
	}

	items, sweepErr := h.sweep(ctx, logger, now)

	if jobID != 0 {
		status := db.JobStatusSuccess
		if sweepErr != nil {
			status = db.JobStatusFailed
		}
		if err := h.JobHistory.Finish(ctx, jobID, status, items, sweepErr); err != nil {
			logger.ErrorContext(ctx, "failed to finish job history", "job_id", jobID, "error", err)
		}
	}

	if sweepErr != nil {
		logger.ErrorContext(ctx, "retry sweep failed", "error", sweepErr, "items_before_error", items)
		return fmt.Errorf("retry sweep: %w", sweepErr)
	}
	logger.InfoContext(ctx, "retry sweep complete", "enqueued", items)
	return nil
}

// sweep lists due subjects and enqueues them, paced by the configured rate.
// It returns how many subjects were accepted by the queue.
func (h *Handler) sweep(ctx context.Context, logger *slog.Logger, now time.Time) (int, error) {
	subjects, err := h.Due.ListSubjectsDue(ctx, now, h.Config.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(subjects) == 0 {
		return 0, nil
	}

	burst := enqueueChunk
	limiter := rate.NewLimiter(rate.Limit(h.Config.EnqueuePerSecond), burst)

	enqueued := 0
	for start := 0; start < len(subjects); start += enqueueChunk {
		end := min(start+enqueueChunk, len(subjects))
		chunk := subjects[start:end]

		if err := limiter.WaitN(ctx, len(chunk)); err != nil {
			return enqueued, err
		}
		failed, err := h.Queue.EnqueueBatch(ctx, chunk, types.TriggerSourceRetry)
		if err != nil {
			return enqueued, err
		}
		if len(failed) > 0 {
			// Rejected subjects stay due and are picked up by the next sweep.
			logger.WarnContext(ctx, "some retry messages were rejected", "subject_ids", failed)
		}
		enqueued += len(chunk) - len(failed)
	}
	return enqueued, nil
}

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: loading configuration: %v\n", err)
		os.Exit(1)
	}
	logger := telemetry.NewLogger(os.Stdout, cfg.LogLevel, "retry-sweeper")

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}

	h := &Handler{
		Locks:      a.Leases,
		JobHistory: a.JobHistory,
		Due:        a.Tasks,
		Queue:      a.Publisher,
		Config:     cfg.Sweeper,
		WorkerID:   "retry-sweeper-" + uuid.NewString(),
		Logger:     logger,
	}
	lambda.Start(h.Handle)
}
