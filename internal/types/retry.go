package types

import "time"

// RetryPolicy governs how failed attempts are recorded on a task.
type RetryPolicy struct {
	MaxRetries  int
	BackoffUnit time.Duration
}

// DefaultRetryPolicy allows three attempts with a linear one-minute backoff.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 3, BackoffUnit: 60 * time.Second}

// FailureTransition is the new state of a task after a failed attempt.
type FailureTransition struct {
	Status      TaskStatus
	RetryCount  int
	NextRetryAt time.Time
}

// OnFailure computes the transition for a task that failed with the given
// pre-increment retry count. The count always increases by one. The task
// becomes terminally failed once the incremented count reaches MaxRetries.
// The next retry is scheduled linearly: now + (currentRetryCount+1) * BackoffUnit.
func (p RetryPolicy) OnFailure(currentRetryCount int, now time.Time) FailureTransition {
	next := currentRetryCount + 1
	status := TaskStatusPending
	if next >= p.MaxRetries {
		status = TaskStatusFailed
	}
	return FailureTransition{
		Status:      status,
		RetryCount:  next,
		NextRetryAt: now.Add(time.Duration(next) * p.BackoffUnit),
	}
}
