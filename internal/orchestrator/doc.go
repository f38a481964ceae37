// Package orchestrator runs post-registration onboarding tasks.
//
// A trigger claims a per-subject lease, lists the subject's pending tasks,
// executes their handlers concurrently with per-task failure isolation,
// records each outcome with a guarded single-row update, and finally checks
// whether the subject has converged to fully_registered.
package orchestrator
