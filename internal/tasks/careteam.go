package tasks

import (
	"context"
	"fmt"

	"carepath/internal/types"
)

// CareTeamHandler assigns a patient to the configured default care team.
type CareTeamHandler struct {
	profiles ProfileReader
	careTeam CareTeamStore
	logger   types.Logger
}

// NewCareTeamHandler creates a CareTeamHandler.
func NewCareTeamHandler(profiles ProfileReader, careTeam CareTeamStore, logger types.Logger) *CareTeamHandler {
	return &CareTeamHandler{profiles: profiles, careTeam: careTeam, logger: logger}
}

// TaskType implements orchestrator.Handler.
func (h *CareTeamHandler) TaskType() types.TaskType { return types.TaskAssignCareTeam }

// Handle skips non-patients and subjects that already have a care team.
// Otherwise it assigns the active default care team. The store's create is
// itself idempotent per patient, so a lost race with a concurrent run
// resolves to the row the other run wrote.
func (h *CareTeamHandler) Handle(ctx context.Context, subjectID string, _ types.RegistrationTask) (*types.TaskResult, error) {
	role, err := h.profiles.GetRole(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("resolve role: %w", err)
	}
	if !role.IsPatient() {
		return types.SkippedResult(types.TaskAssignCareTeam, types.SkipNotPatient), nil
	}

	existing, err := h.careTeam.GetAssignment(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("check existing assignment: %w", err)
	}
	if existing != nil {
		return careTeamResult(existing, true), nil
	}

	def, err := h.careTeam.GetDefaultCareTeamConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load default care team: %w", err)
	}
	if def == nil {
		return nil, types.NewAppError(types.ErrCodePreconditionNoDefaultCareTeam,
			"no active default care team is configured", nil)
	}

	assignment, err := h.careTeam.CreateAssignment(ctx, subjectID, def.DoctorID, def.NutritionistID)
	if err != nil {
		return nil, fmt.Errorf("create assignment: %w", err)
	}
	h.logger.Info("care team assigned",
		"subject_id", subjectID,
		"assignment_id", assignment.ID,
		"doctor_id", assignment.DoctorID,
	)
	return careTeamResult(assignment, false), nil
}

func careTeamResult(a *types.Assignment, already bool) *types.TaskResult {
	return &types.TaskResult{
		TaskType: types.TaskAssignCareTeam,
		CareTeam: &types.CareTeamResult{
			CareTeamAssigned: true,
			AlreadyAssigned:  already,
			AssignmentID:     a.ID,
			DoctorID:         a.DoctorID,
			NutritionistID:   a.NutritionistID,
		},
	}
}
