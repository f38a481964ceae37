package tasks

import (
	"context"
	"fmt"

	"carepath/internal/types"
)

// ChatRoomHandler provisions the care-team chat room for a patient.
type ChatRoomHandler struct {
	profiles ProfileReader
	careTeam CareTeamStore
	rooms    RoomProvisioner
}

// NewChatRoomHandler creates a ChatRoomHandler.
func NewChatRoomHandler(profiles ProfileReader, careTeam CareTeamStore, rooms RoomProvisioner) *ChatRoomHandler {
	return &ChatRoomHandler{profiles: profiles, careTeam: careTeam, rooms: rooms}
}

// TaskType implements orchestrator.Handler.
func (h *ChatRoomHandler) TaskType() types.TaskType { return types.TaskCreateChatRoom }

// Handle requires an existing care-team assignment. A missing assignment is
// an error rather than a skip: the assignment task may simply not have
// committed yet, and the next trigger must retry this task.
func (h *ChatRoomHandler) Handle(ctx context.Context, subjectID string, _ types.RegistrationTask) (*types.TaskResult, error) {
	role, err := h.profiles.GetRole(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("resolve role: %w", err)
	}
	if !role.IsPatient() {
		return types.SkippedResult(types.TaskCreateChatRoom, types.SkipNotPatient), nil
	}

	assignment, err := h.careTeam.GetAssignment(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("check assignment: %w", err)
	}
	if assignment == nil {
		return nil, types.NewAppError(types.ErrCodePreconditionNoAssignment,
			"patient has no care team assignment yet", nil)
	}

	room, err := h.rooms.GetOrCreateCareTeamRoom(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("provision care team room: %w", err)
	}
	return &types.TaskResult{
		TaskType: types.TaskCreateChatRoom,
		ChatRoom: &types.ChatRoomResult{RoomID: room.ID, Created: room.Created},
	}, nil
}
