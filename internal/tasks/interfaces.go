// Package tasks implements the onboarding task handlers run by the
// orchestrator: care-team assignment, chat room provisioning and the welcome
// notification.
package tasks

import (
	"context"

	"carepath/internal/types"
)

// ProfileReader resolves subject identity and role.
type ProfileReader interface {
	GetRole(ctx context.Context, subjectID string) (types.Role, error)
	GetProfile(ctx context.Context, subjectID string) (*types.Profile, error)
}

// CareTeamStore reads and writes care-team assignments. GetAssignment and
// GetDefaultCareTeamConfig return nil without error when nothing exists.
type CareTeamStore interface {
	GetAssignment(ctx context.Context, patientID string) (*types.Assignment, error)
	CreateAssignment(ctx context.Context, patientID, doctorID string, nutritionistID *string) (*types.Assignment, error)
	GetDefaultCareTeamConfig(ctx context.Context) (*types.DefaultCareTeam, error)
}

// RoomProvisioner provisions the care-team communication room. Calling it
// again for the same patient returns the existing room.
type RoomProvisioner interface {
	GetOrCreateCareTeamRoom(ctx context.Context, patientID string) (*types.Room, error)
}

// WelcomeNotifier dispatches the welcome notification.
type WelcomeNotifier interface {
	SendWelcomeNotification(ctx context.Context, n types.WelcomeNotification) (*types.DeliveryReceipt, error)
}

// WelcomeLedger remembers which subjects have already been welcomed.
// GetWelcomeDelivery returns nil when no delivery is on record.
type WelcomeLedger interface {
	GetWelcomeDelivery(ctx context.Context, subjectID string) (*types.WelcomeDelivery, error)
	RecordWelcomeDelivery(ctx context.Context, d types.WelcomeDelivery) error
}
