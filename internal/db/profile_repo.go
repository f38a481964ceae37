package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"carepath/internal/types"
)

// ProfileRepository reads subject profiles and records registration
// convergence on the profiles table.
type ProfileRepository struct {
	db DBTX
}

// NewProfileRepository creates a ProfileRepository.
func NewProfileRepository(db DBTX) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// GetProfile returns the profile or not_found_profile.
func (r *ProfileRepository) GetProfile(ctx context.Context, subjectID string) (*types.Profile, error) {
	var (
		p      types.Profile
		email  *string
		phone  *string
		role   string
		status string
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, full_name, email, phone, role, registration_status, registration_completed_at
		 FROM profiles WHERE id = $1`,
		subjectID,
	).Scan(&p.ID, &p.FullName, &email, &phone, &role, &status, &p.RegistrationCompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeNotFoundProfile, "profile not found", err,
			map[string]any{"subject_id": subjectID})
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to fetch profile", err)
	}
	if email != nil {
		p.Email = *email
	}
	if phone != nil {
		p.Phone = *phone
	}
	p.Role = types.Role(role)
	p.RegistrationStatus = types.RegistrationStatus(status)
	return &p, nil
}

// GetRole returns the subject's role.
func (r *ProfileRepository) GetRole(ctx context.Context, subjectID string) (types.Role, error) {
	var role string
	err := r.db.QueryRow(ctx, `SELECT role FROM profiles WHERE id = $1`, subjectID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", types.NewAppErrorWithDetails(types.ErrCodeNotFoundProfile, "profile not found", err,
			map[string]any{"subject_id": subjectID})
	}
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to fetch role", err)
	}
	return types.Role(role), nil
}

// MarkFullyRegistered transitions the subject to fully_registered and stamps
// registration_completed_at. A subject that is already fully registered is
// left untouched and false is returned; a subject with no profile row is
// not_found_profile.
func (r *ProfileRepository) MarkFullyRegistered(ctx context.Context, subjectID string, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE profiles
		 SET registration_status = 'fully_registered', registration_completed_at = $2, updated_at = $2
		 WHERE id = $1 AND registration_status IS DISTINCT FROM 'fully_registered'`,
		subjectID,
		at.UTC(),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to mark subject fully registered", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	// Zero rows means either already registered or no such profile.
	if _, err := r.GetRegistrationStatus(ctx, subjectID); err != nil {
		return false, err
	}
	return false, nil
}

// GetRegistrationStatus returns the subject's aggregate registration status.
func (r *ProfileRepository) GetRegistrationStatus(ctx context.Context, subjectID string) (types.RegistrationStatus, error) {
	var status string
	err := r.db.QueryRow(ctx, `SELECT registration_status FROM profiles WHERE id = $1`, subjectID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", types.NewAppErrorWithDetails(types.ErrCodeNotFoundProfile, "profile not found", err,
			map[string]any{"subject_id": subjectID})
	}
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to fetch registration status", err)
	}
	return types.RegistrationStatus(status), nil
}
