package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"carepath/internal/types"
)

// CareTeamRepository manages care_team_assignments and reads the active
// default_care_team_config row.
type CareTeamRepository struct {
	db  DBTX
	now func() time.Time
}

// NewCareTeamRepository creates a CareTeamRepository.
func NewCareTeamRepository(db DBTX) *CareTeamRepository {
	return &CareTeamRepository{db: db, now: time.Now}
}

// GetAssignment returns the patient's assignment, or nil if none exists.
func (r *CareTeamRepository) GetAssignment(ctx context.Context, patientID string) (*types.Assignment, error) {
	var a types.Assignment
	err := r.db.QueryRow(ctx,
		`SELECT id, patient_id, doctor_id, nutritionist_id, assigned_at
		 FROM care_team_assignments WHERE patient_id = $1`,
		patientID,
	).Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.NutritionistID, &a.AssignedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to fetch care team assignment", err)
	}
	return &a, nil
}

// CreateAssignment assigns the care team. care_team_assignments is unique on
// patient_id, so an existing row is returned instead of a duplicate. When a
// concurrent writer commits between this statement's snapshot and its
// insert, neither branch of the CTE sees a row; the winner is then read back
// with a fresh statement.
func (r *CareTeamRepository) CreateAssignment(ctx context.Context, patientID, doctorID string, nutritionistID *string) (*types.Assignment, error) {
	var a types.Assignment
	err := r.db.QueryRow(ctx,
		`WITH ins AS (
		   INSERT INTO care_team_assignments (id, patient_id, doctor_id, nutritionist_id, assigned_at)
		   VALUES ($1, $2, $3, $4, $5)
		   ON CONFLICT (patient_id) DO NOTHING
		   RETURNING id, patient_id, doctor_id, nutritionist_id, assigned_at
		 )
		 SELECT id, patient_id, doctor_id, nutritionist_id, assigned_at FROM ins
		 UNION ALL
		 SELECT id, patient_id, doctor_id, nutritionist_id, assigned_at
		 FROM care_team_assignments WHERE patient_id = $2
		 LIMIT 1`,
		uuid.NewString(),
		patientID,
		doctorID,
		nutritionistID,
		r.now().UTC(),
	).Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.NutritionistID, &a.AssignedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		winner, getErr := r.GetAssignment(ctx, patientID)
		if getErr != nil {
			return nil, getErr
		}
		if winner == nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "care team assignment vanished after conflict", err)
		}
		return winner, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to create care team assignment", err)
	}
	return &a, nil
}

// GetDefaultCareTeamConfig returns the active default care team, or nil when
// no active configuration exists.
func (r *CareTeamRepository) GetDefaultCareTeamConfig(ctx context.Context) (*types.DefaultCareTeam, error) {
	var d types.DefaultCareTeam
	err := r.db.QueryRow(ctx,
		`SELECT id, doctor_id, nutritionist_id
		 FROM default_care_team_config
		 WHERE is_active
		 ORDER BY updated_at DESC
		 LIMIT 1`,
	).Scan(&d.ID, &d.DoctorID, &d.NutritionistID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to fetch default care team", err)
	}
	return &d, nil
}
