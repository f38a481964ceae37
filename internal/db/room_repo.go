package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"carepath/internal/types"
)

// RoomRepository provisions care-team chat rooms in care_team_rooms, one per
// patient.
type RoomRepository struct {
	db  DBTX
	now func() time.Time
}

// NewRoomRepository creates a RoomRepository.
func NewRoomRepository(db DBTX) *RoomRepository {
	return &RoomRepository{db: db, now: time.Now}
}

// GetOrCreateCareTeamRoom returns the patient's room, creating it on first
// call. Room.Created reports whether this call inserted it.
func (r *RoomRepository) GetOrCreateCareTeamRoom(ctx context.Context, patientID string) (*types.Room, error) {
	room := types.Room{PatientID: patientID}
	err := r.db.QueryRow(ctx,
		`WITH ins AS (
		   INSERT INTO care_team_rooms (id, patient_id, created_at)
		   VALUES ($1, $2, $3)
		   ON CONFLICT (patient_id) DO NOTHING
		   RETURNING id
		 )
		 SELECT id, true FROM ins
		 UNION ALL
		 SELECT id, false FROM care_team_rooms WHERE patient_id = $2
		 LIMIT 1`,
		uuid.NewString(),
		patientID,
		r.now().UTC(),
	).Scan(&room.ID, &room.Created)
	if errors.Is(err, pgx.ErrNoRows) {
		// A concurrent insert committed after this statement's snapshot.
		err = r.db.QueryRow(ctx, `SELECT id FROM care_team_rooms WHERE patient_id = $1`, patientID).Scan(&room.ID)
		room.Created = false
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to provision care team room", err)
	}
	return &room, nil
}
