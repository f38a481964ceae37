package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"carepath/internal/types"
)

// WelcomeRepository records welcome notification deliveries in
// welcome_notifications, at most one row per subject.
type WelcomeRepository struct {
	db DBTX
}

// NewWelcomeRepository creates a WelcomeRepository.
func NewWelcomeRepository(db DBTX) *WelcomeRepository {
	return &WelcomeRepository{db: db}
}

// GetWelcomeDelivery returns the subject's recorded delivery, or nil if the
// subject has not been welcomed.
func (r *WelcomeRepository) GetWelcomeDelivery(ctx context.Context, subjectID string) (*types.WelcomeDelivery, error) {
	d := types.WelcomeDelivery{SubjectID: subjectID}
	var template string
	var messageID *string
	err := r.db.QueryRow(ctx,
		`SELECT template, provider_message_id, sent_at FROM welcome_notifications WHERE subject_id = $1`,
		subjectID,
	).Scan(&template, &messageID, &d.SentAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load welcome delivery", err)
	}
	d.Template = types.WelcomeTemplate(template)
	if messageID != nil {
		d.ProviderMessageID = *messageID
	}
	return &d, nil
}

// RecordWelcomeDelivery stores d. An existing record for the subject is kept.
func (r *WelcomeRepository) RecordWelcomeDelivery(ctx context.Context, d types.WelcomeDelivery) error {
	var messageID *string
	if d.ProviderMessageID != "" {
		messageID = &d.ProviderMessageID
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO welcome_notifications (subject_id, template, provider_message_id, sent_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (subject_id) DO NOTHING`,
		d.SubjectID,
		string(d.Template),
		messageID,
		d.SentAt.UTC(),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record welcome delivery", err)
	}
	return nil
}
