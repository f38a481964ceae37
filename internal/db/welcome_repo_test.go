package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"carepath/internal/types"
)

func TestWelcomeRepository_GetWelcomeDelivery(t *testing.T) {
	db := new(mockDBTX)
	repo := NewWelcomeRepository(db)
	ctx := context.Background()

	msg := "msg-1"
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"U1"}).
		Return(&mockRow{values: []any{"welcome_patient", &msg, fixedNow}})

	d, err := repo.GetWelcomeDelivery(ctx, "U1")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "U1", d.SubjectID)
	assert.Equal(t, types.WelcomeTemplatePatient, d.Template)
	assert.Equal(t, "msg-1", d.ProviderMessageID)
	assert.True(t, d.SentAt.Equal(fixedNow))
}

func TestWelcomeRepository_GetWelcomeDelivery_None(t *testing.T) {
	db := new(mockDBTX)
	repo := NewWelcomeRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	d, err := repo.GetWelcomeDelivery(ctx, "U1")
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestWelcomeRepository_GetWelcomeDelivery_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewWelcomeRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: errors.New("timeout")})

	_, err := repo.GetWelcomeDelivery(ctx, "U1")
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
}

func TestWelcomeRepository_RecordWelcomeDelivery(t *testing.T) {
	db := new(mockDBTX)
	repo := NewWelcomeRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		id, _ := args[2].(*string)
		return args[0] == "U1" && args[1] == "welcome_professional" && id != nil && *id == "msg-9"
	})).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := repo.RecordWelcomeDelivery(ctx, types.WelcomeDelivery{
		SubjectID:         "U1",
		Template:          types.WelcomeTemplateProfessional,
		ProviderMessageID: "msg-9",
		SentAt:            fixedNow,
	})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestWelcomeRepository_RecordWelcomeDelivery_AlreadyRecorded(t *testing.T) {
	db := new(mockDBTX)
	repo := NewWelcomeRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 0"), nil)

	err := repo.RecordWelcomeDelivery(ctx, types.WelcomeDelivery{SubjectID: "U1", SentAt: fixedNow})
	assert.NoError(t, err)
}

func TestWelcomeRepository_RecordWelcomeDelivery_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewWelcomeRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("conn reset"))

	err := repo.RecordWelcomeDelivery(ctx, types.WelcomeDelivery{SubjectID: "U1", SentAt: fixedNow})
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
}
