package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"carepath/internal/types"
)

func TestLeaseRepository_Acquire_NewLease(t *testing.T) {
	db := new(mockDBTX)
	repo := NewLeaseRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	acquired, err := repo.Acquire(ctx, "subject:U1", "run-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
	db.AssertExpectations(t)
}

func TestLeaseRepository_Acquire_HeldElsewhere(t *testing.T) {
	db := new(mockDBTX)
	repo := NewLeaseRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 0"), nil)

	acquired, err := repo.Acquire(ctx, "subject:U1", "run-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired, "an unexpired lease must not be taken over")
}

func TestLeaseRepository_Acquire_ExpiresAtFromTTL(t *testing.T) {
	db := new(mockDBTX)
	repo := NewLeaseRepository(db)
	repo.now = func() time.Time { return fixedNow }
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		acquiredAt, ok1 := args[2].(time.Time)
		expiresAt, ok2 := args[3].(time.Time)
		return ok1 && ok2 && acquiredAt.Equal(fixedNow) && expiresAt.Sub(acquiredAt) == 2*time.Minute
	})).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	acquired, err := repo.Acquire(ctx, "subject:U1", "run-1", 2*time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
	db.AssertExpectations(t)
}

func TestLeaseRepository_Acquire_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewLeaseRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("connection refused"))

	acquired, err := repo.Acquire(ctx, "subject:U1", "run-1", time.Minute)
	require.Error(t, err)
	assert.False(t, acquired)
	assert.Equal(t, types.ErrCodeInternalDB, types.CodeOf(err))
}

func TestLeaseRepository_Release_ScopedToHolder(t *testing.T) {
	db := new(mockDBTX)
	repo := NewLeaseRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, "DELETE FROM leases WHERE id = $1 AND holder = $2", []any{"subject:U1", "run-1"}).
		Return(pgconn.NewCommandTag("DELETE 1"), nil)

	require.NoError(t, repo.Release(ctx, "subject:U1", "run-1"))
	db.AssertExpectations(t)
}
