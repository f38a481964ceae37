package db

import (
	"context"
	"time"

	"carepath/internal/types"
)

// LeaseRepository provides TTL-bounded exclusive leases via the leases table.
// It backs both the per-subject run lease and the retry sweeper's job lock.
type LeaseRepository struct {
	db  DBTX
	now func() time.Time
}

// NewLeaseRepository creates a LeaseRepository.
func NewLeaseRepository(db DBTX) *LeaseRepository {
	return &LeaseRepository{db: db, now: time.Now}
}

// Acquire claims key for holder until now+ttl. It returns false when another
// holder owns an unexpired lease. An expired lease is taken over.
//
// Timestamps are computed in Go rather than with SQL interval arithmetic so the
// TTL never passes through a duration string.
func (r *LeaseRepository) Acquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	now := r.now().UTC()

	tag, err := r.db.Exec(ctx,
		`INSERT INTO leases (id, holder, acquired_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		   SET holder = EXCLUDED.holder,
		       acquired_at = EXCLUDED.acquired_at,
		       expires_at = EXCLUDED.expires_at
		   WHERE leases.expires_at < $3`,
		key,
		holder,
		now,
		now.Add(ttl),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to acquire lease", err)
	}
	// 1 row: inserted or took over an expired lease. 0 rows: held elsewhere.
	return tag.RowsAffected() > 0, nil
}

// Release drops the lease if holder still owns it. Releasing a lease that
// expired and was taken over by someone else is a no-op.
func (r *LeaseRepository) Release(ctx context.Context, key, holder string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM leases WHERE id = $1 AND holder = $2`,
		key,
		holder,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release lease", err)
	}
	return nil
}
