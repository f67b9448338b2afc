// AngelaMos | 2026
// repository.go

package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/carterperez-dev/templates/seller-billing/internal/core"
)

// StoreError is returned when the profile store is unreachable or rejects
// a request. Not-found lookups are reported as core.ErrNotFound instead.
type StoreError struct {
	Op       string
	SQLState string
	Err      error
}

func (e *StoreError) Error() string {
	if e.SQLState != "" {
		return fmt.Sprintf("profile store %s (sqlstate %s): %v", e.Op, e.SQLState, e.Err)
	}
	return fmt.Sprintf("profile store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeError(op string, err error) error {
	se := &StoreError{Op: op, Err: err}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		se.SQLState = pgErr.Code
	}
	return se
}

type Repository interface {
	Get(ctx context.Context, id string) (*Profile, error)
	Patch(ctx context.Context, id string, patch Patch) (*Profile, error)
	FindByCustomerID(ctx context.Context, customerID string) (*Profile, error)
	ListDuePending(ctx context.Context, before time.Time, after *DueCursor, limit int) ([]Profile, error)
}

// DueCursor marks the last row of a due-pending page. Pages are ordered by
// (tier_effective_at, id), so rows that keep failing to reconcile cannot
// hide the rows behind them.
type DueCursor struct {
	EffectiveAt time.Time
	ID          string
}

// CursorAfter returns the cursor positioned on p.
func CursorAfter(p *Profile) *DueCursor {
	c := &DueCursor{ID: p.ID}
	if p.TierEffectiveAt != nil {
		c.EffectiveAt = *p.TierEffectiveAt
	}
	return c
}

type repository struct {
	db core.DBTX
}

// NewRepository returns the profile store adapter. db must be connected
// with the service role; callers pass only ids taken from an authenticated
// identity or a verified webhook.
func NewRepository(db core.DBTX) Repository {
	return &repository{db: db}
}

const profileColumns = `id, email, role, tier, pending_tier, tier_effective_at,
		       processor_customer_id, processor_subscription_id,
		       processor_subscription_status, processor_current_period_end,
		       processor_cancel_at_period_end, processor_billing_interval,
		       created_at, updated_at`

func (r *repository) Get(ctx context.Context, id string) (*Profile, error) {
	query := `SELECT ` + profileColumns + `
		FROM profiles
		WHERE id = $1`

	var p Profile
	err := r.db.GetContext(ctx, &p, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get profile: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, storeError("get", err)
	}

	return &p, nil
}

func (r *repository) FindByCustomerID(
	ctx context.Context,
	customerID string,
) (*Profile, error) {
	query := `SELECT ` + profileColumns + `
		FROM profiles
		WHERE processor_customer_id = $1
		ORDER BY updated_at DESC
		LIMIT 1`

	var p Profile
	err := r.db.GetContext(ctx, &p, query, customerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("find profile by customer: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, storeError("find by customer", err)
	}

	return &p, nil
}

func (r *repository) Patch(
	ctx context.Context,
	id string,
	patch Patch,
) (*Profile, error) {
	query, args := buildPatchQuery(id, patch)

	var p Profile
	err := r.db.GetContext(ctx, &p, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("patch profile: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, storeError("patch", err)
	}

	return &p, nil
}

func (r *repository) ListDuePending(
	ctx context.Context,
	before time.Time,
	after *DueCursor,
	limit int,
) ([]Profile, error) {
	if limit <= 0 {
		limit = 100
	}

	var afterAt, afterID any
	if after != nil {
		afterAt, afterID = after.EffectiveAt, after.ID
	}

	query := `SELECT ` + profileColumns + `
		FROM profiles
		WHERE pending_tier IS NOT NULL
		  AND tier_effective_at IS NOT NULL
		  AND tier_effective_at <= $1
		  AND ($2::timestamptz IS NULL
		       OR (tier_effective_at, id) > ($2::timestamptz, $3::text))
		ORDER BY tier_effective_at ASC, id ASC
		LIMIT $4`

	var profiles []Profile
	if err := r.db.SelectContext(ctx, &profiles, query, before, afterAt, afterID, limit); err != nil {
		return nil, storeError("list due pending", err)
	}

	return profiles, nil
}

// buildPatchQuery writes only the patched columns and always stamps
// updated_at. An empty patch still touches updated_at and returns the row.
func buildPatchQuery(id string, patch Patch) (string, []any) {
	assignments := patch.assignments()

	sets := make([]string, 0, len(assignments)+1)
	args := make([]any, 0, len(assignments)+1)
	args = append(args, id)

	for i, a := range assignments {
		sets = append(sets, fmt.Sprintf("%s = $%d", a.column, i+2))
		args = append(args, a.value)
	}
	sets = append(sets, "updated_at = NOW()")

	query := fmt.Sprintf(`
		UPDATE profiles
		SET %s
		WHERE id = $1
		RETURNING %s`,
		strings.Join(sets, ", "), profileColumns)

	return query, args
}
