// AngelaMos | 2026
// patch_test.go

package profile

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatchIsEmpty(t *testing.T) {
	assert.True(t, Patch{}.IsEmpty())
	assert.False(t, Patch{PendingTier: Null[Tier]()}.IsEmpty())
	assert.False(t, Patch{Tier: Value(TierPro)}.IsEmpty())
}

func TestPatchApply(t *testing.T) {
	effective := time.Unix(1_800_000_000, 0)
	pending := TierStarter
	base := Profile{
		ID:              "seller-1",
		Role:            RoleBuyer,
		Tier:            TierMerchant,
		PendingTier:     &pending,
		TierEffectiveAt: &effective,
	}

	out := Patch{
		Tier:                Value(TierPro),
		Role:                Value(RoleSeller),
		PendingTier:         Null[Tier](),
		TierEffectiveAt:     Null[time.Time](),
		ProcessorCustomerID: Value("cus_1"),
	}.Apply(base)

	assert.Equal(t, TierPro, out.Tier)
	assert.Equal(t, RoleSeller, out.Role)
	assert.Nil(t, out.PendingTier)
	assert.Nil(t, out.TierEffectiveAt)
	require.NotNil(t, out.ProcessorCustomerID)
	assert.Equal(t, "cus_1", *out.ProcessorCustomerID)

	assert.Equal(t, TierMerchant, base.Tier, "source profile must not change")
	require.NotNil(t, base.PendingTier)
}

func TestBuildPatchQuery(t *testing.T) {
	end := time.Unix(1_800_000_000, 0)
	query, args := buildPatchQuery("seller-1", Patch{
		Tier:                        Value(TierPro),
		PendingTier:                 Null[Tier](),
		ProcessorSubscriptionStatus: Value("active"),
		ProcessorCurrentPeriodEnd:   Value(end),
	})

	assert.Contains(t, query, "tier = $2")
	assert.Contains(t, query, "pending_tier = $3")
	assert.Contains(t, query, "processor_subscription_status = $4")
	assert.Contains(t, query, "processor_current_period_end = $5")
	assert.Contains(t, query, "updated_at = NOW()")
	assert.NotContains(t, query, "processor_customer_id =")
	assert.True(t, strings.Contains(query, "WHERE id = $1"))

	require.Len(t, args, 5)
	assert.Equal(t, "seller-1", args[0])
	assert.Equal(t, TierPro, args[1])
	assert.Nil(t, args[2])
	assert.Equal(t, "active", args[3])
	assert.Equal(t, end, args[4])
}

func TestBuildPatchQueryEmptyPatchStampsUpdatedAt(t *testing.T) {
	query, args := buildPatchQuery("seller-1", Patch{})

	assert.Contains(t, query, "SET updated_at = NOW()")
	assert.Equal(t, []any{"seller-1"}, args)
}

func TestTierRankAndParse(t *testing.T) {
	assert.Less(t, TierStarter.Rank(), TierPro.Rank())
	assert.Less(t, TierPro.Rank(), TierMerchant.Rank())
	assert.Less(t, TierMerchant.Rank(), TierEnterprise.Rank())
	assert.Equal(t, 0, TierUnsubscribed.Rank())

	tier, ok := ParseTier(" PRO ")
	assert.True(t, ok)
	assert.Equal(t, TierPro, tier)

	tier, ok = ParseTier("UNSUBSCRIBED")
	assert.True(t, ok)
	assert.Equal(t, TierUnsubscribed, tier)

	_, ok = ParseTier("platinum")
	assert.False(t, ok)
}

func TestHasDuePending(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	pending := TierStarter
	past := now.Add(-time.Second)
	future := now.Add(time.Hour)

	assert.False(t, (&Profile{}).HasDuePending(now))
	assert.True(t, (&Profile{PendingTier: &pending, TierEffectiveAt: &past}).HasDuePending(now))
	assert.True(t, (&Profile{PendingTier: &pending, TierEffectiveAt: &now}).HasDuePending(now))
	assert.False(t, (&Profile{PendingTier: &pending, TierEffectiveAt: &future}).HasDuePending(now))
}

func TestStoreErrorCarriesSQLState(t *testing.T) {
	err := storeError("patch", &pgconn.PgError{Code: "42501", Message: "permission denied"})

	var se *StoreError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "42501", se.SQLState)
	assert.Contains(t, err.Error(), "sqlstate 42501")
}

func TestCursorAfter(t *testing.T) {
	at := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	tier := TierStarter

	c := CursorAfter(&Profile{ID: "p1", PendingTier: &tier, TierEffectiveAt: &at})
	assert.Equal(t, "p1", c.ID)
	assert.True(t, at.Equal(c.EffectiveAt))

	assert.True(t, CursorAfter(&Profile{ID: "p2"}).EffectiveAt.IsZero())
}
