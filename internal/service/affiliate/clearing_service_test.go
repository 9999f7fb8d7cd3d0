package affiliate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dumeirei/affiliate-ledger/internal/common/errors"
	"github.com/dumeirei/affiliate-ledger/internal/models"
)

func TestClearingService_HoldPeriod(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.newAffiliate(t, "HOLD001")
	c := env.record(t, "HOLD001", "ORD-1", "100.00")

	env.clock.Advance(29 * 24 * time.Hour)
	res, err := env.clearing.ClearDueConversions(ctx, a.ID)
	require.NoError(t, err)
	assert.Zero(t, res.Cleared)
	assert.Equal(t, models.ConversionStatusPending, env.conversion(t, c.ID).Status)
	requireMoney(t, "0", env.get(t, a.ID).AvailableBalance)

	// 恰好到期
	env.clock.Set(c.HoldExpiresAt)
	res, err = env.clearing.ClearDueConversions(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Cleared)
	requireMoney(t, "20.00", res.Amount)

	stored := env.conversion(t, c.ID)
	assert.Equal(t, models.ConversionStatusCleared, stored.Status)
	require.NotNil(t, stored.ClearedAt)

	t.Run("重复结算无副作用", func(t *testing.T) {
		before := env.get(t, a.ID)
		res, err := env.clearing.ClearDueConversions(ctx, a.ID)
		require.NoError(t, err)
		assert.Zero(t, res.Cleared)

		after := env.get(t, a.ID)
		requireMoney(t, before.AvailableBalance.String(), after.AvailableBalance)
		assert.Equal(t, before.Version, after.Version)
	})

	env.requireConsistent(t, a.ID)

	_, err = env.clearing.ClearDueConversions(ctx, 404)
	assert.True(t, errors.Is(err, errors.ErrAffiliateNotFound))
}

func TestClearingService_PartialClear(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.newAffiliate(t, "PART001")

	env.record(t, "PART001", "ORD-1", "100.00")
	env.clock.Advance(10 * 24 * time.Hour)
	late := env.record(t, "PART001", "ORD-2", "50.00")
	env.clock.Advance(21 * 24 * time.Hour)

	res, err := env.clearing.ClearDueConversions(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Cleared)

	got := env.get(t, a.ID)
	requireMoney(t, "20.00", got.AvailableBalance)
	requireMoney(t, "10.00", got.PendingEarnings)
	assert.Equal(t, models.ConversionStatusPending, env.conversion(t, late.ID).Status)
	env.requireConsistent(t, a.ID)
}

func TestClearingService_SweepDue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.newAffiliate(t, "SWEEP01")
	b := env.newAffiliate(t, "SWEEP02")
	idle := env.newAffiliate(t, "SWEEP03")

	env.record(t, "SWEEP01", "ORD-A1", "100.00")
	env.record(t, "SWEEP01", "ORD-A2", "50.00")
	env.clock.Advance(20 * 24 * time.Hour)
	env.record(t, "SWEEP02", "ORD-B1", "100.00")
	env.clock.Advance(11 * 24 * time.Hour)

	res, err := env.clearing.SweepDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Affiliates)
	assert.Equal(t, 2, res.Cleared)
	assert.Zero(t, res.Failed)
	requireMoney(t, "30.00", res.Amount)

	requireMoney(t, "30.00", env.get(t, a.ID).AvailableBalance)
	requireMoney(t, "0", env.get(t, b.ID).AvailableBalance)
	requireMoney(t, "20.00", env.get(t, b.ID).PendingEarnings)

	// 停用不影响结算
	_, err = env.affiliates.SetStatus(ctx, b.ID, models.AffiliateStatusSuspended, 1)
	require.NoError(t, err)
	env.clock.Advance(20 * 24 * time.Hour)
	res, err = env.clearing.SweepDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Affiliates)
	assert.Equal(t, 1, res.Cleared)
	requireMoney(t, "20.00", env.get(t, b.ID).AvailableBalance)

	for _, id := range []int64{a.ID, b.ID, idle.ID} {
		env.requireConsistent(t, id)
	}
}
