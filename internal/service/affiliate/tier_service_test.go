package affiliate

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dumeirei/affiliate-ledger/internal/common/errors"
	"github.com/dumeirei/affiliate-ledger/internal/models"
)

func TestRules_TierFor(t *testing.T) {
	rules := DefaultRules()
	tests := []struct {
		current, previous int
		want              string
		rate              string
	}{
		{0, 0, models.TierStarter, "0.20"},
		{2, 9, models.TierStarter, "0.20"},
		{3, 0, models.TierActive, "0.25"},
		{5, 4, models.TierActive, "0.25"},
		{4, 5, models.TierActive, "0.25"},
		{5, 5, models.TierPartner, "0.30"},
		{12, 7, models.TierPartner, "0.30"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_%d", tt.current, tt.previous), func(t *testing.T) {
			tier, rate := rules.TierFor(tt.current, tt.previous)
			assert.Equal(t, tt.want, tier)
			requireMoney(t, tt.rate, rate)
		})
	}
}

func TestRules_RateFor(t *testing.T) {
	rules := DefaultRules()
	rate, ok := rules.RateFor(models.TierPartner)
	assert.True(t, ok)
	requireMoney(t, "0.30", rate)

	_, ok = rules.RateFor("GOLD")
	assert.False(t, ok)
}

func TestRollMonth(t *testing.T) {
	t.Run("同月不滚动", func(t *testing.T) {
		a := &models.Affiliate{SalesMonth: "2026-03", CurrentMonthSales: 4, PreviousMonthSales: 2}
		assert.False(t, rollMonth(a, testStart))
		assert.Equal(t, 4, a.CurrentMonthSales)
		assert.Equal(t, 2, a.PreviousMonthSales)
	})

	t.Run("相邻月份保留上月销量", func(t *testing.T) {
		a := &models.Affiliate{SalesMonth: "2026-02", CurrentMonthSales: 6}
		assert.True(t, rollMonth(a, testStart))
		assert.Equal(t, "2026-03", a.SalesMonth)
		assert.Equal(t, 6, a.PreviousMonthSales)
		assert.Zero(t, a.CurrentMonthSales)
	})

	t.Run("跨年", func(t *testing.T) {
		a := &models.Affiliate{SalesMonth: "2025-12", CurrentMonthSales: 3}
		assert.True(t, rollMonth(a, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)))
		assert.Equal(t, 3, a.PreviousMonthSales)
	})

	t.Run("隔月清零", func(t *testing.T) {
		a := &models.Affiliate{SalesMonth: "2026-01", CurrentMonthSales: 8, PreviousMonthSales: 8}
		assert.True(t, rollMonth(a, testStart))
		assert.Zero(t, a.PreviousMonthSales)
		assert.Zero(t, a.CurrentMonthSales)
	})
}

func TestTierService_PartnerNeedsTwoMonths(t *testing.T) {
	env := newTestEnv(t)
	a := env.newAffiliate(t, "TIER001")

	for i := 1; i <= 5; i++ {
		env.record(t, "TIER001", fmt.Sprintf("MAR-%d", i), "100.00")
	}
	got := env.get(t, a.ID)
	assert.Equal(t, models.TierActive, got.Tier)
	assert.Equal(t, 5, got.CurrentMonthSales)

	env.clock.Set(time.Date(2026, 4, 5, 9, 0, 0, 0, time.UTC))
	first := env.record(t, "TIER001", "APR-1", "100.00")
	requireMoney(t, "20.00", first.CommissionAmount)
	got = env.get(t, a.ID)
	assert.Equal(t, models.TierStarter, got.Tier)
	assert.Equal(t, 5, got.PreviousMonthSales)
	assert.Equal(t, 1, got.CurrentMonthSales)

	env.record(t, "TIER001", "APR-2", "100.00")
	env.record(t, "TIER001", "APR-3", "100.00")
	assert.Equal(t, models.TierActive, env.get(t, a.ID).Tier)
	env.record(t, "TIER001", "APR-4", "100.00")
	fifth := env.record(t, "TIER001", "APR-5", "100.00")
	requireMoney(t, "25.00", fifth.CommissionAmount)
	assert.Equal(t, models.TierPartner, env.get(t, a.ID).Tier)

	sixth := env.record(t, "TIER001", "APR-6", "100.00")
	requireMoney(t, "30.00", sixth.CommissionAmount)

	logs, total, err := env.audits.List(context.Background(), 0, 50, map[string]interface{}{
		"affiliate_id": a.ID,
		"action":       models.AuditActionMonthReset,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "2026-03", logs[0].FromStatus)
	assert.Equal(t, "2026-04", logs[0].ToStatus)
	env.requireConsistent(t, a.ID)
}

func TestTierService_CheckAndResetMonthlySales(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.newAffiliate(t, "RESET01")
	for i := 1; i <= 5; i++ {
		env.record(t, "RESET01", fmt.Sprintf("ORD-%d", i), "10.00")
	}

	reset, err := env.tiers.CheckAndResetMonthlySales(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, reset)

	// 跳过四月
	env.clock.Set(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	reset, err = env.tiers.CheckAndResetMonthlySales(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, reset)

	got := env.get(t, a.ID)
	assert.Equal(t, "2026-05", got.SalesMonth)
	assert.Zero(t, got.PreviousMonthSales)
	assert.Zero(t, got.CurrentMonthSales)
	assert.Equal(t, models.TierStarter, got.Tier)
	assert.Equal(t, int64(5), got.LifetimeConversions)

	reset, err = env.tiers.CheckAndResetMonthlySales(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, reset)

	_, err = env.tiers.CheckAndResetMonthlySales(ctx, 404)
	assert.True(t, errors.Is(err, errors.ErrAffiliateNotFound))
}

func TestTierService_OverrideTier(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.newAffiliate(t, "OVRD001")

	_, err := env.tiers.OverrideTier(ctx, a.ID, "GOLD", 1)
	assert.True(t, errors.Is(err, errors.ErrInvalidTier))

	updated, err := env.tiers.OverrideTier(ctx, a.ID, models.TierPartner, 1)
	require.NoError(t, err)
	assert.Equal(t, models.TierPartner, updated.Tier)
	requireMoney(t, "0.30", updated.CommissionRate)

	t.Run("人工等级用于下一笔转化后被重算", func(t *testing.T) {
		c := env.record(t, "OVRD001", "ORD-1", "100.00")
		requireMoney(t, "30.00", c.CommissionAmount)

		got := env.get(t, a.ID)
		assert.Equal(t, models.TierStarter, got.Tier)
		requireMoney(t, "0.20", got.CommissionRate)
	})

	t.Run("显式重算", func(t *testing.T) {
		_, err := env.tiers.OverrideTier(ctx, a.ID, models.TierActive, 1)
		require.NoError(t, err)

		got, err := env.tiers.RecalculateTier(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TierStarter, got.Tier)
	})

	env.requireConsistent(t, a.ID)
}

func TestTierService_MonthlyReward(t *testing.T) {
	env := newTestEnv(t, func(r *Rules) { r.RewardThreshold = 3 })
	ctx := context.Background()
	a := env.newAffiliate(t, "RWRD001")

	env.record(t, "RWRD001", "ORD-1", "10.00")
	env.record(t, "RWRD001", "ORD-2", "10.00")
	ok, err := env.tiers.IsRewardEligible(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = env.tiers.MarkRewardIssued(ctx, a.ID, 1)
	assert.True(t, errors.Is(err, errors.ErrRewardNotEligible))

	env.record(t, "RWRD001", "ORD-3", "10.00")
	ok, err = env.tiers.IsRewardEligible(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	updated, err := env.tiers.MarkRewardIssued(ctx, a.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "2026-03", updated.LastRewardMonth)

	ok, err = env.tiers.IsRewardEligible(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = env.tiers.MarkRewardIssued(ctx, a.ID, 1)
	assert.True(t, errors.Is(err, errors.ErrRewardNotEligible))

	// 下个月销量从零开始
	env.clock.Set(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	ok, err = env.tiers.IsRewardEligible(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}
