package affiliate

import (
	"context"
	"regexp"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dumeirei/affiliate-ledger/internal/common/config"
	"github.com/dumeirei/affiliate-ledger/internal/common/errors"
	"github.com/dumeirei/affiliate-ledger/internal/models"
)

func TestAffiliateService_Create(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("指定推广码统一转大写", func(t *testing.T) {
		a, err := env.affiliates.Create(ctx, &CreateAffiliateRequest{
			UserID:       100,
			Name:         " 小王 ",
			ReferralCode: "wang_01",
		}, 1)
		require.NoError(t, err)
		assert.Equal(t, "WANG_01", a.ReferralCode)
		assert.Equal(t, "小王", a.Name)
		assert.Equal(t, models.TierStarter, a.Tier)
		requireMoney(t, "0.20", a.CommissionRate)
		assert.Equal(t, "2026-03", a.SalesMonth)
	})

	t.Run("自动生成推广码", func(t *testing.T) {
		a, err := env.affiliates.Create(ctx, &CreateAffiliateRequest{UserID: 101, Name: "小李"}, 1)
		require.NoError(t, err)
		assert.Regexp(t, regexp.MustCompile(`^[A-Z2-9]{8}$`), a.ReferralCode)
	})

	t.Run("同一用户不能重复创建", func(t *testing.T) {
		_, err := env.affiliates.Create(ctx, &CreateAffiliateRequest{UserID: 100, Name: "again"}, 1)
		assert.True(t, errors.Is(err, errors.ErrAffiliateExists))
	})

	t.Run("推广码已被占用", func(t *testing.T) {
		_, err := env.affiliates.Create(ctx, &CreateAffiliateRequest{UserID: 102, Name: "x", ReferralCode: "WANG_01"}, 1)
		assert.True(t, errors.Is(err, errors.ErrReferralCodeExists))
	})

	t.Run("推广码格式错误", func(t *testing.T) {
		_, err := env.affiliates.Create(ctx, &CreateAffiliateRequest{UserID: 103, Name: "x", ReferralCode: "a b"}, 1)
		assert.True(t, errors.Is(err, errors.ErrInvalidReferralCode))
	})

	t.Run("缺少必填项", func(t *testing.T) {
		_, err := env.affiliates.Create(ctx, &CreateAffiliateRequest{UserID: 104, Name: "   "}, 1)
		assert.True(t, errors.Is(err, errors.ErrInvalidParams))
	})

	list, total, err := env.affiliates.List(ctx, 0, 10, map[string]interface{}{"keyword": "WANG"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, int64(100), list[0].UserID)
}

func TestAffiliateService_SetPayoutMethod(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.newAffiliateWithoutMethod(t, "METHOD1")

	cases := []struct {
		name string
		req  *SetPayoutMethodRequest
		want error
	}{
		{"未知方式", &SetPayoutMethodRequest{Method: "CHEQUE", Destination: "x"}, errors.ErrInvalidPayoutMethod},
		{"PayPal 非邮箱", &SetPayoutMethodRequest{Method: models.PayoutMethodPayPal, Destination: "not-an-email"}, errors.ErrInvalidParams},
		{"银行账号过短", &SetPayoutMethodRequest{Method: models.PayoutMethodBank, Destination: "12"}, errors.ErrInvalidParams},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.affiliates.SetPayoutMethod(ctx, a.ID, tc.req)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}

	updated, err := env.affiliates.SetPayoutMethod(ctx, a.ID, &SetPayoutMethodRequest{
		Method:      models.PayoutMethodBank,
		Destination: "6222020200112233",
	})
	require.NoError(t, err)
	assert.Equal(t, models.PayoutMethodBank, updated.PayoutMethod)

	stored := env.get(t, a.ID)
	assert.NotEqual(t, "6222020200112233", stored.PayoutDestination)
	plain, err := env.ledger.decryptDestination(stored.PayoutDestination)
	require.NoError(t, err)
	assert.Equal(t, "6222020200112233", plain)
}

func TestAffiliateService_SetStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.newAffiliate(t, "STATUS1")

	_, err := env.affiliates.SetStatus(ctx, a.ID, "BANNED", 1)
	assert.True(t, errors.Is(err, errors.ErrAffiliateStatusInvalid))

	updated, err := env.affiliates.SetStatus(ctx, a.ID, models.AffiliateStatusSuspended, 1)
	require.NoError(t, err)
	assert.Equal(t, models.AffiliateStatusSuspended, updated.Status)

	// 相同状态不写审计
	_, err = env.affiliates.SetStatus(ctx, a.ID, models.AffiliateStatusSuspended, 1)
	require.NoError(t, err)

	_, total, err := env.audits.List(ctx, 0, 10, map[string]interface{}{
		"affiliate_id": a.ID,
		"action":       models.AuditActionStatusChange,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestAffiliateService_AdjustBalance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.newAffiliate(t, "ADJUST1")

	t.Run("参数校验", func(t *testing.T) {
		_, err := env.affiliates.AdjustBalance(ctx, a.ID, &AdjustBalanceRequest{Amount: decimal.NewFromInt(5)}, 1)
		assert.True(t, errors.Is(err, errors.ErrInvalidParams))

		_, err = env.affiliates.AdjustBalance(ctx, a.ID, &AdjustBalanceRequest{Amount: decimal.RequireFromString("1.005"), Reason: "x"}, 1)
		assert.True(t, errors.Is(err, errors.ErrInvalidParams))

		_, err = env.affiliates.AdjustBalance(ctx, a.ID, &AdjustBalanceRequest{Reason: "x"}, 1)
		assert.True(t, errors.Is(err, errors.ErrInvalidParams))
	})

	updated, err := env.affiliates.AdjustBalance(ctx, a.ID, &AdjustBalanceRequest{
		Amount: decimal.RequireFromString("15.50"),
		Reason: "活动补贴",
	}, 1)
	require.NoError(t, err)
	requireMoney(t, "15.50", updated.AvailableBalance)
	requireMoney(t, "15.50", updated.LedgerAdjustment)

	_, err = env.affiliates.AdjustBalance(ctx, a.ID, &AdjustBalanceRequest{
		Amount: decimal.RequireFromString("-20"),
		Reason: "超额扣减",
	}, 1)
	assert.True(t, errors.Is(err, errors.ErrInsufficientBalance))
	requireMoney(t, "15.50", env.get(t, a.ID).AvailableBalance)

	env.requireConsistent(t, a.ID)
}

func TestAffiliateService_VerifyLedgerDetectsDrift(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.newAffiliate(t, "DRIFT01")
	env.record(t, "DRIFT01", "ORD-1", "100.00")
	env.clock.Advance(holdPlusOneDay)
	_, err := env.clearing.ClearDueConversions(ctx, a.ID)
	require.NoError(t, err)

	check := env.requireConsistent(t, a.ID)
	requireMoney(t, "20.00", check.ClearedCommission)

	require.NoError(t, env.db.Model(&models.Affiliate{}).
		Where("id = ?", a.ID).
		Update("available_balance", decimal.RequireFromString("25.00")).Error)

	check, err = env.affiliates.VerifyLedger(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, check.Consistent)
	requireMoney(t, "20.00", check.ExpectedBalance)
	requireMoney(t, "25.00", check.AvailableBalance)
}

func TestRulesFromConfig(t *testing.T) {
	cfg := &config.AffiliateConfig{
		HoldDays:         14,
		MinPayout:        "25.00",
		RewardThreshold:  8,
		StarterRate:      "0.10",
		ActiveThreshold:  2,
		ActiveRate:       "0.15",
		PartnerThreshold: 4,
		PartnerRate:      "0.20",
	}

	rules, err := RulesFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 14*24, int(rules.HoldPeriod.Hours()))
	requireMoney(t, "25", rules.MinPayout)
	requireMoney(t, "0.15", rules.ActiveRate)
	assert.Equal(t, 8, rules.RewardThreshold)

	t.Run("比例格式错误", func(t *testing.T) {
		bad := *cfg
		bad.PartnerRate = "thirty"
		_, err := RulesFromConfig(&bad)
		assert.ErrorContains(t, err, "partner_rate")
	})

	t.Run("比例超出范围", func(t *testing.T) {
		bad := *cfg
		bad.StarterRate = "1.5"
		_, err := RulesFromConfig(&bad)
		assert.Error(t, err)
	})

	t.Run("阈值顺序错误", func(t *testing.T) {
		bad := *cfg
		bad.PartnerThreshold = 1
		_, err := RulesFromConfig(&bad)
		assert.Error(t, err)
	})

	t.Run("冻结期为负", func(t *testing.T) {
		bad := *cfg
		bad.HoldDays = -1
		_, err := RulesFromConfig(&bad)
		assert.Error(t, err)
	})

	assert.NoError(t, DefaultRules().Validate())
}
