package affiliate

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dumeirei/affiliate-ledger/internal/common/crypto"
	"github.com/dumeirei/affiliate-ledger/internal/common/logger"
	"github.com/dumeirei/affiliate-ledger/internal/common/tracing"
	"github.com/dumeirei/affiliate-ledger/internal/models"
)

// DashboardService 推广员仪表盘服务
type DashboardService struct {
	*Ledger
}

// NewDashboardService 创建推广员仪表盘服务
func NewDashboardService(l *Ledger) *DashboardService {
	return &DashboardService{Ledger: l}
}

// Dashboard 推广员仪表盘
type Dashboard struct {
	AffiliateID         int64           `json:"affiliate_id"`
	Name                string          `json:"name"`
	ReferralCode        string          `json:"referral_code"`
	Status              string          `json:"status"`
	Tier                string          `json:"tier"`
	CommissionRate      decimal.Decimal `json:"commission_rate"`
	LifetimeClicks      int64           `json:"lifetime_clicks"`
	LifetimeConversions int64           `json:"lifetime_conversions"`
	LifetimeEarnings    decimal.Decimal `json:"lifetime_earnings"`
	PendingEarnings     decimal.Decimal `json:"pending_earnings"`
	AvailableBalance    decimal.Decimal `json:"available_balance"`
	CurrentMonthSales   int             `json:"current_month_sales"`
	PreviousMonthSales  int             `json:"previous_month_sales"`
	SalesMonth          string          `json:"sales_month"`
	RewardThreshold     int             `json:"reward_threshold"`
	RewardEligible      bool            `json:"reward_eligible"`
	MinPayout           decimal.Decimal `json:"min_payout"`
	CanRequestPayout    bool            `json:"can_request_payout"`
	PayoutMethod        string          `json:"payout_method,omitempty"`
	PayoutDestination   string          `json:"payout_destination,omitempty"` // 脱敏
	OpenPayout          *models.Payout  `json:"open_payout,omitempty"`
	ClearedNow          int             `json:"cleared_now"`
}

// GetDashboard 结算到期转化后返回推广员仪表盘
func (s *DashboardService) GetDashboard(ctx context.Context, affiliateID int64) (d *Dashboard, err error) {
	ctx, span := tracing.Start(ctx, "affiliate.GetDashboard", tracing.WithAffiliateID(affiliateID))
	defer func() { tracing.End(span, err) }()

	now := s.Now()
	var a *models.Affiliate
	var open *models.Payout
	var cleared *ClearResult

	err = s.inTx(ctx, func(r *txRepos) error {
		var lerr error
		a, lerr = s.lockAffiliate(ctx, r, affiliateID)
		if lerr != nil {
			return lerr
		}
		rolled, lerr := s.refreshMonthAndTier(ctx, r, a, now)
		if lerr != nil {
			return lerr
		}
		if cleared, lerr = s.clearDue(ctx, r, a, now); lerr != nil {
			return lerr
		}
		if rolled || cleared.Cleared > 0 {
			if lerr = s.saveAffiliate(ctx, r, a); lerr != nil {
				return lerr
			}
		}
		open, lerr = r.payouts.GetPendingByAffiliate(ctx, a.ID)
		return lerr
	})
	if err != nil {
		return nil, err
	}
	s.recordCleared(cleared)

	d = &Dashboard{
		AffiliateID:         a.ID,
		Name:                a.Name,
		ReferralCode:        a.ReferralCode,
		Status:              a.Status,
		Tier:                a.Tier,
		CommissionRate:      a.CommissionRate,
		LifetimeClicks:      a.LifetimeClicks,
		LifetimeConversions: a.LifetimeConversions,
		LifetimeEarnings:    a.LifetimeEarnings,
		PendingEarnings:     a.PendingEarnings,
		AvailableBalance:    a.AvailableBalance,
		CurrentMonthSales:   a.CurrentMonthSales,
		PreviousMonthSales:  a.PreviousMonthSales,
		SalesMonth:          a.SalesMonth,
		RewardThreshold:     s.rules.RewardThreshold,
		RewardEligible:      s.rules.rewardEligible(a, now),
		MinPayout:           s.rules.MinPayout,
		PayoutMethod:        a.PayoutMethod,
		OpenPayout:          open,
		ClearedNow:          cleared.Cleared,
	}
	d.CanRequestPayout = a.IsActive() && open == nil && a.HasPayoutMethod() &&
		a.AvailableBalance.IsPositive() && a.AvailableBalance.GreaterThanOrEqual(s.rules.MinPayout)

	if a.PayoutDestination != "" {
		plain, derr := s.decryptDestination(a.PayoutDestination)
		if derr != nil {
			s.log.Warn("decrypt payout destination failed", logger.AffiliateID(a.ID), zap.Error(derr))
			d.PayoutDestination = "****"
		} else {
			d.PayoutDestination = crypto.MaskDestination(plain)
		}
	}
	return d, nil
}

// ListConversions 推广员转化记录
func (s *DashboardService) ListConversions(ctx context.Context, affiliateID int64, offset, limit int, filters map[string]interface{}) ([]*models.Conversion, int64, error) {
	if filters == nil {
		filters = map[string]interface{}{}
	}
	filters["affiliate_id"] = affiliateID
	list, total, err := s.conversions.List(ctx, offset, limit, filters)
	if err != nil {
		return nil, 0, storeError(err)
	}
	return list, total, nil
}

// ListPayouts 推广员提现记录
func (s *DashboardService) ListPayouts(ctx context.Context, affiliateID int64, offset, limit int, filters map[string]interface{}) ([]*models.Payout, int64, error) {
	if filters == nil {
		filters = map[string]interface{}{}
	}
	filters["affiliate_id"] = affiliateID
	list, total, err := s.payouts.List(ctx, offset, limit, filters)
	if err != nil {
		return nil, 0, storeError(err)
	}
	return list, total, nil
}
