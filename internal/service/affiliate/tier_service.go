package affiliate

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dumeirei/affiliate-ledger/internal/common/errors"
	"github.com/dumeirei/affiliate-ledger/internal/common/logger"
	"github.com/dumeirei/affiliate-ledger/internal/common/tracing"
	"github.com/dumeirei/affiliate-ledger/internal/common/utils"
	"github.com/dumeirei/affiliate-ledger/internal/models"
)

// TierFor 按本月与上月销量计算等级
// 本月达到 active 阈值为 ACTIVE；本月与上月都达到 partner 阈值为 PARTNER
func (r Rules) TierFor(current, previous int) (string, decimal.Decimal) {
	switch {
	case current >= r.PartnerThreshold && previous >= r.PartnerThreshold:
		return models.TierPartner, r.PartnerRate
	case current >= r.ActiveThreshold:
		return models.TierActive, r.ActiveRate
	default:
		return models.TierStarter, r.StarterRate
	}
}

// RateFor 等级对应的佣金比例
func (r Rules) RateFor(tier string) (decimal.Decimal, bool) {
	switch tier {
	case models.TierStarter:
		return r.StarterRate, true
	case models.TierActive:
		return r.ActiveRate, true
	case models.TierPartner:
		return r.PartnerRate, true
	}
	return decimal.Zero, false
}

// rollMonth 跨月时滚动月度销量，返回是否发生滚动
// 只有相邻月份的销量会保留为上月销量，中间隔月则清零
func rollMonth(a *models.Affiliate, now time.Time) bool {
	month := utils.MonthKey(now)
	if a.SalesMonth == month {
		return false
	}
	if a.SalesMonth == utils.PreviousMonthKey(now) {
		a.PreviousMonthSales = a.CurrentMonthSales
	} else {
		a.PreviousMonthSales = 0
	}
	a.CurrentMonthSales = 0
	a.SalesMonth = month
	return true
}

// monthSales 不写库的本月销量视图
func monthSales(a *models.Affiliate, now time.Time) int {
	if a.SalesMonth != utils.MonthKey(now) {
		return 0
	}
	return a.CurrentMonthSales
}

// rewardEligible 本月是否可领取月度奖励
func (r Rules) rewardEligible(a *models.Affiliate, now time.Time) bool {
	return monthSales(a, now) >= r.RewardThreshold && a.LastRewardMonth != utils.MonthKey(now)
}

// applyTier 重算等级，返回原等级及是否变化
func (r Rules) applyTier(a *models.Affiliate) (string, bool) {
	from := a.Tier
	tier, rate := r.TierFor(a.CurrentMonthSales, a.PreviousMonthSales)
	changed := tier != a.Tier || !rate.Equal(a.CommissionRate)
	a.Tier = tier
	a.CommissionRate = rate
	return from, changed
}

// refreshMonthAndTier 跨月滚动并重算等级，写审计日志，返回是否需要保存
func (l *Ledger) refreshMonthAndTier(ctx context.Context, r *txRepos, a *models.Affiliate, now time.Time) (bool, error) {
	prevMonth := a.SalesMonth
	if !rollMonth(a, now) {
		return false, nil
	}
	err := l.audit(ctx, r, SystemActor, auditEntry{
		entityType:  models.AuditEntityAffiliate,
		entityID:    a.ID,
		affiliateID: a.ID,
		action:      models.AuditActionMonthReset,
		from:        prevMonth,
		to:          a.SalesMonth,
		detail:      fmt.Sprintf("previous_month_sales=%d", a.PreviousMonthSales),
	})
	if err != nil {
		return false, err
	}
	if err := l.recalculate(ctx, r, a, SystemActor); err != nil {
		return false, err
	}
	return true, nil
}

// recalculate 重算等级，等级或比例变化时记审计
func (l *Ledger) recalculate(ctx context.Context, r *txRepos, a *models.Affiliate, actor Actor) error {
	from, changed := l.rules.applyTier(a)
	if !changed {
		return nil
	}
	rate := a.CommissionRate
	return l.audit(ctx, r, actor, auditEntry{
		entityType:  models.AuditEntityAffiliate,
		entityID:    a.ID,
		affiliateID: a.ID,
		action:      models.AuditActionTierChange,
		from:        from,
		to:          a.Tier,
		amount:      &rate,
		detail:      fmt.Sprintf("current=%d previous=%d", a.CurrentMonthSales, a.PreviousMonthSales),
	})
}

// TierService 等级服务
type TierService struct {
	*Ledger
}

// NewTierService 创建等级服务
func NewTierService(l *Ledger) *TierService {
	return &TierService{Ledger: l}
}

// RecalculateTier 按当前月度销量重算等级，会覆盖人工设定的等级
func (s *TierService) RecalculateTier(ctx context.Context, affiliateID int64) (a *models.Affiliate, err error) {
	ctx, span := tracing.Start(ctx, "affiliate.RecalculateTier", tracing.WithAffiliateID(affiliateID))
	defer func() { tracing.End(span, err) }()

	err = s.inTx(ctx, func(r *txRepos) error {
		var lerr error
		a, lerr = s.lockAffiliate(ctx, r, affiliateID)
		if lerr != nil {
			return lerr
		}
		if _, lerr = s.refreshMonthAndTier(ctx, r, a, s.Now()); lerr != nil {
			return lerr
		}
		if lerr = s.recalculate(ctx, r, a, SystemActor); lerr != nil {
			return lerr
		}
		return s.saveAffiliate(ctx, r, a)
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// CheckAndResetMonthlySales 跨月时重置月度销量，返回是否发生重置
func (s *TierService) CheckAndResetMonthlySales(ctx context.Context, affiliateID int64) (reset bool, err error) {
	ctx, span := tracing.Start(ctx, "affiliate.CheckAndResetMonthlySales", tracing.WithAffiliateID(affiliateID))
	defer func() { tracing.End(span, err) }()

	err = s.inTx(ctx, func(r *txRepos) error {
		a, lerr := s.lockAffiliate(ctx, r, affiliateID)
		if lerr != nil {
			return lerr
		}
		reset, lerr = s.refreshMonthAndTier(ctx, r, a, s.Now())
		if lerr != nil || !reset {
			return lerr
		}
		return s.saveAffiliate(ctx, r, a)
	})
	if err != nil {
		return false, err
	}
	if reset {
		s.log.Info("monthly sales reset", logger.AffiliateID(affiliateID))
	}
	return reset, nil
}

// IsRewardEligible 只读判断本月是否可领取月度奖励
func (s *TierService) IsRewardEligible(ctx context.Context, affiliateID int64) (bool, error) {
	a, err := s.getAffiliate(ctx, affiliateID)
	if err != nil {
		return false, err
	}
	return s.rules.rewardEligible(a, s.Now()), nil
}

// MarkRewardIssued 记录本月奖励已发放，奖励本身由外部发放
func (s *TierService) MarkRewardIssued(ctx context.Context, affiliateID, adminID int64) (a *models.Affiliate, err error) {
	ctx, span := tracing.Start(ctx, "affiliate.MarkRewardIssued", tracing.WithAffiliateID(affiliateID))
	defer func() { tracing.End(span, err) }()

	now := s.Now()
	err = s.inTx(ctx, func(r *txRepos) error {
		var lerr error
		a, lerr = s.lockAffiliate(ctx, r, affiliateID)
		if lerr != nil {
			return lerr
		}
		if _, lerr = s.refreshMonthAndTier(ctx, r, a, now); lerr != nil {
			return lerr
		}
		if !s.rules.rewardEligible(a, now) {
			return errors.ErrRewardNotEligible
		}
		a.LastRewardMonth = utils.MonthKey(now)
		if lerr = s.saveAffiliate(ctx, r, a); lerr != nil {
			return lerr
		}
		return s.audit(ctx, r, AdminActor(adminID), auditEntry{
			entityType:  models.AuditEntityAffiliate,
			entityID:    a.ID,
			affiliateID: a.ID,
			action:      models.AuditActionRewardIssued,
			to:          a.LastRewardMonth,
			detail:      fmt.Sprintf("month_sales=%d", a.CurrentMonthSales),
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("monthly reward issued",
		logger.AffiliateID(affiliateID),
		logger.AdminID(adminID),
		zap.String("month", a.LastRewardMonth),
	)
	return a, nil
}

// OverrideTier 人工设定等级，直到下一次重算
func (s *TierService) OverrideTier(ctx context.Context, affiliateID int64, tier string, adminID int64) (a *models.Affiliate, err error) {
	ctx, span := tracing.Start(ctx, "affiliate.OverrideTier", tracing.WithAffiliateID(affiliateID))
	defer func() { tracing.End(span, err) }()

	rate, ok := s.rules.RateFor(tier)
	if !ok {
		return nil, errors.ErrInvalidTier
	}

	err = s.inTx(ctx, func(r *txRepos) error {
		var lerr error
		a, lerr = s.lockAffiliate(ctx, r, affiliateID)
		if lerr != nil {
			return lerr
		}
		from := a.Tier
		a.Tier = tier
		a.CommissionRate = rate
		if lerr = s.saveAffiliate(ctx, r, a); lerr != nil {
			return lerr
		}
		return s.audit(ctx, r, AdminActor(adminID), auditEntry{
			entityType:  models.AuditEntityAffiliate,
			entityID:    a.ID,
			affiliateID: a.ID,
			action:      models.AuditActionTierChange,
			from:        from,
			to:          tier,
			amount:      amountPtr(rate),
			detail:      "manual override",
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("tier overridden",
		logger.AffiliateID(affiliateID),
		logger.AdminID(adminID),
		zap.String("tier", tier),
	)
	return a, nil
}
