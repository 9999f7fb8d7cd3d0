package affiliate

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dumeirei/affiliate-ledger/internal/common/logger"
	"github.com/dumeirei/affiliate-ledger/internal/common/tracing"
	"github.com/dumeirei/affiliate-ledger/internal/models"
)

// ClearResult 单个推广员的结算结果
type ClearResult struct {
	AffiliateID int64           `json:"affiliate_id"`
	Cleared     int             `json:"cleared"`
	Amount      decimal.Decimal `json:"amount"`

	amounts []decimal.Decimal
}

// clearDue 结算已过冻结期的转化，调用方须已锁定推广员并负责保存
func (l *Ledger) clearDue(ctx context.Context, r *txRepos, a *models.Affiliate, now time.Time) (*ClearResult, error) {
	result := &ClearResult{AffiliateID: a.ID, Amount: decimal.Zero}

	pending, err := r.conversions.ListPendingByAffiliate(ctx, a.ID)
	if err != nil {
		return nil, err
	}

	for _, c := range pending {
		if !c.IsDue(now) {
			continue
		}
		ok, err := r.conversions.Clear(ctx, c.ID, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		a.PendingEarnings = money(a.PendingEarnings.Sub(c.CommissionAmount))
		a.AvailableBalance = money(a.AvailableBalance.Add(c.CommissionAmount))
		a.LifetimeEarnings = money(a.LifetimeEarnings.Add(c.CommissionAmount))

		err = l.audit(ctx, r, SystemActor, auditEntry{
			entityType:  models.AuditEntityConversion,
			entityID:    c.ID,
			affiliateID: a.ID,
			action:      models.AuditActionClear,
			from:        models.ConversionStatusPending,
			to:          models.ConversionStatusCleared,
			amount:      amountPtr(c.CommissionAmount),
		})
		if err != nil {
			return nil, err
		}

		result.Cleared++
		result.Amount = result.Amount.Add(c.CommissionAmount)
		result.amounts = append(result.amounts, c.CommissionAmount)
	}
	return result, nil
}

// recordCleared 事务提交后记录结算指标与日志
func (l *Ledger) recordCleared(result *ClearResult) {
	if result == nil || result.Cleared == 0 {
		return
	}
	for _, amount := range result.amounts {
		l.metrics.RecordCleared(amount)
	}
	l.log.Info("conversions cleared",
		logger.AffiliateID(result.AffiliateID),
		zap.Int("count", result.Cleared),
		logger.Amount(result.Amount),
	)
}

// ClearingService 结算服务
type ClearingService struct {
	*Ledger
}

// NewClearingService 创建结算服务
func NewClearingService(l *Ledger) *ClearingService {
	return &ClearingService{Ledger: l}
}

// ClearDueConversions 结算推广员所有已到期的待结算转化，无到期转化时不做任何修改
func (s *ClearingService) ClearDueConversions(ctx context.Context, affiliateID int64) (result *ClearResult, err error) {
	ctx, span := tracing.Start(ctx, "affiliate.ClearDueConversions", tracing.WithAffiliateID(affiliateID))
	defer func() { tracing.End(span, err) }()

	return s.commitClearing(ctx, affiliateID, s.Now())
}

// commitClearing 在独立事务中结算并提交，后续操作失败不会回滚已结算的转化
func (l *Ledger) commitClearing(ctx context.Context, affiliateID int64, now time.Time) (*ClearResult, error) {
	var result *ClearResult
	err := l.inTx(ctx, func(r *txRepos) error {
		a, lerr := l.lockAffiliate(ctx, r, affiliateID)
		if lerr != nil {
			return lerr
		}
		result, lerr = l.clearDue(ctx, r, a, now)
		if lerr != nil || result.Cleared == 0 {
			return lerr
		}
		return l.saveAffiliate(ctx, r, a)
	})
	if err != nil {
		return nil, err
	}
	l.recordCleared(result)
	return result, nil
}

// SweepResult 全量结算结果
type SweepResult struct {
	Affiliates int             `json:"affiliates"`
	Cleared    int             `json:"cleared"`
	Amount     decimal.Decimal `json:"amount"`
	Failed     int             `json:"failed"`
}

// SweepDue 对所有有待结算转化的推广员执行结算，单个推广员失败不影响其他
func (s *ClearingService) SweepDue(ctx context.Context) (result *SweepResult, err error) {
	ctx, span := tracing.Start(ctx, "affiliate.SweepDue")
	defer func() { tracing.End(span, err) }()

	ids, err := s.conversions.ListAffiliateIDsWithPending(ctx)
	if err != nil {
		return nil, storeError(err)
	}

	result = &SweepResult{Amount: decimal.Zero}
	for _, id := range ids {
		if ctx.Err() != nil {
			return result, storeError(ctx.Err())
		}
		res, cerr := s.ClearDueConversions(ctx, id)
		if cerr != nil {
			result.Failed++
			s.log.Warn("sweep affiliate failed", logger.AffiliateID(id), zap.Error(cerr))
			continue
		}
		result.Affiliates++
		result.Cleared += res.Cleared
		result.Amount = result.Amount.Add(res.Amount)
	}
	return result, nil
}
