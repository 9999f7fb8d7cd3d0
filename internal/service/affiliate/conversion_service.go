package affiliate

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dumeirei/affiliate-ledger/internal/common/errors"
	"github.com/dumeirei/affiliate-ledger/internal/common/logger"
	"github.com/dumeirei/affiliate-ledger/internal/common/tracing"
	"github.com/dumeirei/affiliate-ledger/internal/models"
	"github.com/dumeirei/affiliate-ledger/internal/notify"
)

// 转化结果指标标签
const (
	conversionRecorded  = "recorded"
	conversionDuplicate = "duplicate"
	conversionRejected  = "rejected"
)

// ConversionService 转化服务
type ConversionService struct {
	*Ledger
}

// NewConversionService 创建转化服务
func NewConversionService(l *Ledger) *ConversionService {
	return &ConversionService{Ledger: l}
}

// RecordConversionRequest 订单已支付
type RecordConversionRequest struct {
	ReferralCode string          `json:"referral_code" binding:"required"`
	OrderID      string          `json:"order_id" binding:"required"`
	Subtotal     decimal.Decimal `json:"subtotal"`
}

// RecordConversion 为已支付订单创建待结算转化，佣金按推广员当前比例计算且之后不再变化
func (s *ConversionService) RecordConversion(ctx context.Context, req *RecordConversionRequest) (conversion *models.Conversion, err error) {
	ctx, span := tracing.Start(ctx, "affiliate.RecordConversion", tracing.WithOrderID(req.OrderID))
	defer func() { tracing.End(span, err) }()

	code := strings.TrimSpace(req.ReferralCode)
	orderID := strings.TrimSpace(req.OrderID)
	if code == "" {
		return nil, errors.ErrInvalidReferralCode
	}
	if orderID == "" || len(orderID) > 64 {
		return nil, errors.ErrInvalidParams.WithMessage("无效的订单号")
	}
	if !req.Subtotal.IsPositive() {
		return nil, errors.ErrInvalidSubtotal
	}

	owner, err := s.affiliates.GetByReferralCode(ctx, code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.metrics.RecordConversion(conversionRejected, decimal.Zero)
			return nil, errors.ErrInvalidReferralCode
		}
		return nil, storeError(err)
	}

	now := s.Now()
	var tierFrom string
	err = s.inTx(ctx, func(r *txRepos) error {
		exists, lerr := r.conversions.ExistsByOrderID(ctx, orderID)
		if lerr != nil {
			return lerr
		}
		if exists {
			return errors.ErrDuplicateOrder
		}

		a, lerr := s.lockAffiliate(ctx, r, owner.ID)
		if lerr != nil {
			return lerr
		}
		if !a.IsActive() {
			return errors.ErrAffiliateSuspended
		}
		if _, lerr = s.refreshMonthAndTier(ctx, r, a, now); lerr != nil {
			return lerr
		}

		commission := money(req.Subtotal.Mul(a.CommissionRate))
		conversion = &models.Conversion{
			AffiliateID:      a.ID,
			OrderID:          orderID,
			Subtotal:         money(req.Subtotal),
			CommissionRate:   a.CommissionRate,
			CommissionAmount: commission,
			Status:           models.ConversionStatusPending,
			PurchasedAt:      now,
			HoldExpiresAt:    now.Add(s.rules.HoldPeriod),
		}
		if lerr = r.conversions.Create(ctx, conversion); lerr != nil {
			return lerr
		}

		a.LifetimeConversions++
		a.PendingEarnings = money(a.PendingEarnings.Add(commission))
		a.CurrentMonthSales++
		tierFrom = a.Tier
		if lerr = s.recalculate(ctx, r, a, SystemActor); lerr != nil {
			return lerr
		}
		if lerr = s.saveAffiliate(ctx, r, a); lerr != nil {
			return lerr
		}

		return s.audit(ctx, r, HookActor, auditEntry{
			entityType:  models.AuditEntityConversion,
			entityID:    conversion.ID,
			affiliateID: a.ID,
			action:      models.AuditActionConvert,
			to:          models.ConversionStatusPending,
			amount:      amountPtr(commission),
			detail:      "order " + orderID,
		})
	})
	if err != nil {
		err = s.duplicateOrStore(ctx, orderID, err)
		switch {
		case errors.Is(err, errors.ErrDuplicateOrder):
			s.metrics.RecordConversion(conversionDuplicate, decimal.Zero)
		case errors.Is(err, errors.ErrAffiliateSuspended):
			s.metrics.RecordConversion(conversionRejected, decimal.Zero)
		}
		return nil, err
	}

	s.metrics.RecordConversion(conversionRecorded, conversion.CommissionAmount)
	s.log.Info("conversion recorded",
		logger.AffiliateID(conversion.AffiliateID),
		logger.ConversionID(conversion.ID),
		logger.OrderID(orderID),
		logger.Amount(conversion.CommissionAmount),
		zap.String("rate", conversion.CommissionRate.String()),
		zap.String("tier_before", tierFrom),
	)
	return conversion, nil
}

// duplicateOrStore 并发插入同一订单时唯一索引冲突，按重复订单返回
func (s *ConversionService) duplicateOrStore(ctx context.Context, orderID string, err error) error {
	if !errors.Is(err, errors.ErrStoreUnavailable) {
		return err
	}
	exists, cerr := s.conversions.ExistsByOrderID(ctx, orderID)
	if cerr == nil && exists {
		return errors.ErrDuplicateOrder
	}
	return err
}

// ReversalResult 冲销结果
type ReversalResult struct {
	Conversion             *models.Conversion `json:"conversion"`
	FromStatus             string             `json:"from_status"`
	ReconciliationRequired bool               `json:"reconciliation_required"`
	Shortfall              decimal.Decimal    `json:"shortfall"`
}

// ReverseByOrderID 订单退款时冲销对应转化
func (s *ConversionService) ReverseByOrderID(ctx context.Context, orderID string) (*ReversalResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.ErrInvalidParams.WithMessage("无效的订单号")
	}
	c, err := s.conversions.GetByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrConversionNotFound
		}
		return nil, storeError(err)
	}
	return s.reverse(ctx, c.ID, HookActor)
}

// ReverseConversion 管理员手动冲销转化
func (s *ConversionService) ReverseConversion(ctx context.Context, conversionID, adminID int64) (*ReversalResult, error) {
	return s.reverse(ctx, conversionID, AdminActor(adminID))
}

// reverse 冲销转化
// 待结算：扣减待结算收益；已结算或已支付：扣减可用余额，不足部分截断为 0 并标记人工对账
func (s *ConversionService) reverse(ctx context.Context, conversionID int64, actor Actor) (result *ReversalResult, err error) {
	ctx, span := tracing.Start(ctx, "affiliate.ReverseConversion", tracing.WithConversionID(conversionID))
	defer func() { tracing.End(span, err) }()

	now := s.Now()
	result = &ReversalResult{Shortfall: decimal.Zero}
	var balanceAfter decimal.Decimal

	err = s.inTx(ctx, func(r *txRepos) error {
		c, lerr := r.conversions.GetByID(ctx, conversionID)
		if lerr != nil {
			if errors.Is(lerr, gorm.ErrRecordNotFound) {
				return errors.ErrConversionNotFound
			}
			return lerr
		}
		a, lerr := s.lockAffiliate(ctx, r, c.AffiliateID)
		if lerr != nil {
			return lerr
		}
		// 加锁后重新读取，拿到最新状态
		if c, lerr = r.conversions.GetByID(ctx, conversionID); lerr != nil {
			return lerr
		}

		amount := c.CommissionAmount
		switch c.Status {
		case models.ConversionStatusReversed:
			return errors.ErrConversionReversed
		case models.ConversionStatusPending:
			a.PendingEarnings = money(a.PendingEarnings.Sub(amount))
		case models.ConversionStatusCleared, models.ConversionStatusPaid:
			a.LifetimeEarnings = money(a.LifetimeEarnings.Sub(amount))
			if a.AvailableBalance.GreaterThanOrEqual(amount) {
				a.AvailableBalance = money(a.AvailableBalance.Sub(amount))
			} else {
				shortfall := money(amount.Sub(a.AvailableBalance))
				a.AvailableBalance = decimal.Zero
				a.ReconciliationRequired = true
				a.ReconciliationShortfall = money(a.ReconciliationShortfall.Add(shortfall))
				a.LedgerAdjustment = money(a.LedgerAdjustment.Add(shortfall))
				result.ReconciliationRequired = true
				result.Shortfall = shortfall
			}
		default:
			return errors.ErrInvalidParams.WithMessage("未知的转化状态: " + c.Status)
		}

		ok, lerr := r.conversions.Reverse(ctx, c.ID, c.Status, now)
		if lerr != nil {
			return lerr
		}
		if !ok {
			return errors.ErrConcurrentModification
		}
		if lerr = s.saveAffiliate(ctx, r, a); lerr != nil {
			return lerr
		}

		result.FromStatus = c.Status
		c.Status = models.ConversionStatusReversed
		c.ReversedAt = &now
		result.Conversion = c
		balanceAfter = a.AvailableBalance

		lerr = s.audit(ctx, r, actor, auditEntry{
			entityType:  models.AuditEntityConversion,
			entityID:    c.ID,
			affiliateID: a.ID,
			action:      models.AuditActionReverse,
			from:        result.FromStatus,
			to:          models.ConversionStatusReversed,
			amount:      amountPtr(amount),
		})
		if lerr != nil || !result.ReconciliationRequired {
			return lerr
		}
		return s.audit(ctx, r, actor, auditEntry{
			entityType:  models.AuditEntityAffiliate,
			entityID:    a.ID,
			affiliateID: a.ID,
			action:      models.AuditActionReconcileFlag,
			amount:      amountPtr(result.Shortfall),
			detail:      "reversal exceeds available balance, conversion " + c.OrderID,
		})
	})
	if err != nil {
		return nil, err
	}

	c := result.Conversion
	s.metrics.RecordReversal(strings.ToLower(result.FromStatus), c.CommissionAmount)
	s.log.Info("conversion reversed",
		logger.AffiliateID(c.AffiliateID),
		logger.ConversionID(c.ID),
		logger.OrderID(c.OrderID),
		logger.Status(result.FromStatus, models.ConversionStatusReversed),
		logger.Amount(c.CommissionAmount),
	)

	if result.ReconciliationRequired {
		s.metrics.RecordReconciliationFlag()
		s.log.Warn("reconciliation required",
			logger.AffiliateID(c.AffiliateID),
			logger.ConversionID(c.ID),
			zap.String("shortfall", result.Shortfall.StringFixed(2)),
			zap.String("balance", balanceAfter.StringFixed(2)),
		)
		event := notify.NewEvent(notify.EventReconciliationRequired, c.AffiliateID, result.Shortfall, models.ConversionStatusReversed, now)
		event.ConversionID = c.ID
		s.publish(ctx, event)
	}
	return result, nil
}
