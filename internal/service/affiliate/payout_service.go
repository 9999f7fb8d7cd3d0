package affiliate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dumeirei/affiliate-ledger/internal/common/errors"
	"github.com/dumeirei/affiliate-ledger/internal/common/logger"
	"github.com/dumeirei/affiliate-ledger/internal/common/tracing"
	"github.com/dumeirei/affiliate-ledger/internal/common/utils"
	"github.com/dumeirei/affiliate-ledger/internal/models"
	"github.com/dumeirei/affiliate-ledger/internal/notify"
)

// PayoutNoPrefix 提现单号前缀
const PayoutNoPrefix = "PO"

// PayoutService 提现结算服务
//
// 状态机: PENDING -> COMPLETED | REJECTED，两者均为终态
type PayoutService struct {
	*Ledger
}

// NewPayoutService 创建提现结算服务
func NewPayoutService(l *Ledger) *PayoutService {
	return &PayoutService{Ledger: l}
}

// Request 申请提现，金额为结算后的全部可用余额
// 到期转化先在独立事务中结算，申请被拒绝时结算结果依然保留
func (s *PayoutService) Request(ctx context.Context, affiliateID int64) (payout *models.Payout, err error) {
	ctx, span := tracing.Start(ctx, "affiliate.RequestPayout", tracing.WithAffiliateID(affiliateID))
	defer func() { tracing.End(span, err) }()

	now := s.Now()
	if _, err = s.commitClearing(ctx, affiliateID, now); err != nil {
		return nil, err
	}

	err = s.inTx(ctx, func(r *txRepos) error {
		a, lerr := s.lockAffiliate(ctx, r, affiliateID)
		if lerr != nil {
			return lerr
		}
		if !a.IsActive() {
			return errors.ErrAffiliateSuspended
		}
		// 有未对账的冲销差额时冻结提现，由管理员调账解除
		if a.ReconciliationRequired {
			return errors.ErrReconciliationRequired.WithMessage("账户待对账，暂不能提现")
		}

		open, lerr := r.payouts.CountPendingByAffiliate(ctx, a.ID)
		if lerr != nil {
			return lerr
		}
		if open > 0 {
			return errors.ErrPendingPayoutExists
		}
		if a.AvailableBalance.LessThan(s.rules.MinPayout) || !a.AvailableBalance.IsPositive() {
			return errors.ErrBelowMinimumPayout.WithMessage(fmt.Sprintf(
				"可用余额 %s 未达到最低提现金额 %s",
				a.AvailableBalance.StringFixed(2), s.rules.MinPayout.StringFixed(2),
			))
		}
		if !a.HasPayoutMethod() {
			return errors.ErrPayoutMethodNotConfigured
		}

		guard := a.ID
		payout = &models.Payout{
			PayoutNo:     utils.GenerateOrderNo(PayoutNoPrefix),
			AffiliateID:  a.ID,
			Amount:       a.AvailableBalance,
			Status:       models.PayoutStatusPending,
			Method:       a.PayoutMethod,
			Destination:  a.PayoutDestination,
			PendingGuard: &guard,
			RequestedAt:  now,
		}
		if lerr = r.payouts.Create(ctx, payout); lerr != nil {
			return lerr
		}
		if _, lerr = r.conversions.AttachToPayout(ctx, a.ID, payout.ID); lerr != nil {
			return lerr
		}

		a.AvailableBalance = decimal.Zero
		if lerr = s.saveAffiliate(ctx, r, a); lerr != nil {
			return lerr
		}
		return s.audit(ctx, r, AffiliateActor(a.ID), auditEntry{
			entityType:  models.AuditEntityPayout,
			entityID:    payout.ID,
			affiliateID: a.ID,
			action:      models.AuditActionPayoutRequest,
			to:          models.PayoutStatusPending,
			amount:      amountPtr(payout.Amount),
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordPayout(strings.ToLower(models.PayoutStatusPending), payout.Amount)
	s.log.Info("payout requested",
		logger.AffiliateID(affiliateID),
		logger.PayoutID(payout.ID),
		logger.Amount(payout.Amount),
	)
	s.publishPayout(ctx, notify.EventPayoutRequested, payout, now)
	return payout, nil
}

// Complete 管理员确认已打款
func (s *PayoutService) Complete(ctx context.Context, payoutID int64, transactionRef string, adminID int64) (payout *models.Payout, err error) {
	ctx, span := tracing.Start(ctx, "affiliate.CompletePayout", tracing.WithPayoutID(payoutID))
	defer func() { tracing.End(span, err) }()

	transactionRef = strings.TrimSpace(transactionRef)
	if transactionRef == "" {
		return nil, errors.ErrTransactionRefRequired
	}

	now := s.Now()
	err = s.inTx(ctx, func(r *txRepos) error {
		var lerr error
		payout, _, lerr = s.lockPayout(ctx, r, payoutID)
		if lerr != nil {
			return lerr
		}
		switch payout.Status {
		case models.PayoutStatusCompleted:
			return errors.ErrPayoutAlreadyCompleted
		case models.PayoutStatusRejected:
			return errors.ErrPayoutRejected
		}

		ok, lerr := r.payouts.Complete(ctx, payout.ID, transactionRef, adminID, now)
		if lerr != nil {
			return lerr
		}
		if !ok {
			return errors.ErrConcurrentModification
		}
		if _, lerr = r.conversions.MarkPaidByPayout(ctx, payout.ID); lerr != nil {
			return lerr
		}

		payout.Status = models.PayoutStatusCompleted
		payout.TransactionRef = &transactionRef
		payout.ProcessedAt = &now
		payout.ProcessedBy = &adminID
		payout.PendingGuard = nil

		return s.audit(ctx, r, AdminActor(adminID), auditEntry{
			entityType:  models.AuditEntityPayout,
			entityID:    payout.ID,
			affiliateID: payout.AffiliateID,
			action:      models.AuditActionPayoutComplete,
			from:        models.PayoutStatusPending,
			to:          models.PayoutStatusCompleted,
			amount:      amountPtr(payout.Amount),
			detail:      "transaction_ref " + transactionRef,
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordPayout(strings.ToLower(models.PayoutStatusCompleted), payout.Amount)
	s.log.Info("payout completed",
		logger.AffiliateID(payout.AffiliateID),
		logger.PayoutID(payout.ID),
		logger.AdminID(adminID),
		logger.Amount(payout.Amount),
	)
	s.publishPayout(ctx, notify.EventPayoutCompleted, payout, now)
	return payout, nil
}

// Reject 管理员驳回提现，申请金额退回可用余额
func (s *PayoutService) Reject(ctx context.Context, payoutID int64, reason string, adminID int64) (payout *models.Payout, err error) {
	ctx, span := tracing.Start(ctx, "affiliate.RejectPayout", tracing.WithPayoutID(payoutID))
	defer func() { tracing.End(span, err) }()

	reason = strings.TrimSpace(reason)
	if len(reason) > 255 {
		return nil, errors.ErrInvalidParams.WithMessage("驳回原因过长")
	}

	now := s.Now()
	err = s.inTx(ctx, func(r *txRepos) error {
		var a *models.Affiliate
		var lerr error
		payout, a, lerr = s.lockPayout(ctx, r, payoutID)
		if lerr != nil {
			return lerr
		}
		switch payout.Status {
		case models.PayoutStatusCompleted:
			return errors.ErrPayoutAlreadyCompleted
		case models.PayoutStatusRejected:
			return errors.ErrPayoutAlreadyRejected
		}

		ok, lerr := r.payouts.Reject(ctx, payout.ID, reason, adminID, now)
		if lerr != nil {
			return lerr
		}
		if !ok {
			return errors.ErrConcurrentModification
		}
		if _, lerr = r.conversions.DetachFromPayout(ctx, payout.ID); lerr != nil {
			return lerr
		}

		a.AvailableBalance = money(a.AvailableBalance.Add(payout.Amount))
		if lerr = s.saveAffiliate(ctx, r, a); lerr != nil {
			return lerr
		}

		payout.Status = models.PayoutStatusRejected
		payout.RejectReason = &reason
		payout.ProcessedAt = &now
		payout.ProcessedBy = &adminID
		payout.PendingGuard = nil

		return s.audit(ctx, r, AdminActor(adminID), auditEntry{
			entityType:  models.AuditEntityPayout,
			entityID:    payout.ID,
			affiliateID: payout.AffiliateID,
			action:      models.AuditActionPayoutReject,
			from:        models.PayoutStatusPending,
			to:          models.PayoutStatusRejected,
			amount:      amountPtr(payout.Amount),
			detail:      reason,
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordPayout(strings.ToLower(models.PayoutStatusRejected), payout.Amount)
	s.log.Info("payout rejected",
		logger.AffiliateID(payout.AffiliateID),
		logger.PayoutID(payout.ID),
		logger.AdminID(adminID),
		logger.Amount(payout.Amount),
		zap.String("reason", reason),
	)
	s.publishPayout(ctx, notify.EventPayoutRejected, payout, now)
	return payout, nil
}

// lockPayout 读取提现并锁定其推广员，锁顺序与其他操作一致（先推广员）
func (s *PayoutService) lockPayout(ctx context.Context, r *txRepos, payoutID int64) (*models.Payout, *models.Affiliate, error) {
	payout, err := r.payouts.GetByID(ctx, payoutID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, errors.ErrPayoutNotFound
		}
		return nil, nil, err
	}
	a, err := s.lockAffiliate(ctx, r, payout.AffiliateID)
	if err != nil {
		return nil, nil, err
	}
	// 加锁后重新读取
	payout, err = r.payouts.GetByID(ctx, payoutID)
	if err != nil {
		return nil, nil, err
	}
	return payout, a, nil
}

func (s *PayoutService) publishPayout(ctx context.Context, eventType string, payout *models.Payout, at time.Time) {
	event := notify.NewEvent(eventType, payout.AffiliateID, payout.Amount, payout.Status, at)
	event.PayoutID = payout.ID
	s.publish(ctx, event)
}

// Get 获取提现申请
func (s *PayoutService) Get(ctx context.Context, payoutID int64) (*models.Payout, error) {
	payout, err := s.payouts.GetByIDWithAffiliate(ctx, payoutID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrPayoutNotFound
		}
		return nil, storeError(err)
	}
	return payout, nil
}

// PayoutDetail 管理端审核用的提现详情，附明文收款账号
type PayoutDetail struct {
	*models.Payout
	Destination string `json:"destination"`
}

// GetDetail 获取提现详情并解密收款账号
func (s *PayoutService) GetDetail(ctx context.Context, payoutID int64) (*PayoutDetail, error) {
	payout, err := s.Get(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	dest, err := s.decryptDestination(payout.Destination)
	if err != nil {
		s.log.Error("decrypt payout destination failed", logger.PayoutID(payout.ID), zap.Error(err))
		return nil, errors.ErrInternalError
	}
	return &PayoutDetail{Payout: payout, Destination: dest}, nil
}

// List 获取提现列表
func (s *PayoutService) List(ctx context.Context, offset, limit int, filters map[string]interface{}) ([]*models.Payout, int64, error) {
	list, total, err := s.payouts.List(ctx, offset, limit, filters)
	if err != nil {
		return nil, 0, storeError(err)
	}
	return list, total, nil
}
