package affiliate

import (
	"context"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dumeirei/affiliate-ledger/internal/common/errors"
	"github.com/dumeirei/affiliate-ledger/internal/common/logger"
	"github.com/dumeirei/affiliate-ledger/internal/common/tracing"
	"github.com/dumeirei/affiliate-ledger/internal/common/utils"
	"github.com/dumeirei/affiliate-ledger/internal/models"
)

// 推广码规则
const (
	referralCodeLength   = 8
	referralCodeAttempts = 5
)

var referralCodePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{4,32}$`)

// AffiliateService 推广员管理服务
type AffiliateService struct {
	*Ledger
}

// NewAffiliateService 创建推广员管理服务
func NewAffiliateService(l *Ledger) *AffiliateService {
	return &AffiliateService{Ledger: l}
}

// CreateAffiliateRequest 创建推广员请求
type CreateAffiliateRequest struct {
	UserID       int64  `json:"user_id" binding:"required"`
	Name         string `json:"name" binding:"required,max=100"`
	Email        string `json:"email" binding:"omitempty,email,max=255"`
	ReferralCode string `json:"referral_code" binding:"omitempty"`
}

// Create 审核通过后创建推广员，未指定推广码时自动生成
func (s *AffiliateService) Create(ctx context.Context, req *CreateAffiliateRequest, adminID int64) (a *models.Affiliate, err error) {
	ctx, span := tracing.Start(ctx, "affiliate.Create")
	defer func() { tracing.End(span, err) }()

	name := strings.TrimSpace(req.Name)
	if req.UserID <= 0 || name == "" {
		return nil, errors.ErrInvalidParams
	}
	code := strings.ToUpper(strings.TrimSpace(req.ReferralCode))
	if code != "" && !referralCodePattern.MatchString(code) {
		return nil, errors.ErrInvalidReferralCode
	}

	now := s.Now()
	err = s.inTx(ctx, func(r *txRepos) error {
		if _, lerr := r.affiliates.GetByUserID(ctx, req.UserID); lerr == nil {
			return errors.ErrAffiliateExists
		} else if !errors.Is(lerr, gorm.ErrRecordNotFound) {
			return lerr
		}

		if code == "" {
			generated, lerr := s.generateReferralCode(ctx, r)
			if lerr != nil {
				return lerr
			}
			code = generated
		} else {
			exists, lerr := r.affiliates.ExistsByReferralCode(ctx, code)
			if lerr != nil {
				return lerr
			}
			if exists {
				return errors.ErrReferralCodeExists
			}
		}

		a = &models.Affiliate{
			UserID:                  req.UserID,
			Name:                    name,
			Email:                   strings.TrimSpace(req.Email),
			ReferralCode:            code,
			Status:                  models.AffiliateStatusActive,
			Tier:                    models.TierStarter,
			CommissionRate:          s.rules.StarterRate,
			LifetimeEarnings:        decimal.Zero,
			PendingEarnings:         decimal.Zero,
			AvailableBalance:        decimal.Zero,
			ReconciliationShortfall: decimal.Zero,
			LedgerAdjustment:        decimal.Zero,
			SalesMonth:              utils.MonthKey(now),
		}
		if lerr := r.affiliates.Create(ctx, a); lerr != nil {
			return lerr
		}
		return s.audit(ctx, r, AdminActor(adminID), auditEntry{
			entityType:  models.AuditEntityAffiliate,
			entityID:    a.ID,
			affiliateID: a.ID,
			action:      models.AuditActionCreate,
			to:          models.AffiliateStatusActive,
			detail:      "referral_code " + code,
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("affiliate created",
		logger.AffiliateID(a.ID),
		logger.AdminID(adminID),
		zap.String("referral_code", a.ReferralCode),
	)
	return a, nil
}

func (s *AffiliateService) generateReferralCode(ctx context.Context, r *txRepos) (string, error) {
	for i := 0; i < referralCodeAttempts; i++ {
		code := utils.GenerateInviteCode(referralCodeLength)
		exists, err := r.affiliates.ExistsByReferralCode(ctx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}
	return "", errors.ErrReferralCodeExists.WithMessage("推广码生成失败，请重试")
}

// SetStatus 停用或恢复推广员
func (s *AffiliateService) SetStatus(ctx context.Context, affiliateID int64, status string, adminID int64) (a *models.Affiliate, err error) {
	ctx, span := tracing.Start(ctx, "affiliate.SetStatus", tracing.WithAffiliateID(affiliateID))
	defer func() { tracing.End(span, err) }()

	if status != models.AffiliateStatusActive && status != models.AffiliateStatusSuspended {
		return nil, errors.ErrAffiliateStatusInvalid
	}

	var from string
	err = s.inTx(ctx, func(r *txRepos) error {
		var lerr error
		a, lerr = s.lockAffiliate(ctx, r, affiliateID)
		if lerr != nil {
			return lerr
		}
		from = a.Status
		if from == status {
			return nil
		}
		a.Status = status
		if lerr = s.saveAffiliate(ctx, r, a); lerr != nil {
			return lerr
		}
		return s.audit(ctx, r, AdminActor(adminID), auditEntry{
			entityType:  models.AuditEntityAffiliate,
			entityID:    a.ID,
			affiliateID: a.ID,
			action:      models.AuditActionStatusChange,
			from:        from,
			to:          status,
		})
	})
	if err != nil {
		return nil, err
	}
	if from != status {
		s.log.Info("affiliate status changed",
			logger.AffiliateID(affiliateID),
			logger.AdminID(adminID),
			logger.Status(from, status),
		)
	}
	return a, nil
}

// SetPayoutMethodRequest 设置收款方式
type SetPayoutMethodRequest struct {
	Method      string `json:"method" binding:"required"`
	Destination string `json:"destination" binding:"required,max=255"`
}

// SetPayoutMethod 推广员设置收款方式，账号加密存储
func (s *AffiliateService) SetPayoutMethod(ctx context.Context, affiliateID int64, req *SetPayoutMethodRequest) (a *models.Affiliate, err error) {
	ctx, span := tracing.Start(ctx, "affiliate.SetPayoutMethod", tracing.WithAffiliateID(affiliateID))
	defer func() { tracing.End(span, err) }()

	destination := strings.TrimSpace(req.Destination)
	switch req.Method {
	case models.PayoutMethodPayPal:
		if !strings.Contains(destination, "@") {
			return nil, errors.ErrInvalidParams.WithMessage("PayPal 收款账号须为邮箱")
		}
	case models.PayoutMethodBank:
		if len(destination) < 4 {
			return nil, errors.ErrInvalidParams.WithMessage("银行账号格式错误")
		}
	default:
		return nil, errors.ErrInvalidPayoutMethod
	}
	if destination == "" || len(destination) > 255 {
		return nil, errors.ErrInvalidParams.WithMessage("收款账号格式错误")
	}

	stored := destination
	if s.cipher != nil {
		if stored, err = s.cipher.Encrypt(destination); err != nil {
			return nil, errors.ErrInternalError.WithError(err)
		}
	}

	err = s.inTx(ctx, func(r *txRepos) error {
		var lerr error
		a, lerr = s.lockAffiliate(ctx, r, affiliateID)
		if lerr != nil {
			return lerr
		}
		a.PayoutMethod = req.Method
		a.PayoutDestination = stored
		if lerr = s.saveAffiliate(ctx, r, a); lerr != nil {
			return lerr
		}
		return s.audit(ctx, r, AffiliateActor(affiliateID), auditEntry{
			entityType:  models.AuditEntityAffiliate,
			entityID:    a.ID,
			affiliateID: a.ID,
			action:      models.AuditActionPayoutMethodSet,
			to:          req.Method,
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("payout method set", logger.AffiliateID(affiliateID), zap.String("method", req.Method))
	return a, nil
}

func (l *Ledger) decryptDestination(stored string) (string, error) {
	if stored == "" || l.cipher == nil {
		return stored, nil
	}
	return l.cipher.Decrypt(stored)
}

// AdjustBalanceRequest 人工调账
type AdjustBalanceRequest struct {
	Amount  decimal.Decimal `json:"amount"`
	Reason  string          `json:"reason" binding:"required,max=255"`
	Resolve bool            `json:"resolve"`
}

// AdjustBalance 人工调整可用余额
// 扣减时优先抵消对账缺口；resolve 为 true 时清除对账标记
func (s *AffiliateService) AdjustBalance(ctx context.Context, affiliateID int64, req *AdjustBalanceRequest, adminID int64) (a *models.Affiliate, err error) {
	ctx, span := tracing.Start(ctx, "affiliate.AdjustBalance", tracing.WithAffiliateID(affiliateID))
	defer func() { tracing.End(span, err) }()

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, errors.ErrInvalidParams.WithMessage("请填写调账原因")
	}
	if !req.Amount.Equal(req.Amount.Round(2)) {
		return nil, errors.ErrInvalidParams.WithMessage("金额最多两位小数")
	}
	if req.Amount.IsZero() && !req.Resolve {
		return nil, errors.ErrInvalidParams.WithMessage("调账金额不能为0")
	}
	amount := money(req.Amount)

	err = s.inTx(ctx, func(r *txRepos) error {
		var lerr error
		a, lerr = s.lockAffiliate(ctx, r, affiliateID)
		if lerr != nil {
			return lerr
		}
		balance := money(a.AvailableBalance.Add(amount))
		if balance.IsNegative() {
			return errors.ErrInsufficientBalance
		}

		a.AvailableBalance = balance
		a.LedgerAdjustment = money(a.LedgerAdjustment.Add(amount))
		if amount.IsNegative() {
			recovered := decimal.Min(amount.Neg(), a.ReconciliationShortfall)
			a.ReconciliationShortfall = money(a.ReconciliationShortfall.Sub(recovered))
		}
		if req.Resolve {
			a.ReconciliationRequired = false
			a.ReconciliationShortfall = decimal.Zero
		}
		if lerr = s.saveAffiliate(ctx, r, a); lerr != nil {
			return lerr
		}
		return s.audit(ctx, r, AdminActor(adminID), auditEntry{
			entityType:  models.AuditEntityAffiliate,
			entityID:    a.ID,
			affiliateID: a.ID,
			action:      models.AuditActionAdjust,
			amount:      amountPtr(amount),
			detail:      reason,
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("balance adjusted",
		logger.AffiliateID(affiliateID),
		logger.AdminID(adminID),
		logger.Amount(amount),
		zap.Bool("resolve", req.Resolve),
	)
	return a, nil
}

// LedgerCheck 账本核对结果
type LedgerCheck struct {
	AffiliateID       int64           `json:"affiliate_id"`
	AvailableBalance  decimal.Decimal `json:"available_balance"`
	ExpectedBalance   decimal.Decimal `json:"expected_balance"`
	ClearedCommission decimal.Decimal `json:"cleared_commission"`
	SweptPayouts      decimal.Decimal `json:"swept_payouts"`
	LedgerAdjustment  decimal.Decimal `json:"ledger_adjustment"`
	PendingEarnings   decimal.Decimal `json:"pending_earnings"`
	ExpectedPending   decimal.Decimal `json:"expected_pending"`
	Consistent        bool            `json:"consistent"`
}

// VerifyLedger 按转化与提现明细重算余额并与账户比对
// 期望余额 = 已结算及已支付佣金 - 待处理及已完成提现 + 调整累计
func (s *AffiliateService) VerifyLedger(ctx context.Context, affiliateID int64) (check *LedgerCheck, err error) {
	ctx, span := tracing.Start(ctx, "affiliate.VerifyLedger", tracing.WithAffiliateID(affiliateID))
	defer func() { tracing.End(span, err) }()

	err = s.inTx(ctx, func(r *txRepos) error {
		a, lerr := s.lockAffiliate(ctx, r, affiliateID)
		if lerr != nil {
			return lerr
		}
		earned, lerr := r.conversions.ListByAffiliateAndStatus(ctx, a.ID, models.ConversionStatusCleared, models.ConversionStatusPaid)
		if lerr != nil {
			return lerr
		}
		pending, lerr := r.conversions.ListByAffiliateAndStatus(ctx, a.ID, models.ConversionStatusPending)
		if lerr != nil {
			return lerr
		}
		swept, lerr := r.payouts.ListByAffiliateAndStatus(ctx, a.ID, models.PayoutStatusPending, models.PayoutStatusCompleted)
		if lerr != nil {
			return lerr
		}

		check = &LedgerCheck{
			AffiliateID:       a.ID,
			AvailableBalance:  a.AvailableBalance,
			ClearedCommission: decimal.Zero,
			SweptPayouts:      decimal.Zero,
			LedgerAdjustment:  a.LedgerAdjustment,
			PendingEarnings:   a.PendingEarnings,
			ExpectedPending:   decimal.Zero,
		}
		for _, c := range earned {
			check.ClearedCommission = check.ClearedCommission.Add(c.CommissionAmount)
		}
		for _, c := range pending {
			check.ExpectedPending = check.ExpectedPending.Add(c.CommissionAmount)
		}
		for _, p := range swept {
			check.SweptPayouts = check.SweptPayouts.Add(p.Amount)
		}
		check.ExpectedBalance = money(check.ClearedCommission.Sub(check.SweptPayouts).Add(a.LedgerAdjustment))
		check.Consistent = check.ExpectedBalance.Equal(a.AvailableBalance) &&
			check.ExpectedPending.Equal(a.PendingEarnings)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !check.Consistent {
		s.log.Error("ledger mismatch",
			logger.AffiliateID(affiliateID),
			zap.String("balance", check.AvailableBalance.StringFixed(2)),
			zap.String("expected", check.ExpectedBalance.StringFixed(2)),
			zap.String("pending", check.PendingEarnings.StringFixed(2)),
			zap.String("expected_pending", check.ExpectedPending.StringFixed(2)),
		)
	}
	return check, nil
}

// Get 获取推广员
func (s *AffiliateService) Get(ctx context.Context, affiliateID int64) (*models.Affiliate, error) {
	return s.getAffiliate(ctx, affiliateID)
}

// List 获取推广员列表
func (s *AffiliateService) List(ctx context.Context, offset, limit int, filters map[string]interface{}) ([]*models.Affiliate, int64, error) {
	list, total, err := s.affiliates.List(ctx, offset, limit, filters)
	if err != nil {
		return nil, 0, storeError(err)
	}
	return list, total, nil
}
