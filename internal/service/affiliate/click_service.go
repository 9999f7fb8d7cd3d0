package affiliate

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dumeirei/affiliate-ledger/internal/common/errors"
	"github.com/dumeirei/affiliate-ledger/internal/common/logger"
	"github.com/dumeirei/affiliate-ledger/internal/common/ratelimit"
	"github.com/dumeirei/affiliate-ledger/internal/models"
)

// 点击指标标签
const (
	clickCounted   = "counted"
	clickThrottled = "throttled"
	clickIgnored   = "ignored"
)

// ClickService 推广链接点击服务
type ClickService struct {
	*Ledger
	limiter *ratelimit.Limiter
}

// NewClickService 创建点击服务，limiter 为空时不限流
func NewClickService(l *Ledger, limiter *ratelimit.Limiter) *ClickService {
	return &ClickService{Ledger: l, limiter: limiter}
}

// ClickRequest 点击上报
type ClickRequest struct {
	ReferralCode string `json:"referral_code" binding:"required"`
	LandingURL   string `json:"landing_url"`
	IP           string `json:"-"`
	UserAgent    string `json:"-"`
}

// ClickResult 点击结果
type ClickResult struct {
	Counted bool `json:"counted"`
}

// RecordClick 记录点击，同一 IP 对同一推广码在窗口内超限的点击直接丢弃
func (s *ClickService) RecordClick(ctx context.Context, req *ClickRequest) (*ClickResult, error) {
	code := strings.TrimSpace(req.ReferralCode)
	if code == "" {
		return nil, errors.ErrInvalidReferralCode
	}

	a, err := s.affiliates.GetByReferralCode(ctx, code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.ErrInvalidReferralCode
		}
		return nil, storeError(err)
	}
	if !a.IsActive() {
		s.metrics.RecordClick(clickIgnored)
		return &ClickResult{Counted: false}, nil
	}

	if s.limiter != nil {
		res, lerr := s.limiter.Allow(ctx, code+":"+req.IP)
		if lerr != nil {
			// Redis 不可用时放行
			s.log.Warn("click limiter unavailable", zap.Error(lerr))
		} else if !res.Allowed {
			s.metrics.RecordClick(clickThrottled)
			return &ClickResult{Counted: false}, nil
		}
	}

	click := &models.AffiliateClick{
		AffiliateID: a.ID,
		IP:          truncate(req.IP, 45),
		UserAgent:   truncate(req.UserAgent, 255),
		LandingURL:  truncate(req.LandingURL, 512),
		CreatedAt:   s.Now(),
	}
	err = s.inTx(ctx, func(r *txRepos) error {
		if lerr := r.clicks.Create(ctx, click); lerr != nil {
			return lerr
		}
		return r.affiliates.IncrementClicks(ctx, a.ID)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordClick(clickCounted)
	s.log.Debug("click recorded", logger.AffiliateID(a.ID), logger.IP(req.IP))
	return &ClickResult{Counted: true}, nil
}

// truncate 按字节上限截断，不拆分多字节字符
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
